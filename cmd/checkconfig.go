package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/mapping"
)

// CheckConfigCommand parses the mapping file and prints the resolved rule
// table, exiting non-zero on any invalid specifier. Useful before restarting
// a live station.
func CheckConfigCommand(ctx *cli.Context) error {
	path := ctx.String("mapping-file")
	if path == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		path = cfg.MappingFile
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	mappings, err := config.LoadMappings(path)
	if err != nil {
		return err
	}
	table, err := mapping.New(mappings)
	if err != nil {
		return err
	}

	fmt.Printf("units: %s (code %d)\n", table.Units(), table.Units().Code())
	for _, mdl := range table.Models() {
		fmt.Printf("model %s:\n", mdl)
		for _, rule := range table.RulesFor(mdl) {
			fmt.Printf("  %s\n", rule)
		}
	}
	return nil
}
