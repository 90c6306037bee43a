package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/engine"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
)

// RunCommand is the entry point for the bridge itself: subscribe, translate
// on the poll cadence, and stream canonical observations to stdout, one JSON
// record per line, for the consuming station driver to read.
func RunCommand(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	applyFlags(cfg, ctx)
	return run(ctx.Context, cfg)
}

func applyFlags(cfg *config.Config, ctx *cli.Context) {
	if ctx.IsSet("mqtt-host") {
		cfg.Broker.Host = ctx.String("mqtt-host")
	}
	if ctx.IsSet("mqtt-port") {
		cfg.Broker.Port = ctx.Int("mqtt-port")
	}
	if ctx.IsSet("mqtt-topic") {
		cfg.Broker.Topic = ctx.String("mqtt-topic")
	}
	if ctx.IsSet("mqtt-user") {
		cfg.Broker.Username = ctx.String("mqtt-user")
	}
	if ctx.IsSet("mqtt-pass") {
		cfg.Broker.Password = ctx.String("mqtt-pass")
	}
	if ctx.IsSet("poll-interval") {
		cfg.PollInterval = ctx.Duration("poll-interval")
	}
	if ctx.IsSet("mapping-file") {
		cfg.MappingFile = ctx.String("mapping-file")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	// Sync can fail on stderr; nothing to do about it at exit.
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	mappings, err := config.LoadMappings(cfg.MappingFile)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, mappings)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return housekeeping(ctx, eng, cfg.StatsSchedule)
	})

	eg.Go(func() error {
		enc := json.NewEncoder(os.Stdout)
		for obs, err := range eng.Emitter().Loop(ctx) {
			if err != nil {
				logger.Error("observation loop failed", zap.Error(err))
				return err
			}
			if err := enc.Encode(record(obs)); err != nil {
				return err
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger. Everything goes to stderr because
// stdout is reserved for observation records.
func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = lvl
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// housekeeping runs the engine's stats/eviction job on the configured cron
// schedule until the context ends.
func housekeeping(ctx context.Context, eng *engine.Engine, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		eng.Housekeep(time.Now())
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	<-ctx.Done()
	return ctx.Err()
}

type outputRecord struct {
	DateTime int64              `json:"dateTime"`
	USUnits  int                `json:"usUnits"`
	Device   string             `json:"device"`
	Fields   map[string]float64 `json:"fields"`
}

func record(obs model.CanonicalObservation) outputRecord {
	return outputRecord{
		DateTime: obs.Timestamp.Unix(),
		USUnits:  obs.Units.Code(),
		Device:   obs.DeviceSlug,
		Fields:   obs.Fields,
	}
}
