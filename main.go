package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kroy-the-rabbit/weewx-mqtt/cmd"
)

func main() {
	app := &cli.App{
		Name:   "weewx-mqtt",
		Usage:  "bridge MQTT sensor telemetry into polled weather-station records",
		Action: cmd.RunCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
			},
			&cli.IntFlag{
				Name:    "mqtt-port",
				EnvVars: []string{"MQTT_PORT"},
				Value:   1883,
			},
			&cli.StringFlag{
				Name:    "mqtt-topic",
				EnvVars: []string{"MQTT_TOPIC"},
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				EnvVars: []string{"POLL_INTERVAL"},
				Value:   5 * time.Second,
			},
			&cli.StringFlag{
				Name:    "mapping-file",
				EnvVars: []string{"MAPPING_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "parse the mapping file and print the resolved rule table",
				Action: cmd.CheckConfigCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mapping-file",
						EnvVars: []string{"MAPPING_FILE"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
