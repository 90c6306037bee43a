package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the engine needs at startup. Scalar settings come
// from the environment (with CLI flag overrides applied in cmd); the nested
// model-mapping section lives in a separate YAML file, see mappings.go.
type Config struct {
	Broker BrokerConfig

	// PollInterval is the cadence at which the host pulls observations.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`

	// StalenessFactor, multiplied by PollInterval, gives the maximum age of a
	// stored reading before it is excluded from poll output.
	StalenessFactor float64 `env:"STALENESS_FACTOR" envDefault:"3"`

	// RetentionWindow bounds how long a silent device stays in the store at
	// all. Entries older than this are evicted by the housekeeping job.
	RetentionWindow time.Duration `env:"RETENTION_WINDOW" envDefault:"24h"`

	// StatsSchedule is a cron spec for periodic engine-stats logging.
	StatsSchedule string `env:"STATS_SCHEDULE" envDefault:"@every 1m"`

	MappingFile string `env:"MAPPING_FILE"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type BrokerConfig struct {
	Host      string        `env:"MQTT_HOST"`
	Port      int           `env:"MQTT_PORT" envDefault:"1883"`
	Topic     string        `env:"MQTT_TOPIC"`
	Username  string        `env:"MQTT_USER"`
	Password  string        `env:"MQTT_PASS"`
	ClientID  string        `env:"MQTT_CLIENT_ID"`
	QoS       byte          `env:"MQTT_QOS" envDefault:"0"`
	KeepAlive time.Duration `env:"MQTT_KEEPALIVE" envDefault:"60s"`
	TLS       bool          `env:"MQTT_TLS"`
	CACert    string        `env:"MQTT_CA_CERT"`
}

// FromEnv builds a Config from the process environment with defaults applied.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.New("mqtt host is required")
	}
	if c.Broker.Topic == "" {
		return errors.New("mqtt topic is required")
	}
	if c.MappingFile == "" {
		return errors.New("mapping file is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.StalenessFactor < 1 {
		return errors.New("staleness factor must be at least 1")
	}
	if c.Broker.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.Broker.QoS)
	}
	return nil
}

// StalenessWindow is the maximum age of a stored reading before the translator
// skips it.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessFactor * float64(c.PollInterval))
}
