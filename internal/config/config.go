package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultListen        = "0.0.0.0:8080"
	defaultStaleTTL      = 1800
	defaultEvictInterval = 60
	defaultFlushInterval = 300
	defaultQueueSize     = 256
	defaultMaxAttempts   = 3
	defaultDBPath        = "/var/lib/telemetryd/stats.db"
)

type Config struct {
	Listen        string            `mapstructure:"listen"`
	LogLevel      string            `mapstructure:"log_level"`
	Debug         bool              `mapstructure:"debug"`
	Verbose       bool              `mapstructure:"verbose"`
	StaleTTL      int               `mapstructure:"stale_ttl"`
	EvictInterval int               `mapstructure:"evict_interval"`
	FlushInterval int               `mapstructure:"flush_interval"`
	QueueSize     int               `mapstructure:"queue_size"`
	MaxAttempts   int               `mapstructure:"max_attempts"`
	WebhookURL    string            `mapstructure:"webhook_url"`
	Persistence   bool              `mapstructure:"persistence"`
	Database      string            `mapstructure:"database"`
	Users         map[string]string `mapstructure:"users"`
	Rules         []Rule            `mapstructure:"rules"`
}

// Rule is the on-disk form of a notification rule. The notify package
// compiles it into an evaluator.
type Rule struct {
	Metric    string  `mapstructure:"metric"`
	Operator  string  `mapstructure:"operator"`
	Threshold float64 `mapstructure:"threshold"`
	Cooldown  int     `mapstructure:"cooldown"`
}

func Load() (*Config, error) {
	errFactory := errors.New()
	config := &Config{}

	fs := pflag.NewFlagSet("telemetryd", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	configFlag := fs.String("config", "", "Path to config file")
	listenFlag := fs.String("listen", "", "Listen address")
	logLevelFlag := fs.String("log-level", "", "Log level (debug, info, warning, error)")
	debugFlag := fs.Bool("debug", false, "Enable debugging mode")
	verboseFlag := fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("listen", defaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("stale_ttl", defaultStaleTTL)
	v.SetDefault("evict_interval", defaultEvictInterval)
	v.SetDefault("flush_interval", defaultFlushInterval)
	v.SetDefault("queue_size", defaultQueueSize)
	v.SetDefault("max_attempts", defaultMaxAttempts)
	v.SetDefault("persistence", false)
	v.SetDefault("database", defaultDBPath)

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("TELEMETRYD_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("telemetryd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TELEMETRYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// An explicitly named file must exist and parse
			if configPath != "" || !os.IsNotExist(err) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	// Command line flags override file and environment values
	if *listenFlag != "" {
		v.Set("listen", *listenFlag)
	}
	if *logLevelFlag != "" {
		v.Set("log_level", *logLevelFlag)
	}
	if *debugFlag {
		v.Set("debug", true)
	}
	if *verboseFlag {
		v.Set("verbose", true)
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.StaleTTL <= 0 || c.EvictInterval <= 0 || c.FlushInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			StaleTTL      int
			EvictInterval int
			FlushInterval int
		}{c.StaleTTL, c.EvictInterval, c.FlushInterval})
	}

	if c.QueueSize <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "queue_size must be positive")
	}

	if c.MaxAttempts <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "max_attempts must be positive")
	}

	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (r *Rule) Validate() error {
	errFactory := errors.New()

	if r.Metric == "" {
		return errFactory.WithMessage(errors.ErrInvalidRule, "rule metric must not be empty")
	}

	switch r.Operator {
	case ">", "<", ">=", "<=", "==":
	default:
		return errFactory.WithData(errors.ErrInvalidRule, r.Operator)
	}

	if r.Cooldown < 0 {
		return errFactory.WithMessage(errors.ErrInvalidRule, "rule cooldown must not be negative")
	}

	return nil
}
