// Package config loads the command-line settings of ftpget.
//
// Settings come from flags only: viper supplies defaults and reads the bound
// flag set. No configuration file or environment variable is consulted.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultControlPort = 21
)

type Config struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	LogLevel  string        `mapstructure:"log_level"`
	LimitRate string        `mapstructure:"limit_rate"`
	Strict    bool          `mapstructure:"strict"`

	// ControlPort is hidden from help output; URLs cannot carry a port.
	ControlPort int `mapstructure:"control_port"`

	// BytesPerSecond is LimitRate decoded by validate; 0 means unlimited.
	BytesPerSecond int64 `mapstructure:"-"`
}

// flagKeys maps viper keys to flag names.
var flagKeys = map[string]string{
	"timeout":      "timeout",
	"log_level":    "log-level",
	"limit_rate":   "limit-rate",
	"strict":       "strict",
	"control_port": "control-port",
}

// AddFlags registers the settings on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.Duration("timeout", DefaultTimeout, "connect and per-read/write timeout (0 disables)")
	fs.String("log-level", DefaultLogLevel, "log level: debug, info, warn or error")
	fs.String("limit-rate", "", "maximum download rate in bytes per second, e.g. 512KiB (empty for unlimited)")
	fs.Bool("strict", true, "check reply codes (greeting, login, RETR); false trusts the server's ordering")
	fs.Int("control-port", DefaultControlPort, "command port of the server")
	_ = fs.MarkHidden("control-port")
}

// Load reads the settings from fs, which must have been set up by AddFlags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("limit_rate", "")
	v.SetDefault("strict", true)
	v.SetDefault("control_port", DefaultControlPort)

	for key, name := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("error binding flag --%s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}

	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		return fmt.Errorf("invalid control port %d", c.ControlPort)
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		c.LogLevel = DefaultLogLevel
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	c.BytesPerSecond = 0
	if rate := strings.TrimSpace(c.LimitRate); rate != "" {
		n, err := humanize.ParseBytes(rate)
		if err != nil {
			return fmt.Errorf("invalid limit rate %q: %w", c.LimitRate, err)
		}
		if n > math.MaxInt64 {
			return fmt.Errorf("limit rate %q is too large", c.LimitRate)
		}
		c.BytesPerSecond = int64(n)
	}

	return nil
}
