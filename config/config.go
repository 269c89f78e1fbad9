// Package config resolves runtime settings from defaults, PHONOLOOP_*
// environment variables and command-line overrides, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "PHONOLOOP"

type Config struct {
	Locale        string        `mapstructure:"locale" validate:"required"`
	Lang          string        `mapstructure:"lang" validate:"required"`
	Voice         string        `mapstructure:"voice"` // preferred voice ID or name
	Rate          float64       `mapstructure:"rate" validate:"gte=0.3,lte=1.4"`
	PauseMs       int           `mapstructure:"pause_ms" validate:"gte=0,lte=1500"`
	LeadInMs      int           `mapstructure:"lead_in_ms" validate:"gte=0,lte=10000"`
	Beep          bool          `mapstructure:"beep"`
	ReportURL     string        `mapstructure:"report_url" validate:"omitempty,url"`
	ReportTimeout time.Duration `mapstructure:"report_timeout" validate:"gt=0"`
	ServeAddr     string        `mapstructure:"serve_addr" validate:"required"`
	LogPath       string        `mapstructure:"log_path"`
}

var defaults = map[string]any{
	"locale":         "de",
	"lang":           "de-DE",
	"voice":          "",
	"rate":           1.0,
	"pause_ms":       400,
	"lead_in_ms":     1500,
	"beep":           true,
	"report_url":     "http://127.0.0.1:8787",
	"report_timeout": 10 * time.Second,
	"serve_addr":     "127.0.0.1:8787",
	"log_path":       "",
}

var validate = validator.New()

// Load builds a Config. overrides are keyed like the mapstructure tags and
// win over the environment.
func Load(overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for k, val := range overrides {
		if _, ok := defaults[k]; !ok {
			return nil, fmt.Errorf("unknown setting %q", k)
		}
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Pause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

func (c *Config) LeadIn() time.Duration {
	return time.Duration(c.LeadInMs) * time.Millisecond
}
