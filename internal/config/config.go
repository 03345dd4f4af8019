// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config loads device-client connection settings the way the
// teacher loads application settings: a viper instance bound to a TOML
// file, environment variables, and CLI flags, where an explicitly set flag
// overrides the environment, which overrides the file (spec.md ambient
// stack: configuration).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Azure/azure-iot-device-go/internal/retrypolicy"
)

const envPrefix = "IOTDEVICE"

// Settings holds every value cmd/devicectl needs to construct a Handler
// and a Credential Refresher.
type Settings struct {
	DeviceID         string        `mapstructure:"deviceId"`
	HostName         string        `mapstructure:"hostName"`
	LogLevel         string        `mapstructure:"logLevel"`
	LogPath          string        `mapstructure:"logPath"`
	LogMaxSizeMB     int           `mapstructure:"logMaxSizeMB"`
	LogMaxBackups    int           `mapstructure:"logMaxBackups"`
	RetryMinDelay    time.Duration `mapstructure:"retryMinDelay"`
	RetryMaxDelay    time.Duration `mapstructure:"retryMaxDelay"`
	RetryDelta       time.Duration `mapstructure:"retryDelta"`
	RetryMaxAttempts uint32        `mapstructure:"retryMaxAttempts"`
}

// RetryPolicy builds the retrypolicy.Policy these settings describe, for
// the Session Handler constructed from them (spec.md ambient stack:
// configuration feeds the domain retry policy rather than the CLI
// hardcoding one).
func (s Settings) RetryPolicy() retrypolicy.Policy {
	return retrypolicy.ExponentialBackoff(s.RetryMaxAttempts, s.RetryMinDelay, s.RetryMaxDelay, s.RetryDelta)
}

func defaults() Settings {
	return Settings{
		LogLevel:         "info",
		LogMaxSizeMB:     50,
		RetryMinDelay:    500 * time.Millisecond,
		RetryMaxDelay:    30 * time.Second,
		RetryDelta:       500 * time.Millisecond,
		RetryMaxAttempts: 0,
	}
}

// AppConfig wraps the viper instance backing Settings, mirroring the
// teacher's AppConfig: viper is the source of truth, Settings is a typed
// snapshot decoded from it.
type AppConfig struct {
	v *viper.Viper
}

// Load builds an AppConfig from (in ascending precedence) built-in
// defaults, configPath if non-empty, IOTDEVICE_*-prefixed environment
// variables, and flags, then decodes it into Settings.
func Load(configPath string, flags *pflag.FlagSet) (Settings, *AppConfig, error) {
	v := viper.New()

	def := defaults()
	v.SetDefault("deviceId", def.DeviceID)
	v.SetDefault("hostName", def.HostName)
	v.SetDefault("logLevel", def.LogLevel)
	v.SetDefault("logPath", def.LogPath)
	v.SetDefault("logMaxSizeMB", def.LogMaxSizeMB)
	v.SetDefault("logMaxBackups", def.LogMaxBackups)
	v.SetDefault("retryMinDelay", def.RetryMinDelay)
	v.SetDefault("retryMaxDelay", def.RetryMaxDelay)
	v.SetDefault("retryDelta", def.RetryDelta)
	v.SetDefault("retryMaxAttempts", def.RetryMaxAttempts)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, nil, fmt.Errorf("decode settings: %w", err)
	}

	return s, &AppConfig{v: v}, nil
}

// ConfigFileUsed returns the path viper actually loaded, or "" if none.
func (c *AppConfig) ConfigFileUsed() string { return c.v.ConfigFileUsed() }
