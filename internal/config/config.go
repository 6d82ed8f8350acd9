// Package config resolves process-scoped configuration -- lock_root, the
// sandbox tool executable, and the log level -- layering command-line
// flags over environment variables over an optional YAML file over
// compiled-in defaults, the way spf13/viper is used across the pack (e.g.
// code-payments-code-server's service configuration).
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Defaults, compiled into the binary.
const (
	DefaultLockRoot    = "/var/lock/boxlock"
	DefaultSandboxTool = "isolate"
	DefaultLogLevel    = "warn"
)

// Config is the resolved, process-scoped configuration.
type Config struct {
	LockRoot    string
	SandboxTool string
	LogLevel    string
}

// Load resolves configuration from, in increasing precedence: compiled-in
// defaults, an optional YAML file at configPath (if non-empty and
// present), BOXLOCK_* environment variables, and finally the explicit
// overrides supplied by the caller (command-line flags that were actually
// set).
func Load(configPath string, overrides Config) (Config, error) {
	v := viper.New()
	v.SetDefault("lock_root", DefaultLockRoot)
	v.SetDefault("sandbox_tool", DefaultSandboxTool)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix("boxlock")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.As(err, new(viper.ConfigFileNotFoundError)) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, errors.Wrapf(err, "reading config file %s", configPath)
			}
		}
	}

	cfg := Config{
		LockRoot:    v.GetString("lock_root"),
		SandboxTool: v.GetString("sandbox_tool"),
		LogLevel:    v.GetString("log_level"),
	}

	if overrides.LockRoot != "" {
		cfg.LockRoot = overrides.LockRoot
	}
	if overrides.SandboxTool != "" {
		cfg.SandboxTool = overrides.SandboxTool
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	return cfg, nil
}
