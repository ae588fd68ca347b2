// Package config defines the daemon's runtime configuration and binds
// it to command-line flags and environment variables via
// github.com/spf13/viper, with flags taking precedence over environment
// variables over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is every tunable the daemon reads at startup.
type Config struct {
	SockPath      string `mapstructure:"sock-path"`
	StateDir      string `mapstructure:"state-dir"`
	LogFile       string `mapstructure:"log-file"`
	DashboardAddr string `mapstructure:"dashboard-addr"`
	DebounceMS    int    `mapstructure:"debounce-ms"`
}

// Default returns the out-of-the-box configuration: a socket and state
// directory under the user's runtime/cache dir.
func Default() Config {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	stateDir, err := os.UserCacheDir()
	if err != nil || stateDir == "" {
		stateDir = os.TempDir()
	}
	stateDir = filepath.Join(stateDir, "pathwatchd")

	return Config{
		SockPath:   filepath.Join(runtimeDir, "pathwatchd.sock"),
		StateDir:   stateDir,
		LogFile:    filepath.Join(stateDir, "pathwatchd.log"),
		DebounceMS: 50,
	}
}

// BindFlags registers every config field as a flag on fs and binds it
// into v, so flags > environment > defaults, per viper's usual layering.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	def := Default()

	fs.String("sock-path", def.SockPath, "path to the Unix domain socket to listen on")
	fs.String("state-dir", def.StateDir, "directory for persisted watch/trigger state and trigger run history")
	fs.String("log-file", def.LogFile, "rotating log file path (empty disables file logging)")
	fs.String("dashboard-addr", "", "address for the optional read-only debug dashboard (empty disables it)")
	fs.Int("debounce-ms", def.DebounceMS, "minimum interval between successive tick advances per root")

	_ = v.BindPFlag("sock-path", fs.Lookup("sock-path"))
	_ = v.BindPFlag("state-dir", fs.Lookup("state-dir"))
	_ = v.BindPFlag("log-file", fs.Lookup("log-file"))
	_ = v.BindPFlag("dashboard-addr", fs.Lookup("dashboard-addr"))
	_ = v.BindPFlag("debounce-ms", fs.Lookup("debounce-ms"))

	v.SetEnvPrefix("pathwatchd")
	v.AutomaticEnv()
}

// Load reads the bound values from v into a Config.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
