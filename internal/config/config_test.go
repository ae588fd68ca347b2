package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestBindFlagsThenLoadAppliesOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	BindFlags(fs, v)

	if err := fs.Parse([]string{"--sock-path=/tmp/custom.sock", "--debounce-ms=250"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SockPath != "/tmp/custom.sock" {
		t.Fatalf("expected overridden sock path, got %q", cfg.SockPath)
	}
	if cfg.DebounceMS != 250 {
		t.Fatalf("expected overridden debounce, got %d", cfg.DebounceMS)
	}
}

func TestDefaultProducesNonEmptyPaths(t *testing.T) {
	def := Default()
	if def.SockPath == "" || def.StateDir == "" || def.LogFile == "" {
		t.Fatalf("expected non-empty defaults, got %#v", def)
	}
}
