package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the command configuration. Every key can be set by flag,
// by MITAB_* environment variable or in the config file, in that order of
// precedence.
type Config struct {
	LogLevel         string
	LogFormat        string
	IndexStringWidth int
	MaxIdleSources   int
	Metrics          bool
}

func loadConfig(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MITAB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
		IndexStringWidth: v.GetInt("index-string-width"),
		MaxIdleSources:   v.GetInt("max-idle-sources"),
		Metrics:          v.GetBool("metrics"),
	}
	if cfg.IndexStringWidth <= 0 {
		return nil, fmt.Errorf("index-string-width must be positive, got %d", cfg.IndexStringWidth)
	}
	if cfg.MaxIdleSources < 0 {
		return nil, fmt.Errorf("max-idle-sources must not be negative, got %d", cfg.MaxIdleSources)
	}
	return cfg, nil
}

// writeMetrics prints the mitab collectors in the text exposition format.
func writeMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "mitab_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
