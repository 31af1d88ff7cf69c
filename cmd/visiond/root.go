package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"visiond/internal/config"
)

// getenv is swapped in tests.
var getenv = os.Getenv

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "visiond",
		Short:         "Vision-language model server backed by a supervised ollama process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a .yaml, .json or .toml config file")
	pf.String("log-level", "", "Log level: debug|info|warn|error (defaults VISIOND_LOG_LEVEL or info)")
	pf.String("log-format", "", "Log format: json|console")
	pf.String("model", "", "Model tag to load, e.g. "+config.DefaultModelName)
	pf.String("model-url", "", "Weights archive URL")
	pf.String("model-cache", "", "Directory the weights are extracted into and served from")
	pf.Bool("skip-download", false, "Use model-cache as is; do not fetch weights")
	pf.String("ollama-bin", "", "ollama executable")
	pf.String("backend-host", "", "host:port the backend listens on")
	pf.Duration("ready-timeout", 0, "How long to wait for the backend to come up")
	pf.Duration("connect-timeout", 0, "Timeout for connecting to the backend and receiving response headers")

	root.AddCommand(newServeCmd(), newSetupCmd(), newPredictCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "visiond", version)
		},
	}
}

// resolveConfig layers the config file, VISIOND_* variables and explicitly
// set flags, in that order, over the defaults.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	fs := cmd.Flags()
	var cfg config.Config
	if path, _ := fs.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg, err := config.ApplyEnv(cfg, getenv)
	if err != nil {
		return cfg, err
	}

	strFlags := map[string]*string{
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"model":        &cfg.ModelName,
		"model-url":    &cfg.ModelURL,
		"model-cache":  &cfg.ModelCache,
		"ollama-bin":   &cfg.OllamaBin,
		"backend-host": &cfg.BackendHost,
		"addr":         &cfg.Addr,
	}
	for name, dst := range strFlags {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	if fs.Changed("skip-download") {
		cfg.SkipDownload, _ = fs.GetBool("skip-download")
	}
	durFlags := map[string]*config.Duration{
		"ready-timeout":   &cfg.ReadyTimeout,
		"connect-timeout": &cfg.ConnectTimeout,
	}
	for name, dst := range durFlags {
		if fs.Changed(name) {
			d, _ := fs.GetDuration(name)
			*dst = config.Duration(d)
		}
	}
	if fs.Lookup("cors-origins") != nil && fs.Changed("cors-origins") {
		origins, _ := fs.GetStringSlice("cors-origins")
		cfg.CORSEnabled = len(origins) > 0
		cfg.CORSOrigins = origins
	}
	if fs.Lookup("max-body-bytes") != nil && fs.Changed("max-body-bytes") {
		cfg.MaxBodyBytes, _ = fs.GetInt64("max-body-bytes")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configAndLogger resolves the config and builds the logger for cmd.
func configAndLogger(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, log, nil
}
