package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overrides fields from VISIOND_* variables looked up through getenv
// (normally os.Getenv). Unset or empty variables leave the field untouched.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("VISIOND_ADDR", &cfg.Addr)
	str("VISIOND_LOG_LEVEL", &cfg.LogLevel)
	str("VISIOND_LOG_FORMAT", &cfg.LogFormat)
	str("VISIOND_MODEL", &cfg.ModelName)
	str("VISIOND_MODEL_URL", &cfg.ModelURL)
	str("VISIOND_MODEL_CACHE", &cfg.ModelCache)
	str("VISIOND_FETCH_BIN", &cfg.FetchBin)
	str("VISIOND_OLLAMA_BIN", &cfg.OllamaBin)
	str("VISIOND_BACKEND_HOST", &cfg.BackendHost)

	durations := []struct {
		key string
		dst *Duration
	}{
		{"VISIOND_READY_TIMEOUT", &cfg.ReadyTimeout},
		{"VISIOND_READY_INTERVAL", &cfg.ReadyInterval},
		{"VISIOND_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"VISIOND_STOP_GRACE", &cfg.StopGrace},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(getenv(d.key)); v != "" {
			if err := d.dst.UnmarshalText([]byte(v)); err != nil {
				return cfg, fmt.Errorf("%s: %w", d.key, err)
			}
		}
	}

	if v := strings.TrimSpace(getenv("VISIOND_SKIP_DOWNLOAD")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("VISIOND_SKIP_DOWNLOAD: %w", err)
		}
		cfg.SkipDownload = b
	}
	if v := strings.TrimSpace(getenv("VISIOND_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("VISIOND_MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(getenv("VISIOND_CORS_ORIGINS")); v != "" {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = SplitCSV(v)
	}
	return cfg, nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empty
// entries.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
