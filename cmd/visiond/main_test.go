package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"visiond/internal/backend"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	orig := getenv
	getenv = func(k string) string { return env[k] }
	t.Cleanup(func() { getenv = orig })
}

func parsedServeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return serve
}

func TestResolveConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visiond.yaml")
	yaml := "model_name: from-file\nbackend_host: 10.0.0.1:11434\nready_timeout: 30s\naddr: \":6000\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	withEnv(t, map[string]string{
		"VISIOND_BACKEND_HOST": "10.0.0.2:11434",
		"VISIOND_ADDR":         ":7000",
	})
	cmd := parsedServeCmd(t, "--config", path, "--addr", ":8000", "--connect-timeout", "5s", "--cors-origins", "https://a.example")
	cfg, err := resolveConfig(cmd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ModelName != "from-file" {
		t.Fatalf("model=%q, want file value", cfg.ModelName)
	}
	if cfg.BackendHost != "10.0.0.2:11434" {
		t.Fatalf("backend_host=%q, want env value", cfg.BackendHost)
	}
	if cfg.Addr != ":8000" {
		t.Fatalf("addr=%q, want flag value", cfg.Addr)
	}
	if cfg.ReadyTimeout.Std() != 30*time.Second || cfg.ConnectTimeout.Std() != 5*time.Second {
		t.Fatalf("durations ready=%s connect=%s", cfg.ReadyTimeout.Std(), cfg.ConnectTimeout.Std())
	}
	if !cfg.CORSEnabled || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("cors=%v %v", cfg.CORSEnabled, cfg.CORSOrigins)
	}
	if cfg.OllamaBin != "ollama" || cfg.ModelCache != "checkpoints" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestResolveConfig_Invalid(t *testing.T) {
	withEnv(t, map[string]string{"VISIOND_READY_TIMEOUT": "soon"})
	if _, err := resolveConfig(parsedServeCmd(t)); err == nil {
		t.Fatalf("expected error for bad duration")
	}
	withEnv(t, nil)
	if _, err := resolveConfig(parsedServeCmd(t, "--log-format", "xml")); err == nil {
		t.Fatalf("expected error for bad log format")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger("warn", "json", &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Fatalf("output=%q", buf.String())
	}
	if _, err := newLogger("loud", "json", io.Discard); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "visiond ") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestPredictCmd_Attach(t *testing.T) {
	withEnv(t, nil)
	var body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, `{"message":{"content":"a cat"}}`+"\n"+`{"message":{"content":" on a mat"}}`+"\n")
	}))
	defer ts.Close()
	img := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "predict", "--attach", "--backend-host", ts.URL, "--model", "llama3.2-vision:11b",
		"--image", img, "--prompt", "what is it?", "--max-tokens", "16", "--log-level", "error")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if out != "a cat on a mat\n" {
		t.Fatalf("out=%q", out)
	}
	if !strings.Contains(body, `"num_predict":16`) || !strings.Contains(body, `"model":"llama3.2-vision:11b"`) {
		t.Fatalf("request body=%s", body)
	}
}

func TestPredictCmd_RejectsBadParams(t *testing.T) {
	withEnv(t, nil)
	img := filepath.Join(t.TempDir(), "cat.png")
	_ = os.WriteFile(img, []byte("png"), 0o644)
	if _, err := run(t, "predict", "--attach", "--image", img, "--temperature", "2"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSetupCmd_LaunchFailure(t *testing.T) {
	withEnv(t, nil)
	_, err := run(t, "setup", "--skip-download", "--model-cache", t.TempDir(),
		"--ollama-bin", filepath.Join(t.TempDir(), "no-such-ollama"), "--log-level", "error")
	phase, ok := backend.PhaseOf(err)
	if !ok || phase != backend.PhaseLaunch {
		t.Fatalf("phase=%q err=%v", phase, err)
	}
}
