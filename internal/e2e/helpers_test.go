//go:build !windows

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"visiond/pkg/types"
)

// writeFakeOllama writes a stand-in for the ollama CLI. `serve` records
// OLLAMA_MODELS and sleeps until signaled; `run` succeeds immediately.
func writeFakeOllama(t *testing.T) (bin, envFile, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "ollama")
	envFile = filepath.Join(dir, "models.env")
	argsFile = filepath.Join(dir, "args.log")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> '" + argsFile + "'\n" +
		"case \"$1\" in\n" +
		"  serve) echo \"$OLLAMA_MODELS\" > '" + envFile + "'; exec sleep 60 ;;\n" +
		"  run) echo loaded; exit 0 ;;\n" +
		"esac\n" +
		"exit 2\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ollama: %v", err)
	}
	return bin, envFile, argsFile
}

// fakeChatServer plays the ollama HTTP API: liveness on / and a streamed
// answer on /api/chat. Chat request bodies are sent on the returned channel.
func fakeChatServer(t *testing.T, fragments ...string) (*httptest.Server, <-chan map[string]any, *atomic.Int32) {
	t.Helper()
	bodies := make(chan map[string]any, 8)
	var probes atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			probes.Add(1)
			_, _ = io.WriteString(w, "Ollama is running")
		case "/api/chat":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			bodies <- body
			for _, f := range fragments {
				b, _ := json.Marshal(map[string]any{"message": map[string]string{"role": "assistant", "content": f}, "done": false})
				_, _ = w.Write(append(b, '\n'))
				w.(http.Flusher).Flush()
			}
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, bodies, &probes
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u.Host
}

func waitHealth(t *testing.T, base, want string) types.HealthCheck {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/health-check")
		if err == nil {
			var hc types.HealthCheck
			_ = json.NewDecoder(resp.Body).Decode(&hc)
			_ = resp.Body.Close()
			if hc.Status == want {
				return hc
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("health-check never reached %s", want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func postPrediction(t *testing.T, base string, payload any) (*http.Response, []types.PredictionLine) {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, base+"/predictions", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var lines []types.PredictionLine
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var l types.PredictionLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	return resp, lines
}
