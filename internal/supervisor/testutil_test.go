package supervisor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// fakeOllama writes a shell script standing in for the ollama binary.
// `serve` runs until SIGTERM; `run <model>` succeeds only for good:1b.
func fakeOllama(t *testing.T, serveBody string) string {
	t.Helper()
	if serveBody == "" {
		serveBody = `echo "listening on $OLLAMA_HOST models=$OLLAMA_MODELS"
echo "warming up" >&2
trap 'exit 0' TERM
while true; do sleep 0.05; done`
	}
	script := `#!/bin/sh
case "$1" in
serve)
` + serveBody + `
;;
run)
if [ "$2" = "good:1b" ]; then echo "loaded $2"; exit 0; fi
echo "Error: pull model manifest: file does not exist" >&2
exit 1
;;
esac
exit 9
`
	p := filepath.Join(t.TempDir(), "ollama")
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ollama: %v", err)
	}
	return p
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func waitDone(t *testing.T, p *Process, d time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(d):
		t.Fatalf("process %d did not exit within %s", p.PID(), d)
	}
}
