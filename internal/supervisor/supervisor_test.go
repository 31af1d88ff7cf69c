//go:build !windows

package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEnvCarriesModelStoreAndHost(t *testing.T) {
	s := New(Config{Bin: "ollama", ModelCacheDir: "checkpoints", Host: "127.0.0.1:11999", ExtraEnv: []string{"X_TEST=1"}})
	env := s.Env()
	abs, _ := filepath.Abs("checkpoints")
	want := map[string]bool{"OLLAMA_MODELS=" + abs: false, "OLLAMA_HOST=127.0.0.1:11999": false, "X_TEST=1": false}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Fatalf("missing %s in env", kv)
		}
	}
}

func TestStartDrainsOutputAndStops(t *testing.T) {
	var logs syncBuffer
	pub := NewMemoryPublisher()
	s := New(Config{
		Bin:           fakeOllama(t, ""),
		ModelCacheDir: t.TempDir(),
		Host:          "127.0.0.1:11998",
		StopGrace:     2 * time.Second,
		Log:           zerolog.New(&logs).Level(zerolog.DebugLevel),
		Publisher:     pub,
	})
	p, err := s.Start(testCtx(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.PID() <= 0 || s.Process() != p {
		t.Fatalf("unexpected process handle: pid=%d", p.PID())
	}
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(logs.String(), "warming up") && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	out := logs.String()
	if !strings.Contains(out, "listening on 127.0.0.1:11998") || !strings.Contains(out, `"stream":"stderr"`) {
		t.Fatalf("backend output not drained to log: %s", out)
	}
	if p.Exited() {
		t.Fatalf("process exited early: %v", p.Err())
	}
	if err := s.Stop(testCtx(t)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitDone(t, p, 3*time.Second)
	if !p.WasStopped() {
		t.Fatalf("expected WasStopped")
	}
	// A second stop is a no-op.
	if err := p.Stop(testCtx(t)); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	names := strings.Join(pub.Names(), ",")
	if !strings.HasPrefix(names, EventSpawnStart) || !strings.Contains(names, EventSpawnStop) {
		t.Fatalf("unexpected events: %s", names)
	}
}

func TestStartDoesNotStallOnChattyBackend(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	// 512KiB of output is far beyond any OS pipe buffer.
	body := `head -c 524288 /dev/zero | tr '\0' 'x'
echo
touch "$MARKER"
trap 'exit 0' TERM
while true; do sleep 0.05; done`
	s := New(Config{Bin: fakeOllama(t, body), ExtraEnv: []string{"MARKER=" + marker}, StopGrace: time.Second})
	p, err := s.Start(testCtx(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(testCtx(t))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("backend stalled writing output")
}

func TestStopKillsProcessIgnoringTerm(t *testing.T) {
	body := `trap '' TERM
while true; do sleep 0.05; done`
	s := New(Config{Bin: fakeOllama(t, body), StopGrace: 200 * time.Millisecond})
	p, err := s.Start(testCtx(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	if err := p.Stop(testCtx(t)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !p.Exited() {
		t.Fatalf("process should be gone after Stop")
	}
	if el := time.Since(start); el < 200*time.Millisecond {
		t.Fatalf("kill happened before the grace period: %s", el)
	}
}

func TestEarlyExitClosesDone(t *testing.T) {
	pub := NewMemoryPublisher()
	s := New(Config{Bin: fakeOllama(t, `echo "bind: address already in use" >&2; exit 7`), Publisher: pub})
	p, err := s.Start(testCtx(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, p, 3*time.Second)
	if p.Err() == nil {
		t.Fatalf("expected non-nil exit error")
	}
	var exit *Event
	for _, e := range pub.Events() {
		if e.Name == EventSpawnExit {
			exit = &e
		}
	}
	if exit == nil || exit.Fields["error"] == nil {
		t.Fatalf("expected spawn_exit with error, got %+v", pub.Events())
	}
	// Start after an exit launches a fresh process.
	p2, err := s.Start(testCtx(t))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitDone(t, p2, 3*time.Second)
	if p2 == p {
		t.Fatalf("expected a new process after exit")
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := New(Config{Bin: filepath.Join(t.TempDir(), "absent")}).Start(testCtx(t))
	phase, ok := IsStartError(err)
	if !ok || phase != PhaseLaunch {
		t.Fatalf("expected launch StartError, got %v", err)
	}
}

func TestLoadModel(t *testing.T) {
	bin := fakeOllama(t, "")
	pub := NewMemoryPublisher()
	if err := New(Config{Bin: bin, ModelName: "good:1b", Publisher: pub}).LoadModel(testCtx(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(pub.Names(), ","); got != EventLoadStart+","+EventLoadDone {
		t.Fatalf("events=%s", got)
	}

	err := New(Config{Bin: bin, ModelName: "missing:1b"}).LoadModel(testCtx(t))
	phase, ok := IsStartError(err)
	if !ok || phase != PhaseLoad {
		t.Fatalf("expected load StartError, got %v", err)
	}
	if !strings.Contains(err.Error(), "file does not exist") {
		t.Fatalf("stderr tail missing: %v", err)
	}

	if err := New(Config{Bin: bin}).LoadModel(testCtx(t)); err == nil {
		t.Fatalf("expected error without model name")
	}
}
