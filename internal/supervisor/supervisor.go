// Package supervisor launches and owns the local inference server process
// (ollama) and runs its one-shot model-load step.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/common/logwriter"
)

const defaultStopGrace = 5 * time.Second

// Config describes the backend process. Nothing is read from the global
// process environment except as the base for the child's environment.
type Config struct {
	// Bin is the backend executable, e.g. "ollama".
	Bin string
	// ModelCacheDir is exported to the child as OLLAMA_MODELS.
	ModelCacheDir string
	// ModelName is loaded by LoadModel, e.g. "llama3.2-vision:90b".
	ModelName string
	// Host is exported as OLLAMA_HOST when set, e.g. "127.0.0.1:11434".
	Host string
	// ServeArgs defaults to ["serve"].
	ServeArgs []string
	// ExtraEnv is appended after os.Environ() and the OLLAMA_* variables.
	ExtraEnv  []string
	StopGrace time.Duration

	Log       zerolog.Logger
	Publisher EventPublisher
}

// Supervisor starts the backend server and loads the model.
type Supervisor struct {
	cfg Config
	env []string

	mu   sync.Mutex
	proc *Process
}

// New validates nothing; errors surface from Start.
func New(cfg Config) *Supervisor {
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if len(cfg.ServeArgs) == 0 {
		cfg.ServeArgs = []string{"serve"}
	}
	return &Supervisor{cfg: cfg, env: buildEnv(cfg)}
}

func buildEnv(cfg Config) []string {
	env := os.Environ()
	if cfg.ModelCacheDir != "" {
		dir := cfg.ModelCacheDir
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		env = append(env, "OLLAMA_MODELS="+dir)
	}
	if cfg.Host != "" {
		env = append(env, "OLLAMA_HOST="+cfg.Host)
	}
	return append(env, cfg.ExtraEnv...)
}

// Env returns the environment handed to every backend command.
func (s *Supervisor) Env() []string { return append([]string(nil), s.env...) }

// Process returns the running server process, or nil before Start.
func (s *Supervisor) Process() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Start launches the backend server in the background and returns once the
// process exists. It does not wait for the server to accept requests. The
// process outlives ctx; ctx only aborts the launch itself.
func (s *Supervisor) Start(ctx context.Context) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StartError{Phase: PhaseLaunch, Bin: s.cfg.Bin, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil && !s.proc.Exited() {
		return s.proc, nil
	}
	if strings.TrimSpace(s.cfg.Bin) == "" {
		return nil, &StartError{Phase: PhaseLaunch, Err: errors.New("backend binary not configured")}
	}

	cmd := exec.Command(s.cfg.Bin, s.cfg.ServeArgs...)
	cmd.Env = s.env
	outLog := s.cfg.Log.With().Str("component", "backend").Logger()
	stdout, stderr := prepare(cmd, outLog)
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Phase: PhaseLaunch, Bin: s.cfg.Bin, Err: err}
	}

	log := outLog.With().Int("pid", cmd.Process.Pid).Logger()
	p := newProcess(cmd, s.cfg.StopGrace, log, s.cfg.Publisher, stdout, stderr)
	p.watch()
	s.proc = p

	log.Info().Str("event", EventSpawnStart).Str("bin", s.cfg.Bin).Str("host", s.cfg.Host).Str("models", s.cfg.ModelCacheDir).Msg("backend started")
	s.cfg.Publisher.Publish(Event{Name: EventSpawnStart, Model: s.cfg.ModelName, Fields: map[string]any{"pid": cmd.Process.Pid}})
	return p, nil
}

// LoadModel runs `<bin> run <model>` against the server and waits for it to
// exit. A non-zero exit means the model could not be loaded.
func (s *Supervisor) LoadModel(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.ModelName) == "" {
		return &StartError{Phase: PhaseLoad, Bin: s.cfg.Bin, Err: errors.New("model name not configured")}
	}
	log := s.cfg.Log.With().Str("component", "backend").Str("model", s.cfg.ModelName).Logger()
	s.cfg.Publisher.Publish(Event{Name: EventLoadStart, Model: s.cfg.ModelName})
	start := time.Now()

	cmd := exec.CommandContext(ctx, s.cfg.Bin, "run", s.cfg.ModelName)
	cmd.Env = s.env
	cmd.WaitDelay = outputWaitDelay
	out := logwriter.New(log, zerolog.DebugLevel, "load output")
	tail := &logwriter.Tail{N: 4096}
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(tail, out)
	err := cmd.Run()
	out.Flush()
	if err != nil {
		if msg := tail.String(); msg != "" {
			err = fmt.Errorf("%w; stderr tail: %s", err, msg)
		}
		log.Error().Err(err).Str("event", EventLoadFailed).Msg("model load failed")
		s.cfg.Publisher.Publish(Event{Name: EventLoadFailed, Model: s.cfg.ModelName, Fields: map[string]any{"error": err.Error()}})
		return &StartError{Phase: PhaseLoad, Bin: s.cfg.Bin, Err: err}
	}
	log.Info().Str("event", EventLoadDone).Dur("took", time.Since(start)).Msg("model loaded")
	s.cfg.Publisher.Publish(Event{Name: EventLoadDone, Model: s.cfg.ModelName})
	return nil
}

// Stop terminates the server process if one was started.
func (s *Supervisor) Stop(ctx context.Context) error {
	if p := s.Process(); p != nil {
		return p.Stop(ctx)
	}
	return nil
}
