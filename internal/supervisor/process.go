package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"visiond/internal/common/logwriter"
)

// outputWaitDelay bounds how long reaping waits for the output pipes to close
// after the server itself has exited. Runner processes the server spawned
// inherit those pipes and may outlive it.
const outputWaitDelay = time.Second

// Process is a running backend server. Its stdout and stderr are drained for
// the whole lifetime of the process so the child never blocks on a full pipe.
// The server leads its own process group, and signals go to the whole group.
type Process struct {
	cmd   *exec.Cmd
	pid   int
	grace time.Duration
	log   zerolog.Logger
	pub   EventPublisher

	stdout, stderr *logwriter.LineWriter

	done    chan struct{}
	waitErr error

	stopMu  sync.Mutex
	stopped bool
}

// prepare wires output logging into cmd before it starts.
func prepare(cmd *exec.Cmd, log zerolog.Logger) (stdout, stderr *logwriter.LineWriter) {
	stdout = logwriter.New(log.With().Str("stream", "stdout").Logger(), zerolog.DebugLevel, "backend output")
	stderr = logwriter.New(log.With().Str("stream", "stderr").Logger(), zerolog.DebugLevel, "backend output")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputWaitDelay
	setProcessGroup(cmd)
	return stdout, stderr
}

func newProcess(cmd *exec.Cmd, grace time.Duration, log zerolog.Logger, pub EventPublisher, stdout, stderr *logwriter.LineWriter) *Process {
	return &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		grace:  grace,
		log:    log,
		pub:    pub,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
}

// watch reaps the process. Once the server has exited, output still held
// open by leftover group members is abandoned after outputWaitDelay and the
// leftovers are killed.
func (p *Process) watch() {
	go func() {
		defer close(p.done)
		err := p.cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			p.log.Debug().Msg("backend exited with output still held open by its children")
			err = nil
		}
		p.waitErr = err
		_ = signalGroup(p.cmd.Process, syscall.SIGKILL)
		p.stdout.Flush()
		p.stderr.Flush()

		ev := p.log.Info()
		if p.waitErr != nil && !p.WasStopped() {
			ev = p.log.Warn().Err(p.waitErr)
		}
		ev.Str("event", EventSpawnExit).Bool("requested", p.WasStopped()).Msg("backend exited")
		fields := map[string]any{"pid": p.pid, "requested": p.WasStopped()}
		if p.waitErr != nil {
			fields["error"] = p.waitErr.Error()
		}
		p.pub.Publish(Event{Name: EventSpawnExit, Fields: fields})
	}()
}

// PID of the server process.
func (p *Process) PID() int { return p.pid }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error once Done is closed; nil before that or on a
// clean exit.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// WasStopped reports whether Stop has been called.
func (p *Process) WasStopped() bool {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	return p.stopped
}

// Stop sends SIGTERM to the process group and waits for the grace period (or
// ctx), then kills the group. The wait after the kill is bounded too. Safe to
// call more than once.
func (p *Process) Stop(ctx context.Context) error {
	p.stopMu.Lock()
	already := p.stopped
	p.stopped = true
	p.stopMu.Unlock()
	if p.Exited() {
		return nil
	}
	if !already {
		p.log.Info().Str("event", EventSpawnStop).Msg("stopping backend")
		p.pub.Publish(Event{Name: EventSpawnStop, Fields: map[string]any{"pid": p.pid}})
	}
	if err := signalGroup(p.cmd.Process, syscall.SIGTERM); err != nil {
		// Windows, or the process is already gone.
		_ = p.cmd.Process.Kill()
	}
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	p.log.Warn().Dur("grace", p.grace).Msg("backend ignored SIGTERM, killing")
	if err := signalGroup(p.cmd.Process, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	reap := time.NewTimer(outputWaitDelay + time.Second)
	defer reap.Stop()
	select {
	case <-p.done:
		return nil
	case <-reap.C:
		return fmt.Errorf("backend %d not reaped after kill", p.pid)
	}
}
