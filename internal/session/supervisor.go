package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

// DefaultStopGrace is how long a stopped encoder gets to exit after SIGTERM
// before its process group is killed.
const DefaultStopGrace = 5 * time.Second

const maxOutputLine = 1 << 20

// SpawnSpec describes one encoder run.
type SpawnSpec struct {
	// ID is the session id the process belongs to.
	ID   string
	Args []string
	// Output receives every non-empty line of combined stdout/stderr, in
	// order, from the background goroutine.
	Output func(line string)
	// OnExit is called once, after the slot has been released and before
	// Wait returns.
	OnExit func(p *Process, outcome ExitOutcome)
}

// Process is the handle to a running encoder. Only the Supervisor that
// spawned it can signal it.
type Process struct {
	id        string
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	outcome   ExitOutcome
	stopping  atomic.Bool
	exited    atomic.Bool
	killTimer *time.Timer
}

// ID returns the session id given at spawn.
func (p *Process) ID() string { return p.id }

// PID returns the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// StartedAt returns when the process was launched.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has exited and cleanup has run.
func (p *Process) Done() <-chan struct{} { return p.done }

// Supervisor owns the single encoder slot.
type Supervisor struct {
	binary string
	grace  time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	active *Process
}

// NewSupervisor returns a Supervisor launching binary. A non-positive grace
// selects DefaultStopGrace.
func NewSupervisor(binary string, grace time.Duration, log *slog.Logger) *Supervisor {
	if binary == "" {
		binary = "ffmpeg"
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &Supervisor{binary: binary, grace: grace, log: log}
}

// Binary returns the encoder executable name or path.
func (s *Supervisor) Binary() string { return s.binary }

// Spawn launches the encoder in the slot. It fails with ErrAlreadyRunning
// while a previous process has not been reaped, and with ErrSpawnFailure if
// the binary cannot be started.
func (s *Supervisor) Spawn(spec SpawnSpec) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrAlreadyRunning
	}

	cmd := execCommand(s.binary, spec.Args...)
	setProcessGroup(cmd)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailure, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}

	p := &Process{
		id:        spec.ID,
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.active = p

	s.log.Info("encoder started",
		slog.String("session_id", p.id),
		slog.Int("pid", cmd.Process.Pid))

	go s.run(p, out, spec)
	return p, nil
}

// run is the per-process background context: it drains output, reaps the
// process and performs the one cleanup path shared by every exit cause.
func (s *Supervisor) run(p *Process, out io.Reader, spec SpawnSpec) {
	readErr := forwardLines(out, spec.Output)
	waitErr := p.cmd.Wait()
	p.exited.Store(true)

	outcome := classifyExit(waitErr, readErr, p.stopping.Load())

	s.mu.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	if s.active == p {
		s.active = nil
	}
	p.outcome = outcome
	s.mu.Unlock()

	attrs := []any{
		slog.String("session_id", p.id),
		slog.String("outcome", outcome.String()),
		slog.Duration("uptime", time.Since(p.startedAt)),
	}
	if outcome.Kind == ExitFailed {
		if outcome.Err != nil {
			attrs = append(attrs, slog.String("error", outcome.Err.Error()))
		}
		s.log.Warn("encoder exited", attrs...)
	} else {
		s.log.Info("encoder exited", attrs...)
	}

	if spec.OnExit != nil {
		spec.OnExit(p, outcome)
	}
	close(p.done)
}

// Wait blocks until p has exited and its cleanup has completed.
func (s *Supervisor) Wait(p *Process) ExitOutcome {
	<-p.done
	return p.outcome
}

// IsRunning reports whether p has not yet been reaped.
func (s *Supervisor) IsRunning(p *Process) bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Active returns the process in the slot, or nil.
func (s *Supervisor) Active() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RequestStop asks p to terminate and returns without waiting. It reports
// false, doing nothing, when p is not the process in the slot or has
// already been reaped. The process group is killed if it is
// still alive after the grace period.
func (s *Supervisor) RequestStop(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == nil || s.active != p || p.exited.Load() {
		return false
	}
	if !p.stopping.CompareAndSwap(false, true) {
		return true
	}

	if err := terminateGroup(p.cmd); err != nil {
		s.log.Warn("terminate encoder failed",
			slog.String("session_id", p.id),
			slog.String("error", err.Error()))
	}

	p.killTimer = time.AfterFunc(s.grace, func() {
		if p.exited.Load() {
			return
		}
		s.log.Warn("encoder ignored SIGTERM, killing process group",
			slog.String("session_id", p.id),
			slog.Duration("grace", s.grace))
		_ = killGroup(p.cmd)
	})
	return true
}

// Shutdown stops the active process, if any, and waits for it to be reaped
// or for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	p := s.Active()
	if p == nil {
		return nil
	}
	s.RequestStop(p)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardLines sends each line of r to emit. On a read error the rest of
// the stream is discarded so the encoder never blocks on a full pipe.
func forwardLines(r io.Reader, emit func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	sc.Split(scanOutputLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || emit == nil {
			continue
		}
		emit(line)
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read encoder output: %w", err)
	}
	return nil
}

// scanOutputLines splits on '\n' or '\r'; encoders redraw progress lines
// with a bare carriage return.
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func classifyExit(waitErr, readErr error, stopping bool) ExitOutcome {
	if stopping {
		return ExitOutcome{Kind: ExitTerminated}
	}
	if waitErr == nil {
		if readErr != nil {
			return ExitOutcome{Kind: ExitFailed, Code: 0, Err: readErr}
		}
		return ExitOutcome{Kind: ExitCompleted}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return ExitOutcome{Kind: ExitFailed, Code: exitErr.ExitCode(), Err: waitErr}
	}
	return ExitOutcome{Kind: ExitFailed, Code: -1, Err: waitErr}
}
