package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"loopcast/internal/platform/metrics"

	"github.com/google/uuid"
)

// cycle is what the controller remembers about the session it started
// most recently. The key is deliberately absent.
type cycle struct {
	id        string
	source    string
	layout    LayoutMode
	startedAt time.Time
}

// Controller is the façade the UI talks to. It validates requests against
// the current state, builds the encoder invocation, hands it to the
// Supervisor and reconciles state when the process goes away.
type Controller struct {
	profile Profile
	sup     *Supervisor
	sink    *LogSink
	fsm     *StateMachine
	log     *slog.Logger
	metrics *metrics.Metrics

	checkSource func(path string) error
	newID       func() string

	// mu serializes Start and Stop.
	mu   sync.Mutex
	proc *Process

	infoMu sync.RWMutex
	info   cycle
}

// NewController wires a controller around sup and sink. Metrics may be nil
// to disable metric recording (e.g. in tests).
func NewController(sup *Supervisor, sink *LogSink, profile Profile, log *slog.Logger, m *metrics.Metrics) *Controller {
	c := &Controller{
		profile:     profile,
		sup:         sup,
		sink:        sink,
		log:         log,
		metrics:     m,
		checkSource: checkReadable,
		newID:       uuid.NewString,
	}
	c.fsm = NewStateMachine(c.observeTransition)
	return c
}

// Start validates req and launches the encoder. It returns once the
// process has been spawned (or failed to); it never waits for the stream
// to finish.
func (c *Controller) Start(req StreamRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fsm.State() != StateOffline {
		c.reject("start", ErrNotOffline, req.TargetKey)
		return ErrNotOffline
	}

	args, err := BuildArgs(c.profile, req)
	if err == nil {
		err = c.checkSource(req.SourcePath)
	}
	if err != nil {
		c.reject("start", err, req.TargetKey)
		return err
	}

	id := c.newID()
	if _, err := c.fsm.Fire(EventStartAccepted, id); err != nil {
		c.reject("start", err, req.TargetKey)
		return err
	}
	c.setInfo(cycle{id: id, source: filepath.Base(req.SourcePath), layout: req.Layout, startedAt: time.Now()})

	c.annotate("Preparing stream...")
	c.annotate("Starting encoder: " + CommandLine(c.sup.Binary(), args, req.TargetKey))
	c.log.Info("starting stream",
		slog.String("session_id", id),
		slog.String("source", req.SourcePath),
		slog.String("layout", string(req.Layout)),
		slog.String("destination", Redact(DestinationURL(c.profile.RTMPHost, req.TargetKey), req.TargetKey)))

	proc, err := c.sup.Spawn(SpawnSpec{
		ID:     id,
		Args:   args,
		Output: c.encoderOutput(req.TargetKey),
		OnExit: c.handleExit,
	})
	if err != nil {
		if _, ferr := c.fsm.Fire(EventSpawnFailed, id); ferr != nil {
			c.log.Error("spawn failure transition", slog.String("session_id", id), slog.String("error", ferr.Error()))
		}
		c.annotate("Error: " + Redact(err.Error(), req.TargetKey))
		c.log.Error("encoder spawn failed",
			slog.String("session_id", id),
			slog.String("error", Redact(err.Error(), req.TargetKey)))
		if c.metrics != nil && errors.Is(err, ErrSpawnFailure) {
			c.metrics.IncSpawnFailures()
		}
		return err
	}
	c.proc = proc
	if c.metrics != nil {
		c.metrics.IncSessionsStarted()
	}

	// The process may already have exited, in which case the machine is
	// back to Offline and there is nothing to announce.
	if _, err := c.fsm.Fire(EventSpawnSucceeded, id); err == nil {
		c.annotate("Stream is live")
	}
	return nil
}

// RejectStart records a start request that failed before it could be
// built, such as an unreadable body or an unknown source name. While a
// session is running the request is refused with ErrNotOffline instead.
func (c *Controller) RejectStart(cause error, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := cause
	if c.fsm.State() != StateOffline {
		err = ErrNotOffline
	}
	c.reject("start", err, secret)
	return err
}

// Stop requests termination of the running encoder and reports Offline
// immediately. The process is reaped in the background.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, id := c.fsm.Current()
	if state == StateOffline {
		c.log.Debug("stop rejected", slog.String("error", ErrNotRunning.Error()))
		return ErrNotRunning
	}

	if !c.sup.RequestStop(c.proc) {
		c.log.Debug("stop found no process in the slot", slog.String("session_id", id))
	}
	if _, err := c.fsm.Fire(EventStopRequested, id); err != nil {
		// The encoder exited between the check and the transition; the
		// exit path has already reconciled state.
		c.log.Debug("stop raced with exit", slog.String("session_id", id), slog.String("error", err.Error()))
	}
	c.proc = nil
	c.annotate("Stream stopped by user")
	c.log.Info("stream stopped by user", slog.String("session_id", id))
	return nil
}

// Status returns the current state and, unless offline, the details of
// the session.
func (c *Controller) Status() Status {
	state, id := c.fsm.Current()
	if state == StateOffline {
		return Status{State: state}
	}
	c.infoMu.RLock()
	info := c.info
	c.infoMu.RUnlock()

	st := Status{State: state, SessionID: id}
	if info.id == id {
		started := info.startedAt
		st.Source = info.source
		st.Layout = info.layout
		st.StartedAt = &started
	}
	return st
}

// TailLogs returns the n most recent log lines, oldest first.
func (c *Controller) TailLogs(n int) []LogLine {
	return c.sink.Tail(n)
}

// LogsSince returns the retained log lines newer than seq, oldest first.
func (c *Controller) LogsSince(seq uint64) []LogLine {
	return c.sink.Since(seq)
}

// Shutdown stops any running encoder and waits for it to exit or for ctx
// to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return c.sup.Shutdown(ctx)
}

// handleExit runs on the supervisor's background goroutine for every exit
// cause, including exits after Stop.
func (c *Controller) handleExit(p *Process, outcome ExitOutcome) {
	if _, err := c.fsm.Fire(EventProcessExited, p.ID()); err != nil && !errors.Is(err, errStaleSession) {
		c.log.Debug("exit after state already offline", slog.String("session_id", p.ID()))
	}
	if outcome.Kind == ExitFailed {
		detail := outcome.String()
		if outcome.Err != nil && outcome.Code == 0 {
			detail = outcome.Err.Error()
		}
		c.annotate(fmt.Sprintf("Error: %v (%s)", ErrRuntimeFailure, detail))
	}
	c.annotate("Stream ended (" + outcome.Kind.String() + ")")
	if c.metrics != nil {
		c.metrics.IncEncoderExit(outcome.Kind.String())
	}
}

// encoderOutput returns the sink callback for one session. Encoders echo
// their output URL, so every line is redacted before it is stored.
func (c *Controller) encoderOutput(secret string) func(string) {
	return func(line string) {
		c.sink.Append(Redact(line, secret))
		if c.metrics != nil {
			c.metrics.IncEncoderLogLines()
		}
	}
}

func (c *Controller) observeTransition(tr Transition) {
	c.log.Info("stream state transition",
		slog.String("session_id", tr.SessionID),
		slog.String("event", tr.Event.String()),
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()))
	if c.metrics != nil {
		c.metrics.SetStreamState(tr.To.String())
	}
}

func (c *Controller) reject(op string, err error, secret string) {
	msg := Redact(err.Error(), secret)
	c.annotate(fmt.Sprintf("Rejected %s: %s", op, msg))
	c.log.Info(op+" rejected", slog.String("error", msg))
}

func (c *Controller) annotate(text string) {
	c.sink.Append(text)
}

func (c *Controller) setInfo(info cycle) {
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()
}

// checkReadable rejects sources that do not exist, are directories, or
// cannot be opened.
func checkReadable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &RequestError{Field: "source", Reason: fmt.Sprintf("cannot access %s", filepath.Base(path))}
	}
	if fi.IsDir() {
		return &RequestError{Field: "source", Reason: fmt.Sprintf("%s is a directory", filepath.Base(path))}
	}
	f, err := os.Open(path)
	if err != nil {
		return &RequestError{Field: "source", Reason: fmt.Sprintf("cannot read %s", filepath.Base(path))}
	}
	return f.Close()
}
