//go:build unix

package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"loopcast/internal/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestSupervisor_Spawn_forwards_output_and_completes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "complete")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	rec := &lineRecorder{}
	var exits []ExitOutcome
	p, err := sup.Spawn(SpawnSpec{
		ID:     "s1",
		Output: rec.add,
		OnExit: func(_ *Process, o ExitOutcome) { exits = append(exits, o) },
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", p.ID())

	outcome := sup.Wait(p)
	assert.Equal(t, ExitCompleted, outcome.Kind)
	assert.False(t, sup.IsRunning(p))
	assert.Nil(t, sup.Active(), "slot should be released")
	require.Len(t, exits, 1, "OnExit runs exactly once before Wait returns")

	lines := rec.all()
	assert.Contains(t, lines, "encoder version test")
	assert.Contains(t, lines, "Input #0, mov,mp4, from 'clip.mp4':")
	assert.Contains(t, lines, "done")
}

func TestSupervisor_Spawn_rejects_second_process(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "stream")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	p, err := sup.Spawn(SpawnSpec{ID: "s1"})
	require.NoError(t, err)

	_, err = sup.Spawn(SpawnSpec{ID: "s2"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.True(t, sup.RequestStop(p))
	assert.Equal(t, ExitTerminated, sup.Wait(p).Kind)

	// Slot is free again once the first process is reaped.
	p2, err := sup.Spawn(SpawnSpec{ID: "s3"})
	require.NoError(t, err)
	sup.RequestStop(p2)
	sup.Wait(p2)
}

func TestSupervisor_nonzero_exit_is_failed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "fail")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	p, err := sup.Spawn(SpawnSpec{ID: "s1", Args: []string{"rtmp://host/live2/key"}})
	require.NoError(t, err)

	outcome := sup.Wait(p)
	assert.Equal(t, ExitFailed, outcome.Kind)
	assert.Equal(t, 1, outcome.Code)
	assert.Error(t, outcome.Err)
	assert.Nil(t, sup.Active())
}

func TestSupervisor_crash_releases_slot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "crash")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	p, err := sup.Spawn(SpawnSpec{ID: "s1"})
	require.NoError(t, err)

	outcome := sup.Wait(p)
	assert.Equal(t, ExitFailed, outcome.Kind)
	assert.Equal(t, -1, outcome.Code, "killed by a signal nobody asked for")
	assert.Nil(t, sup.Active())
}

func TestSupervisor_RequestStop_terminates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "stream")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	rec := &lineRecorder{}
	p, err := sup.Spawn(SpawnSpec{ID: "s1", Output: rec.add})
	require.NoError(t, err)
	assert.True(t, sup.IsRunning(p))

	waitFor(t, "first frame line", func() bool {
		for _, l := range rec.all() {
			if strings.HasPrefix(l, "frame=") {
				return true
			}
		}
		return false
	})

	assert.True(t, sup.RequestStop(p))
	assert.True(t, sup.RequestStop(p), "a repeated stop for the same process is accepted")

	outcome := sup.Wait(p)
	assert.Equal(t, ExitTerminated, outcome.Kind)
	assert.Contains(t, rec.all(), "Exiting normally, received signal 15.")
}

func TestSupervisor_RequestStop_escalates_to_kill(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "ignore-term")

	sup := NewSupervisor("ffmpeg", 100*time.Millisecond, logger.Discard())
	rec := &lineRecorder{}
	p, err := sup.Spawn(SpawnSpec{ID: "s1", Output: rec.add})
	require.NoError(t, err)

	waitFor(t, "helper to ignore SIGTERM", func() bool {
		return len(rec.all()) > 0
	})

	start := time.Now()
	require.True(t, sup.RequestStop(p))
	outcome := sup.Wait(p)
	assert.Equal(t, ExitTerminated, outcome.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSupervisor_RequestStop_stale_handle_is_noop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "complete")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	assert.False(t, sup.RequestStop(nil))

	p, err := sup.Spawn(SpawnSpec{ID: "s1"})
	require.NoError(t, err)
	sup.Wait(p)

	assert.False(t, sup.RequestStop(p), "exited process must not be signalled")
}

func TestSupervisor_Spawn_missing_binary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sup := NewSupervisor("/nonexistent/encoder-binary", time.Second, logger.Discard())
	_, err := sup.Spawn(SpawnSpec{ID: "s1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawnFailure))
	assert.Nil(t, sup.Active())
}

func TestScanOutputLines(t *testing.T) {
	var got []string
	err := forwardLines(strings.NewReader("a\nframe=1\rframe=2\r\nlast"), func(s string) {
		got = append(got, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "frame=1", "frame=2", "last"}, got)
}

func TestForwardLines_too_long_is_read_error(t *testing.T) {
	long := strings.Repeat("x", maxOutputLine+10)
	var got []string
	err := forwardLines(strings.NewReader("ok\n"+long+"\nafter\n"), func(s string) {
		got = append(got, s)
	})
	require.Error(t, err)
	assert.Equal(t, []string{"ok"}, got)
}

func TestClassifyExit(t *testing.T) {
	assert.Equal(t, ExitTerminated, classifyExit(errors.New("signal: terminated"), nil, true).Kind)
	assert.Equal(t, ExitCompleted, classifyExit(nil, nil, false).Kind)

	o := classifyExit(nil, errors.New("read error"), false)
	assert.Equal(t, ExitFailed, o.Kind)
	assert.Equal(t, 0, o.Code)

	o = classifyExit(errors.New("wait failed"), nil, false)
	assert.Equal(t, ExitFailed, o.Kind)
	assert.Equal(t, -1, o.Code)
}

func TestSupervisor_RequestStop_after_reap_is_noop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	fakeEncoder(t, "stream")

	sup := NewSupervisor("ffmpeg", time.Second, logger.Discard())
	p, err := sup.Spawn(SpawnSpec{ID: "s1"})
	require.NoError(t, err)

	// The window between Wait returning and the slot being cleared.
	p.exited.Store(true)
	assert.False(t, sup.RequestStop(p), "a reaped pid must not be signalled")
	assert.False(t, p.stopping.Load())

	p.exited.Store(false)
	require.True(t, sup.RequestStop(p))
	assert.Equal(t, ExitTerminated, sup.Wait(p).Kind)
}
