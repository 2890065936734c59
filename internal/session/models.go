package session

import (
	"fmt"
	"strings"
	"time"
)

// LayoutMode selects the output resolution preset.
type LayoutMode string

const (
	// LayoutStandard is 16:9 widescreen at 1920x1080.
	LayoutStandard LayoutMode = "standard"
	// LayoutVertical is 9:16 short-form at 720x1280.
	LayoutVertical LayoutMode = "vertical"
)

// ParseLayoutMode maps user input to a LayoutMode. An empty string selects
// LayoutStandard.
func ParseLayoutMode(s string) (LayoutMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(LayoutStandard):
		return LayoutStandard, nil
	case string(LayoutVertical), "shorts":
		return LayoutVertical, nil
	default:
		return "", &RequestError{Field: "layout", Reason: fmt.Sprintf("unknown layout %q", s)}
	}
}

// StreamRequest is the operator's request to start looping a file to the
// destination. It is not modified once accepted.
type StreamRequest struct {
	SourcePath string
	TargetKey  string
	Layout     LayoutMode
}

// State is the lifecycle state of the single stream session.
type State int

const (
	StateOffline State = iota
	StatePreparing
	StateLive
)

var stateNames = [...]string{"offline", "preparing", "live"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LogLine is one entry of the session log.
type LogLine struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// ExitKind classifies how an encoder process ended.
type ExitKind int

const (
	ExitCompleted ExitKind = iota
	ExitFailed
	ExitTerminated
)

func (k ExitKind) String() string {
	switch k {
	case ExitCompleted:
		return "completed"
	case ExitFailed:
		return "failed"
	case ExitTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ExitOutcome is what Wait resolves to once the encoder is gone.
type ExitOutcome struct {
	Kind ExitKind
	// Code is the process exit code for ExitFailed; -1 when the process was
	// killed by a signal it was not asked to receive.
	Code int
	// Err is the underlying wait or output read error, if any.
	Err error
}

func (o ExitOutcome) String() string {
	switch o.Kind {
	case ExitFailed:
		return fmt.Sprintf("failed, exit code %d", o.Code)
	default:
		return o.Kind.String()
	}
}

// Status is a snapshot of the session for the UI. It never carries the key.
type Status struct {
	State     State      `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	Source    string     `json:"source,omitempty"`
	Layout    LayoutMode `json:"layout,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}
