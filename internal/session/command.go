package session

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultRTMPHost is the ingest host used when none is configured.
const DefaultRTMPHost = "a.rtmp.youtube.com"

const redacted = "****"

// MinKeyLength is the shortest stream key accepted. Keys are redacted by
// substring, so a very short key would blank out unrelated output.
const MinKeyLength = 8

// Profile holds the fixed encoding ladder and destination host.
type Profile struct {
	RTMPHost     string
	Preset       string
	VideoBitrate string
	MaxRate      string
	BufSize      string
	// KeyframeInterval is in frames; 60 gives a 1s GOP at 60 fps.
	KeyframeInterval int
	AudioBitrate     string
}

// DefaultProfile returns the encoding parameters used by the dashboard.
func DefaultProfile() Profile {
	return Profile{
		RTMPHost:         DefaultRTMPHost,
		Preset:           "veryfast",
		VideoBitrate:     "2500k",
		MaxRate:          "2500k",
		BufSize:          "5000k",
		KeyframeInterval: 60,
		AudioBitrate:     "128k",
	}
}

// scaleFor returns the output width and height for a layout.
func scaleFor(layout LayoutMode) (w, h int, ok bool) {
	switch layout {
	case LayoutStandard:
		return 1920, 1080, true
	case LayoutVertical:
		return 720, 1280, true
	default:
		return 0, 0, false
	}
}

// DestinationURL interpolates key into the fixed live2 ingest template.
func DestinationURL(host, key string) string {
	if host == "" {
		host = DefaultRTMPHost
	}
	return fmt.Sprintf("rtmp://%s/live2/%s", host, key)
}

// ValidateRequest checks the fields BuildArgs depends on.
func ValidateRequest(req StreamRequest) error {
	if strings.TrimSpace(req.SourcePath) == "" {
		return &RequestError{Field: "source", Reason: "a source video is required"}
	}
	if strings.TrimSpace(req.TargetKey) == "" {
		return &RequestError{Field: "stream_key", Reason: "a stream key is required"}
	}
	if len(req.TargetKey) < MinKeyLength {
		return &RequestError{Field: "stream_key", Reason: fmt.Sprintf("stream key must be at least %d characters", MinKeyLength)}
	}
	if _, _, ok := scaleFor(req.Layout); !ok {
		return &RequestError{Field: "layout", Reason: fmt.Sprintf("unknown layout %q", req.Layout)}
	}
	return nil
}

// BuildArgs returns the encoder argument list (without the binary name)
// for req. It has no side effects.
func BuildArgs(p Profile, req StreamRequest) ([]string, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	w, h, _ := scaleFor(req.Layout)
	gop := strconv.Itoa(p.KeyframeInterval)

	return []string{
		"-re",
		"-stream_loop", "-1",
		"-i", req.SourcePath,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-b:v", p.VideoBitrate,
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-g", gop,
		"-keyint_min", gop,
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-f", "flv",
		DestinationURL(p.RTMPHost, req.TargetKey),
	}, nil
}

// Redact replaces every occurrence of secret in s.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, redacted)
}

// CommandLine renders binary and args for display with the key redacted.
func CommandLine(binary string, args []string, secret string) string {
	return Redact(binary+" "+strings.Join(args, " "), secret)
}
