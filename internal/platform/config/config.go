package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port          string
	LogLevel      string
	LogFormat     string
	MediaDir      string
	MaxUploadMB   int
	EncoderPath   string
	RTMPHost      string
	LogBufferSize int
	StopGrace     time.Duration
	RatePerMinute int
}

// FromEnv builds a Config from the process environment. Unset or malformed
// variables keep their defaults; call Validate to catch values that parse
// but make no sense.
func FromEnv() Config {
	return Config{
		Port:          GetEnv("PORT", "8080"),
		LogLevel:      GetEnv("LOG_LEVEL", "info"),
		LogFormat:     GetEnv("LOG_FORMAT", "json"),
		MediaDir:      GetEnv("MEDIA_DIR", "."),
		MaxUploadMB:   GetEnvInt("MEDIA_MAX_UPLOAD_MB", 2048),
		EncoderPath:   GetEnv("ENCODER_PATH", "ffmpeg"),
		RTMPHost:      GetEnv("RTMP_HOST", "a.rtmp.youtube.com"),
		LogBufferSize: GetEnvInt("LOG_BUFFER_SIZE", 200),
		StopGrace:     GetEnvDuration("STOP_GRACE", 5*time.Second),
		RatePerMinute: GetEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}

// Validate reports every setting that cannot be used, joined.
func (c Config) Validate() error {
	var errs []error
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %q is not a TCP port", c.Port))
	}
	if c.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("MEDIA_MAX_UPLOAD_MB: must not be negative, got %d", c.MaxUploadMB))
	}
	if c.LogBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("LOG_BUFFER_SIZE: must be positive, got %d", c.LogBufferSize))
	}
	if c.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("STOP_GRACE: must be positive, got %s", c.StopGrace))
	}
	if c.RatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE: must be positive, got %d", c.RatePerMinute))
	}
	if c.EncoderPath == "" || c.RTMPHost == "" {
		errs = append(errs, errors.New("ENCODER_PATH and RTMP_HOST must not be empty"))
	}
	return errors.Join(errs...)
}

// Load copies variables from a dotenv file (".env" when no path is given)
// into the environment without overriding ones already set. A missing file
// is an error the caller may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the variable's value, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if s, ok := os.LookupEnv(key); ok && s != "" {
		return s
	}
	return fallback
}

// GetEnvInt is GetEnv for integers; unparsable values yield fallback.
func GetEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvDuration parses the variable with time.ParseDuration ("5s", "1m30s").
// A bare integer is taken as seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := GetEnv(key, "")
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
