// Package media manages the directory of source videos the operator can
// stream: listing, resolving a selection to a path, and saving uploads.
package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// DefaultExtensions are the containers the dashboard accepts.
var DefaultExtensions = []string{".mp4", ".flv"}

var (
	// ErrNotFound is returned when a name does not match a video in the
	// library.
	ErrNotFound = errors.New("video not found")

	// ErrInvalidName is returned for names with path components or that are
	// otherwise unusable as a file name.
	ErrInvalidName = errors.New("invalid file name")

	// ErrUnsupportedType is returned for extensions outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")
)

// Item is one entry of the library listing.
type Item struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Library is a cached view of the media directory. The cache is refreshed
// lazily after Invalidate, which the directory watcher calls on changes.
type Library struct {
	dir      string
	exts     []string
	maxBytes int64
	log      *slog.Logger

	mu    sync.RWMutex
	items []Item
	stale bool
}

// NewLibrary returns a Library over dir. maxBytes <= 0 disables the upload
// size limit.
func NewLibrary(dir string, maxBytes int64, log *slog.Logger) *Library {
	return &Library{
		dir:      dir,
		exts:     DefaultExtensions,
		maxBytes: maxBytes,
		log:      log,
		stale:    true,
	}
}

// Dir returns the media directory.
func (l *Library) Dir() string { return l.dir }

// List returns the supported videos sorted by name.
func (l *Library) List() ([]Item, error) {
	l.mu.RLock()
	if !l.stale {
		out := append([]Item(nil), l.items...)
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stale {
		items, err := l.scan()
		if err != nil {
			return nil, err
		}
		l.items = items
		l.stale = false
	}
	return append([]Item(nil), l.items...), nil
}

// Invalidate marks the cached listing out of date.
func (l *Library) Invalidate() {
	l.mu.Lock()
	l.stale = true
	l.mu.Unlock()
}

// Resolve maps a listed name to its path.
func (l *Library) Resolve(name string) (string, error) {
	if err := l.checkName(name); err != nil {
		return "", err
	}
	path := filepath.Join(l.dir, name)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// Save writes r to name in the library, replacing any file of that name
// atomically so a stream reading the old file is not disturbed.
func (l *Library) Save(name string, r io.Reader) (Item, error) {
	if err := l.checkName(name); err != nil {
		return Item{}, err
	}
	dst := filepath.Join(l.dir, name)

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return Item{}, fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			l.log.Debug("cleanup pending upload", slog.String("error", err.Error()))
		}
	}()

	src := r
	if l.maxBytes > 0 {
		src = io.LimitReader(r, l.maxBytes+1)
	}
	n, err := io.Copy(pending, src)
	if err != nil {
		return Item{}, fmt.Errorf("write upload: %w", err)
	}
	if l.maxBytes > 0 && n > l.maxBytes {
		return Item{}, ErrTooLarge
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return Item{}, fmt.Errorf("commit upload: %w", err)
	}

	l.Invalidate()
	l.log.Info("media saved", slog.String("name", name), slog.Int64("size", n))
	return Item{Name: name, Size: n, ModTime: time.Now().UTC()}, nil
}

func (l *Library) scan() ([]Item, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !l.supported(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		items = append(items, Item{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime().UTC()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (l *Library) checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !l.supported(name) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
	}
	return nil
}

func (l *Library) supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range l.exts {
		if ext == e {
			return true
		}
	}
	return false
}
