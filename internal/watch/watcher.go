// Package watch turns filesystem notifications into debounced save events
// for project files matching a glob pattern.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/quicksave/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultPattern  = "**/*.blend"
	DefaultDebounce = 500 * time.Millisecond
	eventBufferSize = 64
)

var (
	ErrInvalidPattern = errors.New("watch: invalid pattern")
)

// SaveEvent is a settled write to a project file.
type SaveEvent struct {
	Path string
	At   time.Time
}

// SaveWatcher watches a directory tree. A host save usually shows up as a
// burst of write or rename events; each burst is reported once, after the
// file has been quiet for the debounce interval.
type SaveWatcher struct {
	root     string
	pattern  string
	debounce time.Duration

	raw    chan notify.EventInfo
	events chan SaveEvent
	done   chan struct{}
	wg     sync.WaitGroup

	timers  map[string]*time.Timer
	closed  bool
	timerMu sync.Mutex
	stop    sync.Once
}

type Option func(*SaveWatcher)

func WithDebounce(d time.Duration) Option {
	return func(w *SaveWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewSaveWatcher watches root for files whose slash-separated path relative
// to root matches pattern.
func NewSaveWatcher(root, pattern string, opts ...Option) (*SaveWatcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	// notify reports real paths, e.g. /private/var on macOS
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	w := &SaveWatcher{
		root:     abs,
		pattern:  pattern,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *SaveWatcher) Root() string {
	return w.root
}

// Matches reports whether path is a project file this watcher reports.
func (w *SaveWatcher) Matches(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	ok, err := doublestar.Match(w.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

func (w *SaveWatcher) Start(ctx context.Context) error {
	if !utils.DirExists(w.root) {
		return fmt.Errorf("watch: %s is not a directory", w.root)
	}

	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan SaveEvent, eventBufferSize)

	// saves land either as in-place writes or as a rename over the target
	if err := notify.Watch(filepath.Join(w.root, "..."), w.raw, notify.Write, notify.Create, notify.Rename); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	slog.Info("watch", "op", "start", "root", w.root, "pattern", w.pattern, "debounce", w.debounce)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Events is closed after Stop or when the start context ends.
func (w *SaveWatcher) Events() <-chan SaveEvent {
	return w.events
}

func (w *SaveWatcher) Stop() {
	w.stop.Do(func() {
		close(w.done)
		if w.raw != nil {
			notify.Stop(w.raw)
		}
		w.wg.Wait()
		slog.Info("watch", "op", "stopped", "root", w.root)
	})
}

// Run starts the watcher and calls fn for every save until ctx ends. fn runs
// on the watcher goroutine, one event at a time.
func (w *SaveWatcher) Run(ctx context.Context, fn func(SaveEvent)) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			fn(ev)
		}
	}
}

func (w *SaveWatcher) loop(ctx context.Context) {
	defer func() {
		w.timerMu.Lock()
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		w.closed = true
		close(w.events)
		w.timerMu.Unlock()

		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ei, ok := <-w.raw:
			if !ok {
				return
			}
			if !w.Matches(ei.Path()) {
				continue
			}
			w.schedule(ei.Path())
		}
	}
}

func (w *SaveWatcher) schedule(path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.flush(path) })
}

func (w *SaveWatcher) flush(path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if _, ok := w.timers[path]; !ok || w.closed {
		return
	}
	delete(w.timers, path)

	// renamed away or deleted during the burst
	if !utils.FileExists(path) {
		return
	}

	select {
	case w.events <- SaveEvent{Path: path, At: time.Now()}:
		slog.Debug("watch", "op", "save", "path", path)
	default:
		slog.Warn("watch", "op", "dropped", "reason", "channel full", "path", path)
	}
}
