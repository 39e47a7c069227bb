// Package status carries short human readable status lines from the pipeline
// to whatever surface displays them (terminal, host UI).
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const eventBufferSize = 16

// Product copy. Only the cooldown remainder is a contract.
const (
	TextCompressing = "📦 Compressing project..."
	TextUploading   = "📡 Uploading..."
	TextComplete    = "✅ Upload complete"
	TextNoChange    = "⏭️ No changes detected, nothing to upload"
)

func TextCooldown(remainingSeconds int) string {
	return fmt.Sprintf("⏳ Cooldown active, wait %d sec", remainingSeconds)
}

func TextFailed(err error) string {
	return fmt.Sprintf("❌ Upload failed: %v", err)
}

// Kind distinguishes the status line from one-shot notices.
type Kind string

const (
	KindStatus Kind = "status"
	KindNotice Kind = "notice"
	KindClear  Kind = "clear"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Event is one status change for a project.
type Event struct {
	Project string
	Kind    Kind
	Level   Level
	Text    string
	Time    time.Time
}

func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Level, e.Kind, e.Project, e.Text)
}

// Reporter is the sink the pipeline writes to.
type Reporter interface {
	SetStatus(project, text string)
	Notice(project string, level Level, text string)
	ClearAfter(project string, delay time.Duration)
}

// Broadcaster tracks the current status line per project and fans events out
// to subscribers. Slow subscribers drop events rather than block the pipeline.
type Broadcaster struct {
	current map[string]*statusLine
	mu      sync.Mutex

	subs  []chan *Event
	subMu sync.RWMutex
}

type statusLine struct {
	text  string
	token uint64
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current: make(map[string]*statusLine),
	}
}

// Subscribe returns a channel receiving every subsequent event
func (b *Broadcaster) Subscribe() <-chan *Event {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	ch := make(chan *Event, eventBufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (b *Broadcaster) Unsubscribe(ch <-chan *Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			close(sub)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

// Current returns the status line shown for project, or "".
func (b *Broadcaster) Current(project string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if line, ok := b.current[project]; ok {
		return line.text
	}
	return ""
}

func (b *Broadcaster) SetStatus(project, text string) {
	b.mu.Lock()
	line := b.line(project)
	line.text = text
	line.token++
	b.mu.Unlock()

	b.emit(&Event{Project: project, Kind: KindStatus, Level: LevelInfo, Text: text, Time: time.Now()})
}

func (b *Broadcaster) Notice(project string, level Level, text string) {
	b.emit(&Event{Project: project, Kind: KindNotice, Level: level, Text: text, Time: time.Now()})
}

// ClearAfter clears the status line after delay unless it was replaced in
// the meantime.
func (b *Broadcaster) ClearAfter(project string, delay time.Duration) {
	b.mu.Lock()
	token := b.line(project).token
	b.mu.Unlock()

	time.AfterFunc(delay, func() {
		b.mu.Lock()
		line := b.line(project)
		if line.token != token {
			b.mu.Unlock()
			return
		}
		line.text = ""
		line.token++
		b.mu.Unlock()

		b.emit(&Event{Project: project, Kind: KindClear, Level: LevelInfo, Time: time.Now()})
	})
}

func (b *Broadcaster) line(project string) *statusLine {
	line, ok := b.current[project]
	if !ok {
		line = &statusLine{}
		b.current[project] = line
	}
	return line
}

func (b *Broadcaster) emit(ev *Event) {
	if ev.Level == LevelError {
		slog.Warn("status", "kind", ev.Kind, "project", ev.Project, "text", ev.Text)
	} else {
		slog.Debug("status", "kind", ev.Kind, "project", ev.Project, "text", ev.Text)
	}

	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			// subscriber is full, drop
		}
	}
}

var _ Reporter = (*Broadcaster)(nil)
