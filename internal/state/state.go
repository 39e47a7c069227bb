package state

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/openmined/quicksave/internal/fingerprint"
)

const (
	DefaultCooldownSeconds = 30
	MinCooldownSeconds     = 0
	MaxCooldownSeconds     = 3600
)

var (
	ErrNoProject   = errors.New("state: project path missing")
	ErrStoreClosed = errors.New("state: store closed")
)

// ProjectState is the persisted record for one project file.
type ProjectState struct {
	Project              string                  `json:"project" yaml:"project"`
	LastFingerprint      fingerprint.Fingerprint `json:"last_fingerprint" yaml:"last_fingerprint"`
	LastSendAt           time.Time               `json:"last_send_at" yaml:"last_send_at"`
	PendingCommitMessage string                  `json:"pending_commit_message" yaml:"pending_commit_message"`
	CooldownSeconds      int                     `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	AutoSend             bool                    `json:"auto_send" yaml:"auto_send"`
	EndpointURL          string                  `json:"endpoint_url" yaml:"endpoint_url"`
	ChangeKinds          []string                `json:"change_kinds,omitempty" yaml:"change_kinds,omitempty"`
}

// New returns the defaults used when a project is first seen.
func New(project string) *ProjectState {
	return &ProjectState{
		Project:         project,
		CooldownSeconds: DefaultCooldownSeconds,
	}
}

// NeverSent reports whether no upload has succeeded yet.
func (s *ProjectState) NeverSent() bool {
	return s.LastSendAt.IsZero()
}

// EndpointConfigured reports whether an upload target is set.
func (s *ProjectState) EndpointConfigured() bool {
	return s.EndpointURL != ""
}

// Clone returns a deep copy.
func (s *ProjectState) Clone() *ProjectState {
	if s == nil {
		return nil
	}
	c := *s
	if s.ChangeKinds != nil {
		c.ChangeKinds = append([]string(nil), s.ChangeKinds...)
	}
	return &c
}

// Normalize clamps the cooldown into its allowed range.
func (s *ProjectState) Normalize() {
	s.CooldownSeconds = ClampCooldown(s.CooldownSeconds)
}

// MarkSent records a verified-successful upload of fp at t.
func (s *ProjectState) MarkSent(fp fingerprint.Fingerprint, t time.Time) {
	s.LastFingerprint = fp
	s.LastSendAt = t
}

// ConsumeMessage clears the commit message and change kinds an upload went
// out with. A message replaced in the meantime is kept, and so are kinds
// observed after the upload's message was built.
func (s *ProjectState) ConsumeMessage(message string, kinds []string) {
	if s.PendingCommitMessage == message {
		s.PendingCommitMessage = ""
	}
	if len(kinds) == 0 || len(s.ChangeKinds) == 0 {
		return
	}
	s.ChangeKinds = slices.DeleteFunc(slices.Clone(s.ChangeKinds), func(k string) bool {
		return slices.Contains(kinds, k)
	})
	if len(s.ChangeKinds) == 0 {
		s.ChangeKinds = nil
	}
}

func ClampCooldown(seconds int) int {
	return min(max(seconds, MinCooldownSeconds), MaxCooldownSeconds)
}

// Store persists ProjectState scoped by project path.
//
// Load returns defaults for a project that was never saved. Implementations
// return copies; mutating a loaded state does not affect the store until Save.
//
// Update loads the state, applies fn and saves the result atomically with
// respect to every other writer of the same store, including other processes
// for stores backed by a shared file. An fn error aborts without saving.
type Store interface {
	Load(ctx context.Context, project string) (*ProjectState, error)
	Save(ctx context.Context, state *ProjectState) error
	Update(ctx context.Context, project string, fn func(*ProjectState) error) (*ProjectState, error)
	Close() error
}
