package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/openmined/quicksave/internal/fingerprint"
	"github.com/openmined/quicksave/internal/gate"
	"github.com/openmined/quicksave/internal/state"
	"github.com/openmined/quicksave/internal/status"
	"github.com/openmined/quicksave/internal/utils"
)

// Result describes what a save or send request did.
type Result struct {
	Project  string
	Decision gate.Decision
	Autosave bool
	// Run is set when a job was submitted.
	Run *Run
	Err error
}

// Submitted reports whether a job was started.
func (r *Result) Submitted() bool {
	return r.Run != nil
}

// Service is the foreground entry point: it receives save events and
// settings changes and hands approved uploads to the orchestrator.
type Service struct {
	orch     *Orchestrator
	store    state.Store
	gate     *gate.Gate
	reporter status.Reporter
	now      func() time.Time
}

type ServiceOptions struct {
	Orchestrator  *Orchestrator
	Fingerprinter fingerprint.Fingerprinter
}

// NewService returns a Service bound to opts.Orchestrator and its store.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("pipeline: orchestrator is required")
	}
	o := opts.Orchestrator
	return &Service{
		orch:     o,
		store:    o.store,
		gate:     gate.New(opts.Fingerprinter),
		reporter: o.reporter,
		now:      o.now,
	}, nil
}

// OnSave handles a host save event. Configuration skips are silent; no-change
// and cooldown skips are silent for autosaves.
func (s *Service) OnSave(ctx context.Context, path string) *Result {
	return s.handle(ctx, path, gate.OnSave)
}

// SendNow is the manual trigger. It needs an endpoint but not auto-send, and
// always reports why nothing was sent.
func (s *Service) SendNow(ctx context.Context, path string) *Result {
	return s.handle(ctx, path, gate.Manual)
}

func (s *Service) handle(ctx context.Context, path string, trigger gate.Trigger) *Result {
	res := &Result{}
	if path == "" {
		res.Decision = gate.Decision{Kind: gate.SkipNotConfigured}
		return res
	}

	project, err := utils.ResolvePath(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Project = project
	res.Autosave = trigger == gate.OnSave && IsAutosave(project)

	st, err := s.store.Load(ctx, project)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		s.reportError(project, res.Err)
		return res
	}

	res.Decision = s.gate.Decide(gate.Request{
		State:   st,
		Path:    project,
		Now:     s.now(),
		Trigger: trigger,
	})
	slog.Debug("gate", "project", project, "decision", res.Decision.String(), "autosave", res.Autosave)

	switch res.Decision.Kind {
	case gate.SkipNotConfigured:
		if trigger == gate.Manual {
			s.notify(project, status.LevelInfo, "Set an endpoint URL before sending")
		}
	case gate.SkipCooldown:
		if !res.Autosave {
			s.notify(project, status.LevelInfo, status.TextCooldown(res.Decision.RemainingSeconds()))
		}
	case gate.SkipNoChange:
		if !res.Autosave {
			s.notify(project, status.LevelInfo, status.TextNoChange)
		}
	case gate.Failed:
		res.Err = res.Decision.Err
		s.reportError(project, res.Err)
	case gate.Send:
		job := NewJob(project, res.Decision.Fingerprint, BuildMessage(st), res.Autosave)
		job.PendingMessage = st.PendingCommitMessage
		job.ChangeKinds = slices.Clone(st.ChangeKinds)
		run, err := s.orch.Submit(job)
		if err != nil {
			res.Err = err
			if errors.Is(err, ErrJobInFlight) {
				if !res.Autosave {
					s.notify(project, status.LevelInfo, "⏳ Upload already in progress")
				}
			} else {
				s.reportError(project, err)
			}
			return res
		}
		res.Run = run
	}

	return res
}

// Configure applies settings to a project. Nil fields are left unchanged.
func (s *Service) Configure(ctx context.Context, path string, settings Settings) (*state.ProjectState, error) {
	project, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return s.orch.UpdateState(ctx, project, func(st *state.ProjectState) error {
		settings.apply(st)
		return nil
	})
}

// ObserveEdit records categories of edits seen since the last upload. They
// only decorate the default commit message and never affect gating.
func (s *Service) ObserveEdit(ctx context.Context, path string, kinds ...string) (*state.ProjectState, error) {
	normalized := make([]string, 0, len(kinds))
	for _, k := range kinds {
		nk, err := NormalizeChangeKind(k)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, nk)
	}

	project, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return s.orch.UpdateState(ctx, project, func(st *state.ProjectState) error {
		st.ChangeKinds = mergeChangeKinds(st.ChangeKinds, normalized...)
		return nil
	})
}

// State returns the current state of a project.
func (s *Service) State(ctx context.Context, path string) (*state.ProjectState, error) {
	project, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return s.store.Load(ctx, project)
}

func (s *Service) notify(project string, level status.Level, text string) {
	s.reporter.Notice(project, level, text)
	s.reporter.SetStatus(project, text)
	s.reporter.ClearAfter(project, s.orch.clearDelay)
}

func (s *Service) reportError(project string, err error) {
	slog.Error("pipeline", "op", "save", "project", project, "error", err)
	s.notify(project, status.LevelError, status.TextFailed(err))
}

// Settings is a partial update of the user-facing project settings.
type Settings struct {
	EndpointURL     *string
	AutoSend        *bool
	CooldownSeconds *int
	CommitMessage   *string
}

func (c Settings) apply(st *state.ProjectState) {
	if c.EndpointURL != nil {
		st.EndpointURL = strings.TrimSpace(*c.EndpointURL)
	}
	if c.AutoSend != nil {
		st.AutoSend = *c.AutoSend
	}
	if c.CooldownSeconds != nil {
		st.CooldownSeconds = state.ClampCooldown(*c.CooldownSeconds)
	}
	if c.CommitMessage != nil {
		st.PendingCommitMessage = *c.CommitMessage
	}
}
