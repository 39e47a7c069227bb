package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/quicksave/internal/packager"
	"github.com/openmined/quicksave/internal/state"
	"github.com/openmined/quicksave/internal/status"
	"github.com/openmined/quicksave/internal/uploader"
)

const DefaultClearDelay = 3 * time.Second

// Options wires the orchestrator collaborators. Store, Compressor and
// Uploader are required.
type Options struct {
	Store      state.Store
	Compressor packager.Compressor
	Uploader   uploader.Uploader
	Reporter   status.Reporter
	// LockDir holds cross-process lock files. Empty disables them.
	LockDir string
	// ClearDelay is how long the completion status stays visible.
	ClearDelay time.Duration
	Now        func() time.Time
}

// Orchestrator runs compress and upload jobs in the background, at most one
// per project, and records successful uploads in the state store.
//
// All state mutations go through UpdateState, which runs them as atomic
// store updates, so the success write of a job can never interleave with
// another writer, in this process or another, and is visible to the next Load.
type Orchestrator struct {
	store      state.Store
	compressor packager.Compressor
	uploader   uploader.Uploader
	reporter   status.Reporter
	lockDir    string
	clearDelay time.Duration
	now        func() time.Time

	active map[string]*Run
	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewOrchestrator validates opts and fills in the optional collaborators.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Compressor == nil || opts.Uploader == nil {
		return nil, errors.New("pipeline: store, compressor and uploader are required")
	}
	if opts.Reporter == nil {
		opts.Reporter = status.NewBroadcaster()
	}
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = DefaultClearDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		store:      opts.Store,
		compressor: opts.Compressor,
		uploader:   opts.Uploader,
		reporter:   opts.Reporter,
		lockDir:    opts.LockDir,
		clearDelay: opts.ClearDelay,
		now:        opts.Now,
		active:     make(map[string]*Run),
	}, nil
}

// Submit starts job on a background goroutine and returns immediately.
// It returns ErrJobInFlight if the project already has a running job, in
// this or another process.
func (o *Orchestrator) Submit(job *Job) (*Run, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if _, busy := o.active[job.Project]; busy {
		return nil, ErrJobInFlight
	}

	lock, err := tryLockProject(o.lockDir, job.Project)
	if err != nil {
		return nil, err
	}

	run := newRun(job)
	o.active[job.Project] = run
	o.wg.Add(1)

	slog.Info("pipeline", "op", "submit", "job", job.ID, "project", job.Project, "fingerprint", job.Fingerprint, "autosave", job.Autosave)
	go o.execute(run, lock)

	return run, nil
}

// Active reports whether project has a job in flight.
func (o *Orchestrator) Active(project string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[project]
	return ok
}

// Wait blocks until every submitted job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close rejects new jobs and waits for running ones. Jobs are not cancelled.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

// UpdateState loads the project state, applies fn and saves the result as
// one atomic store update.
func (o *Orchestrator) UpdateState(ctx context.Context, project string, fn func(*state.ProjectState) error) (*state.ProjectState, error) {
	return o.store.Update(ctx, project, fn)
}

func (o *Orchestrator) execute(run *Run, lock *projectLock) {
	job := run.Job
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			o.fail(job, err)
		}

		if lerr := lock.release(); lerr != nil {
			slog.Warn("pipeline", "op", "unlock", "project", job.Project, "error", lerr)
		}

		o.mu.Lock()
		delete(o.active, job.Project)
		o.mu.Unlock()

		run.finish(err)
		o.wg.Done()
	}()

	err = o.process(job)
}

func (o *Orchestrator) process(job *Job) error {
	// jobs are not cancellable; the upload carries its own timeout
	ctx := context.Background()
	start := o.now()

	o.reporter.SetStatus(job.Project, status.TextCompressing)
	archive, err := o.compressor.Compress(ctx, job.Project)
	if err != nil {
		o.fail(job, err)
		return fmt.Errorf("compress: %w", err)
	}
	defer removeArchive(archive)

	o.reporter.SetStatus(job.Project, status.TextUploading)
	endpoint, err := o.endpoint(ctx, job)
	if err != nil {
		o.fail(job, err)
		return err
	}
	if err := o.uploader.Upload(ctx, endpoint, archive.Path, job.Message); err != nil {
		o.fail(job, err)
		return fmt.Errorf("upload: %w", err)
	}

	if _, err := o.UpdateState(ctx, job.Project, func(st *state.ProjectState) error {
		st.MarkSent(job.Fingerprint, o.now())
		st.ConsumeMessage(job.PendingMessage, job.ChangeKinds)
		return nil
	}); err != nil {
		o.fail(job, err)
		return fmt.Errorf("record upload: %w", err)
	}

	slog.Info("pipeline", "op", "complete", "job", job.ID, "project", job.Project, "took", o.now().Sub(start).Round(time.Millisecond))

	if !job.Autosave {
		o.reporter.SetStatus(job.Project, status.TextComplete)
		o.reporter.ClearAfter(job.Project, o.clearDelay)
	}
	return nil
}

// endpoint is read from the store when the upload starts; jobs do not carry it.
func (o *Orchestrator) endpoint(ctx context.Context, job *Job) (string, error) {
	st, err := o.store.Load(ctx, job.Project)
	if err != nil {
		return "", fmt.Errorf("load endpoint: %w", err)
	}
	if !st.EndpointConfigured() {
		return "", ErrNoEndpoint
	}
	return st.EndpointURL, nil
}

func (o *Orchestrator) fail(job *Job, err error) {
	slog.Error("pipeline", "op", "failed", "job", job.ID, "project", job.Project, "error", err)
	text := status.TextFailed(err)
	o.reporter.Notice(job.Project, status.LevelError, text)
	o.reporter.SetStatus(job.Project, text)
	o.reporter.ClearAfter(job.Project, o.clearDelay)
}

func removeArchive(archive *packager.Archive) {
	if err := archive.Remove(); err != nil {
		slog.Warn("pipeline", "op", "cleanup", "archive", archive.Path, "error", err)
	}
}
