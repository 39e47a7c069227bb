package pipeline

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openmined/quicksave/internal/fingerprint"
)

var (
	ErrJobInFlight = errors.New("pipeline: an upload is already in flight for this project")
	ErrInvalidJob  = errors.New("pipeline: job needs a project and a fingerprint")
	ErrClosed      = errors.New("pipeline: orchestrator closed")
	ErrNoEndpoint  = errors.New("pipeline: no endpoint configured")
)

// Job is one gate-approved upload. It is owned by a single background run.
type Job struct {
	ID          string
	Project     string
	Fingerprint fingerprint.Fingerprint
	Message     string
	// PendingMessage and ChangeKinds are the state values Message was built
	// from. A successful upload clears only these.
	PendingMessage string
	ChangeKinds    []string
	// Autosave suppresses the completion status for autosave and quit saves
	Autosave bool
}

// NewJob returns a job with a fresh ID.
func NewJob(project string, fp fingerprint.Fingerprint, message string, autosave bool) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Project:     project,
		Fingerprint: fp,
		Message:     message,
		Autosave:    autosave,
	}
}

func (j *Job) validate() error {
	if j == nil || j.Project == "" || j.Fingerprint.IsZero() {
		return ErrInvalidJob
	}
	return nil
}

// IsAutosave reports whether path looks like a host autosave or quit-save.
func IsAutosave(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.Contains(name, "autosave") || strings.Contains(name, "quit")
}

// Run is the handle of a submitted job.
type Run struct {
	Job  *Job
	done chan struct{}
	err  error
	once sync.Once
}

func newRun(job *Job) *Run {
	return &Run{Job: job, done: make(chan struct{})}
}

// Done is closed when the job finished, successfully or not.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the job error once Done is closed.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

func (r *Run) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
