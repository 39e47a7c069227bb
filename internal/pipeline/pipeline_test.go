package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/quicksave/internal/fingerprint"
	"github.com/openmined/quicksave/internal/gate"
	"github.com/openmined/quicksave/internal/packager"
	"github.com/openmined/quicksave/internal/state"
	"github.com/openmined/quicksave/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://hooks.example.com/webhook"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeCompressor struct {
	dir   string
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (f *fakeCompressor) Compress(_ context.Context, src string) (*packager.Archive, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(f.dir, "job-*")
	if err != nil {
		return nil, err
	}
	archive := &packager.Archive{Path: filepath.Join(dir, packager.ArchiveName(src)), Dir: dir}
	return archive, os.WriteFile(archive.Path, data, 0o644)
}

type upload struct {
	endpoint string
	archive  string
	message  string
	data     []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	err     error
	panics  bool
	uploads []upload
}

func (f *fakeUploader) Upload(_ context.Context, endpoint, archive, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("uploader exploded")
	}
	data, _ := os.ReadFile(archive)
	f.uploads = append(f.uploads, upload{endpoint: endpoint, archive: archive, message: message, data: data})
	return f.err
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeUploader) last() upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[len(f.uploads)-1]
}

type recordingReporter struct {
	mu     sync.Mutex
	events []status.Event
}

func (r *recordingReporter) SetStatus(project, text string) {
	r.add(status.Event{Project: project, Kind: status.KindStatus, Level: status.LevelInfo, Text: text})
}

func (r *recordingReporter) Notice(project string, level status.Level, text string) {
	r.add(status.Event{Project: project, Kind: status.KindNotice, Level: level, Text: text})
}

func (r *recordingReporter) ClearAfter(string, time.Duration) {}

func (r *recordingReporter) add(ev status.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Text)
	}
	return out
}

func (r *recordingReporter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	store      state.Store
	compressor *fakeCompressor
	uploader   *fakeUploader
	reporter   *recordingReporter
	clock      *fakeClock
	orch       *Orchestrator
	svc        *Service
	project    string
}

func newHarness(t *testing.T, store state.Store) *harness {
	t.Helper()
	if store == nil {
		store = state.NewMemoryStore()
	}

	h := &harness{
		store:      store,
		compressor: &fakeCompressor{dir: t.TempDir()},
		uploader:   &fakeUploader{},
		reporter:   &recordingReporter{},
		clock:      newFakeClock(),
		project:    filepath.Join(t.TempDir(), "scene.blend"),
	}

	orch, err := NewOrchestrator(Options{
		Store:      h.store,
		Compressor: h.compressor,
		Uploader:   h.uploader,
		Reporter:   h.reporter,
		LockDir:    t.TempDir(),
		Now:        h.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	h.orch = orch

	h.svc, err = NewService(ServiceOptions{Orchestrator: orch})
	require.NoError(t, err)
	return h
}

func (h *harness) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.project, []byte(content), 0o644))
}

func (h *harness) configure(t *testing.T, cooldown int) {
	t.Helper()
	endpoint, autoSend := testEndpoint, true
	_, err := h.svc.Configure(context.Background(), h.project, Settings{
		EndpointURL:     &endpoint,
		AutoSend:        &autoSend,
		CooldownSeconds: &cooldown,
	})
	require.NoError(t, err)
}

func (h *harness) load(t *testing.T) *state.ProjectState {
	t.Helper()
	st, err := h.store.Load(context.Background(), h.project)
	require.NoError(t, err)
	return st
}

func waitRun(t *testing.T, res *Result) error {
	t.Helper()
	require.NotNil(t, res.Run, "expected a submitted job, got %s (err=%v)", res.Decision, res.Err)
	select {
	case <-res.Run.Done():
		return res.Run.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestEndToEnd_ChangeGatedUploads(t *testing.T) {
	store, err := state.OpenSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, store)
	h.configure(t, 30)
	ctx := context.Background()

	// never sent, content "A"
	h.write(t, "A")
	res := h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	require.NoError(t, waitRun(t, res))

	fpA, err := fingerprint.Compute(h.project)
	require.NoError(t, err)
	sentAt := h.clock.Now()

	st := h.load(t)
	assert.Equal(t, fpA, st.LastFingerprint)
	assert.True(t, sentAt.Equal(st.LastSendAt))
	assert.Equal(t, testEndpoint, h.uploader.last().endpoint)
	assert.Equal(t, []byte("A"), h.uploader.last().data)

	// unchanged content after the cooldown
	h.clock.Advance(31 * time.Second)
	res = h.svc.OnSave(ctx, h.project)
	assert.Equal(t, gate.SkipNoChange, res.Decision.Kind)

	h.write(t, "B")
	res = h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	require.NoError(t, waitRun(t, res))
	secondSend := h.clock.Now()

	// changed within 30s
	h.clock.Advance(10 * time.Second)
	h.write(t, "C")
	res = h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.SkipCooldown, res.Decision.Kind)
	assert.Equal(t, 20, res.Decision.RemainingSeconds())

	// 31s after the last send
	h.clock.Advance(21 * time.Second)
	res = h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	require.NoError(t, waitRun(t, res))

	st = h.load(t)
	assert.True(t, st.LastSendAt.After(secondSend))
	assert.Equal(t, 3, h.uploader.count())
}

func TestEndToEnd_ImmediateResaveUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 0)
	ctx := context.Background()

	h.write(t, "A")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))

	h.reporter.reset()
	res := h.svc.OnSave(ctx, h.project)
	assert.Equal(t, gate.SkipNoChange, res.Decision.Kind)
	assert.Contains(t, h.reporter.texts(), status.TextNoChange)
}

func TestEndToEnd_CooldownAfterSend(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	ctx := context.Background()

	h.write(t, "A")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))

	h.clock.Advance(29 * time.Second)
	h.write(t, "B")
	res := h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.SkipCooldown, res.Decision.Kind)
	assert.Equal(t, 1, res.Decision.RemainingSeconds())
	assert.Contains(t, h.reporter.texts(), status.TextCooldown(1))

	h.clock.Advance(2 * time.Second)
	res = h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	require.NoError(t, waitRun(t, res))
}

func TestOrchestrator_PackagerFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.compressor.err = &packager.ExternalToolError{Tool: "7z", ExitCode: 2, Stderr: "boom"}
	ctx := context.Background()

	before := h.load(t)
	h.write(t, "A")

	res := h.svc.OnSave(ctx, h.project)
	err := waitRun(t, res)

	var toolErr *packager.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, before, h.load(t))
	assert.Zero(t, h.uploader.count())
	assert.False(t, h.orch.Active(res.Project))
	assert.Contains(t, h.reporter.texts(), status.TextFailed(toolErr))
}

func TestOrchestrator_UploaderFailureReleasesLock(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.uploader.err = errors.New("HTTP 500")
	ctx := context.Background()

	before := h.load(t)
	h.write(t, "A")

	res := h.svc.OnSave(ctx, h.project)
	require.Error(t, waitRun(t, res))
	assert.Equal(t, before, h.load(t))
	assert.False(t, h.orch.Active(res.Project))

	// retry from the same baseline
	h.uploader.err = nil
	res = h.svc.OnSave(ctx, h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	require.NoError(t, waitRun(t, res))
	assert.Equal(t, 2, h.uploader.count())
}

func TestOrchestrator_FailuresVisibleForAutosave(t *testing.T) {
	h := newHarness(t, nil)
	h.project = filepath.Join(filepath.Dir(h.project), "scene_autosave.blend")
	h.configure(t, 30)
	h.uploader.err = errors.New("offline")

	h.write(t, "A")
	res := h.svc.OnSave(context.Background(), h.project)
	require.True(t, res.Autosave)
	require.Error(t, waitRun(t, res))

	assert.Contains(t, h.reporter.texts(), status.TextFailed(errors.New("offline")))
}

func TestOrchestrator_OneJobPerProject(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.compressor.block = make(chan struct{})
	ctx := context.Background()

	h.write(t, "A")
	first := h.svc.OnSave(ctx, h.project)
	require.True(t, first.Submitted())

	h.write(t, "B")
	second := h.svc.OnSave(ctx, h.project)
	assert.False(t, second.Submitted())
	assert.ErrorIs(t, second.Err, ErrJobInFlight)

	third := h.svc.SendNow(ctx, h.project)
	assert.ErrorIs(t, third.Err, ErrJobInFlight)

	close(h.compressor.block)
	require.NoError(t, waitRun(t, first))
	assert.Equal(t, int32(1), h.compressor.calls.Load())
	assert.Equal(t, 1, h.uploader.count())
}

func TestOrchestrator_ConcurrentSubmitsSingleWinner(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.compressor.block = make(chan struct{})
	h.write(t, "A")

	const n = 16
	var wg sync.WaitGroup
	var submitted atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orch.Submit(NewJob(h.project, "fp", "m", false)); err == nil {
				submitted.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrJobInFlight)
			}
		}()
	}
	wg.Wait()
	close(h.compressor.block)
	h.orch.Wait()

	assert.Equal(t, int32(1), submitted.Load())
}

func TestOrchestrator_ProjectsRunIndependently(t *testing.T) {
	h := newHarness(t, nil)
	h.compressor.block = make(chan struct{})
	other := filepath.Join(filepath.Dir(h.project), "other.blend")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	h.write(t, "A")

	_, err := h.orch.Submit(NewJob(h.project, "fp1", "m", false))
	require.NoError(t, err)
	_, err = h.orch.Submit(NewJob(other, "fp2", "m", false))
	require.NoError(t, err)

	close(h.compressor.block)
	h.orch.Wait()
}

func TestOrchestrator_CrossProcessLock(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "A")

	held := flock.New(filepath.Join(h.orch.lockDir, lockFileName(h.project)))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = h.orch.Submit(NewJob(h.project, "fp", "m", false))
	assert.ErrorIs(t, err, ErrJobInFlight)

	require.NoError(t, held.Unlock())
	run, err := h.orch.Submit(NewJob(h.project, "fp", "m", false))
	require.NoError(t, err)
	<-run.Done()
}

func TestOrchestrator_PanicIsContained(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.uploader.panics = true
	h.write(t, "A")

	res := h.svc.OnSave(context.Background(), h.project)
	err := waitRun(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploader exploded")
	assert.False(t, h.orch.Active(res.Project))
	assert.True(t, h.load(t).NeverSent())
}

func TestOrchestrator_RemovesArchive(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.write(t, "A")

	require.NoError(t, waitRun(t, h.svc.OnSave(context.Background(), h.project)))
	archive := h.uploader.last().archive
	assert.Equal(t, "scene.7z", filepath.Base(archive))
	assert.NoFileExists(t, archive)
	assert.NoDirExists(t, filepath.Dir(archive))
	assert.DirExists(t, h.compressor.dir)
}

func TestOrchestrator_SameNameProjectsKeepTheirArchives(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script compressor not supported on windows")
	}
	tool := filepath.Join(t.TempDir(), "7z")
	script := `#!/bin/sh
for last; do :; done
eval dest=\${$(($#-1))}
cp "$last" "$dest"
sleep 0.3
`
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	store := state.NewMemoryStore()
	uploads := &fakeUploader{}
	scratch := t.TempDir()
	orch, err := NewOrchestrator(Options{
		Store:      store,
		Compressor: packager.NewSevenZip(tool, scratch),
		Uploader:   uploads,
		Reporter:   &recordingReporter{},
		LockDir:    t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	ctx := context.Background()
	root := t.TempDir()
	projects := map[string]string{
		filepath.Join(root, "a", "scene.blend"): "CONTENT-A",
		filepath.Join(root, "b", "scene.blend"): "CONTENT-B",
	}
	var runs []*Run
	for project, content := range projects {
		require.NoError(t, os.MkdirAll(filepath.Dir(project), 0o755))
		require.NoError(t, os.WriteFile(project, []byte(content), 0o644))
		_, err := store.Update(ctx, project, func(st *state.ProjectState) error {
			st.EndpointURL = testEndpoint
			return nil
		})
		require.NoError(t, err)

		run, err := orch.Submit(NewJob(project, fingerprint.Fingerprint("fp-"+content), "m", false))
		require.NoError(t, err)
		runs = append(runs, run)
	}

	for _, run := range runs {
		require.NoError(t, run.Err())
		st, err := store.Load(ctx, run.Job.Project)
		require.NoError(t, err)
		assert.Equal(t, run.Job.Fingerprint, st.LastFingerprint)
	}

	require.Len(t, uploads.uploads, 2)
	got := map[string]string{}
	for _, up := range uploads.uploads {
		assert.Equal(t, "scene.7z", filepath.Base(up.archive))
		got[string(up.data)] = up.archive
	}
	assert.Contains(t, got, "CONTENT-A")
	assert.Contains(t, got, "CONTENT-B")
	assert.NotEqual(t, got["CONTENT-A"], got["CONTENT-B"])

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOrchestrator_AutosaveSuppressesCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.project = filepath.Join(filepath.Dir(h.project), "quit.blend")
	h.configure(t, 30)
	h.write(t, "A")

	res := h.svc.OnSave(context.Background(), h.project)
	require.True(t, res.Autosave)
	require.NoError(t, waitRun(t, res))

	texts := h.reporter.texts()
	assert.Contains(t, texts, status.TextCompressing)
	assert.Contains(t, texts, status.TextUploading)
	assert.NotContains(t, texts, status.TextComplete)
}

func TestOrchestrator_ManualShowsCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)
	h.write(t, "A")

	require.NoError(t, waitRun(t, h.svc.SendNow(context.Background(), h.project)))
	assert.Equal(t, []string{status.TextCompressing, status.TextUploading, status.TextComplete}, h.reporter.texts())
}

func TestOrchestrator_MissingEndpointAtUploadTime(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "A")

	run, err := h.orch.Submit(NewJob(h.project, "fp", "m", false))
	require.NoError(t, err)
	<-run.Done()
	assert.ErrorIs(t, run.Err(), ErrNoEndpoint)
	assert.Zero(t, h.uploader.count())
}

func TestOrchestrator_RejectsInvalidAndClosed(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Submit(&Job{Project: h.project})
	assert.ErrorIs(t, err, ErrInvalidJob)

	h.orch.Close()
	_, err = h.orch.Submit(NewJob(h.project, "fp", "m", false))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestService_SkipsSilentlyWhenNotConfigured(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "A")

	res := h.svc.OnSave(context.Background(), h.project)
	assert.Equal(t, gate.SkipNotConfigured, res.Decision.Kind)
	assert.Empty(t, h.reporter.texts())

	res = h.svc.OnSave(context.Background(), "")
	assert.Equal(t, gate.SkipNotConfigured, res.Decision.Kind)
}

func TestService_AutosaveSkipsAreSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.project = filepath.Join(filepath.Dir(h.project), "scene.blend@autosave.blend")
	h.configure(t, 30)
	h.write(t, "A")
	ctx := context.Background()

	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))
	h.reporter.reset()

	h.clock.Advance(5 * time.Second)
	res := h.svc.OnSave(ctx, h.project)
	assert.Equal(t, gate.SkipCooldown, res.Decision.Kind)

	h.clock.Advance(time.Minute)
	res = h.svc.OnSave(ctx, h.project)
	assert.Equal(t, gate.SkipNoChange, res.Decision.Kind)

	assert.Empty(t, h.reporter.texts())
}

func TestService_SendNowWithoutAutoSend(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := testEndpoint
	_, err := h.svc.Configure(context.Background(), h.project, Settings{EndpointURL: &endpoint})
	require.NoError(t, err)
	h.write(t, "A")

	assert.Equal(t, gate.SkipNotConfigured, h.svc.OnSave(context.Background(), h.project).Decision.Kind)

	res := h.svc.SendNow(context.Background(), h.project)
	require.Equal(t, gate.Send, res.Decision.Kind)
	assert.False(t, res.Autosave)
	require.NoError(t, waitRun(t, res))
}

func TestService_FingerprintFailureIsReported(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 30)

	res := h.svc.OnSave(context.Background(), h.project) // file never written
	assert.Equal(t, gate.Failed, res.Decision.Kind)

	var ioErr *fingerprint.IOError
	assert.ErrorAs(t, res.Err, &ioErr)
	assert.NotEmpty(t, h.reporter.texts())
}

func TestService_CommitMessageFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 0)
	ctx := context.Background()

	msg := "  Add lamp rig  "
	_, err := h.svc.Configure(ctx, h.project, Settings{CommitMessage: &msg})
	require.NoError(t, err)
	_, err = h.svc.ObserveEdit(ctx, h.project, "geometry")
	require.NoError(t, err)

	h.write(t, "A")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))
	assert.Equal(t, "Add lamp rig", h.uploader.last().message)

	st := h.load(t)
	assert.Empty(t, st.PendingCommitMessage)
	assert.Empty(t, st.ChangeKinds)

	_, err = h.svc.ObserveEdit(ctx, h.project, "Shading", "transform")
	require.NoError(t, err)
	h.write(t, "B")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))
	assert.Equal(t, "Update: Shading, Transform", h.uploader.last().message)

	h.write(t, "C")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))
	assert.Equal(t, DefaultMessage, h.uploader.last().message)
}

func TestService_MessageEnteredDuringUploadIsKept(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 0)
	ctx := context.Background()

	first := "Add lamp rig"
	_, err := h.svc.Configure(ctx, h.project, Settings{CommitMessage: &first})
	require.NoError(t, err)
	_, err = h.svc.ObserveEdit(ctx, h.project, "Geometry")
	require.NoError(t, err)

	h.compressor.block = make(chan struct{})
	h.write(t, "A")
	res := h.svc.OnSave(ctx, h.project)
	require.NotNil(t, res.Run)
	require.Eventually(t, func() bool { return h.compressor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := "Bake the lighting"
	_, err = h.svc.Configure(ctx, h.project, Settings{CommitMessage: &second})
	require.NoError(t, err)
	_, err = h.svc.ObserveEdit(ctx, h.project, "Shading")
	require.NoError(t, err)

	close(h.compressor.block)
	require.NoError(t, waitRun(t, res))
	assert.Equal(t, first, h.uploader.last().message)

	st := h.load(t)
	assert.False(t, st.NeverSent())
	assert.Equal(t, second, st.PendingCommitMessage)
	assert.Equal(t, []string{"Shading"}, st.ChangeKinds)
}

func TestService_ObserveEditRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.ObserveEdit(context.Background(), h.project, "Animation")
	assert.ErrorIs(t, err, ErrUnknownChangeKind)
}

func TestService_ObserveEditDoesNotGate(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 0)
	ctx := context.Background()

	h.write(t, "A")
	require.NoError(t, waitRun(t, h.svc.OnSave(ctx, h.project)))

	// an edit signal alone never forces a send of unchanged content
	_, err := h.svc.ObserveEdit(ctx, h.project, ChangeGeometry)
	require.NoError(t, err)
	assert.Equal(t, gate.SkipNoChange, h.svc.OnSave(ctx, h.project).Decision.Kind)
}

func TestService_ConfigureClampsCooldown(t *testing.T) {
	h := newHarness(t, nil)
	cooldown := 7200
	st, err := h.svc.Configure(context.Background(), h.project, Settings{CooldownSeconds: &cooldown})
	require.NoError(t, err)
	assert.Equal(t, state.MaxCooldownSeconds, st.CooldownSeconds)
}

func TestIsAutosave(t *testing.T) {
	assert.True(t, IsAutosave("/tmp/1234_autosave.blend"))
	assert.True(t, IsAutosave("/tmp/quit.blend"))
	assert.True(t, IsAutosave("/tmp/Scene_AutoSave.blend"))
	assert.False(t, IsAutosave("/tmp/scene.blend"))
	assert.False(t, IsAutosave("/quitting/scene.blend"))
}

func TestBuildMessage(t *testing.T) {
	st := state.New("/p/a.blend")
	assert.Equal(t, DefaultMessage, BuildMessage(st))

	st.ChangeKinds = []string{ChangeShading, ChangeGeometry, ChangeShading}
	assert.Equal(t, "Update: Geometry, Shading", BuildMessage(st))

	st.PendingCommitMessage = "   "
	assert.Equal(t, "Update: Geometry, Shading", BuildMessage(st))

	st.PendingCommitMessage = " wip "
	assert.Equal(t, "wip", BuildMessage(st))
}

func TestNormalizeChangeKind(t *testing.T) {
	k, err := NormalizeChangeKind(" TRANSFORM ")
	require.NoError(t, err)
	assert.Equal(t, ChangeTransform, k)

	_, err = NormalizeChangeKind("")
	assert.ErrorIs(t, err, ErrUnknownChangeKind)
}
