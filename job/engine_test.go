package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInvocation returns its outcome once gate is closed, or an aborted
// outcome as soon as it is terminated.
type fakeInvocation struct {
	job       *Job
	outcome   Outcome
	gate      <-chan struct{}
	started   chan<- *Job
	terminate chan struct{}
	once      sync.Once
}

func (f *fakeInvocation) Launch() Outcome {
	select {
	case <-f.terminate:
		return Outcome{ExitCode: -1, Terminated: true}
	default:
	}
	if f.started != nil {
		f.started <- f.job
	}
	if f.gate == nil {
		return f.outcome
	}
	select {
	case <-f.gate:
		return f.outcome
	case <-f.terminate:
		return Outcome{ExitCode: -1, Stderr: "killed", Terminated: true}
	}
}

func (f *fakeInvocation) Terminate() {
	f.once.Do(func() { close(f.terminate) })
}

// fakeRunner mocks the Runner interface. Outcomes and gates are keyed by
// archive file name; unknown archives succeed immediately.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	gates    map[string]chan struct{}
	started  chan *Job
	prepared []string
	dests    []string
	version  string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outcomes: map[string]Outcome{},
		gates:    map[string]chan struct{}{},
		started:  make(chan *Job, 100),
	}
}

func (r *fakeRunner) Prepare(cmd Command, j *Job, destination string) Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := filepath.Base(j.FilePath)
	r.prepared = append(r.prepared, name)
	r.dests = append(r.dests, destination)
	inv := &fakeInvocation{
		job:       j,
		outcome:   r.outcomes[name],
		started:   r.started,
		terminate: make(chan struct{}),
	}
	if gate, ok := r.gates[name]; ok {
		inv.gate = gate
	}
	return inv
}

func (r *fakeRunner) Version(ctx context.Context) (string, error) {
	if r.version == "" {
		return "", errors.New("unavailable")
	}
	return r.version, nil
}

func (r *fakeRunner) setOutcome(name string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[name] = o
}

func (r *fakeRunner) gate(name string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := make(chan struct{})
	r.gates[name] = g
	return g
}

func (r *fakeRunner) preparedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prepared...)
}

// recorder is an Observer that keeps every notification as a string.
type recorder struct {
	mu      sync.Mutex
	events  []string
	stopped chan string
}

func newRecorder() *recorder {
	return &recorder{stopped: make(chan string, 10)}
}

func (r *recorder) JobChanged(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, filepath.Base(j.FilePath)+":"+j.State().String())
}

func (r *recorder) BatchStarted(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "started")
}

func (r *recorder) BatchStopped(batchID string) {
	r.mu.Lock()
	r.events = append(r.events, "stopped")
	r.mu.Unlock()
	r.stopped <- batchID
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.all() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestEngine(t *testing.T, runner *fakeRunner, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	e := NewEngine(runner, opts...)
	rec := newRecorder()
	e.Subscribe(rec)
	e.SetCommand(Command{Kind: KindTest})

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, rec
}

func waitStopped(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop")
	}
}

func waitStarted(t *testing.T, runner *fakeRunner, name string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case j := <-runner.started:
			if filepath.Base(j.FilePath) == name {
				return
			}
		case <-timeout:
			t.Fatalf("%s was never launched", name)
		}
	}
}

func TestEngine_ProcessesBatchToCompletion(t *testing.T) {
	runner := newFakeRunner()
	runner.setOutcome("b.ace", Outcome{ExitCode: 2, Stderr: "CRC error"})
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace", "c.ace")
	rec.reset()
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, StateSuccess, jobs[0].State())
	assert.Equal(t, StateFailure, jobs[1].State())
	assert.Equal(t, "CRC error", jobs[1].Stderr())
	assert.Equal(t, StateSuccess, jobs[2].State())
	assert.False(t, e.IsProcessing())

	assert.Equal(t, []string{
		"started",
		"a.ace:processing", "a.ace:success",
		"b.ace:processing", "b.ace:failure",
		"c.ace:processing", "c.ace:success",
		"stopped",
	}, rec.all())
}

func TestEngine_StopAbortsInFlightJob(t *testing.T) {
	runner := newFakeRunner()
	runner.gate("b.ace")
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace", "c.ace", "d.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "b.ace")
	assert.True(t, e.IsProcessing())

	e.StopProcessing()
	waitStopped(t, rec)

	assert.Equal(t, StateSuccess, jobs[0].State())
	assert.Equal(t, StateAborted, jobs[1].State())
	assert.Equal(t, "killed", jobs[1].Stderr())
	assert.Equal(t, StateQueued, jobs[2].State())
	assert.Equal(t, StateQueued, jobs[3].State())
	assert.False(t, e.IsProcessing())
	assert.Equal(t, []string{"a.ace", "b.ace"}, runner.preparedNames())

	t.Run("a later run resumes the queued jobs", func(t *testing.T) {
		require.NoError(t, e.ProcessQueued())
		waitStopped(t, rec)
		assert.Equal(t, StateSuccess, jobs[2].State())
		assert.Equal(t, StateSuccess, jobs[3].State())
		assert.Equal(t, StateAborted, jobs[1].State())
	})
}

func TestEngine_ConfigurationMissing(t *testing.T) {
	runner := newFakeRunner()
	e := NewEngine(runner)
	rec := newRecorder()
	e.Subscribe(rec)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() {
		cancel()
		<-e.Done()
	}()

	jobs := e.Add("a.ace")
	rec.reset()

	assert.ErrorIs(t, e.ProcessJobs(jobs...), ErrNoCommand)

	e.SetCommand(Command{Kind: KindExpand})
	assert.ErrorIs(t, e.ProcessJobs(), ErrNoJobs)

	require.NoError(t, e.ToggleSkip(jobs[0].ID))
	rec.reset()
	assert.ErrorIs(t, e.ProcessJobs(jobs...), ErrNoJobs)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Equal(t, StateSkip, jobs[0].State())
}

func TestEngine_RequeueReplacesOutput(t *testing.T) {
	runner := newFakeRunner()
	runner.setOutcome("a.ace", Outcome{ExitCode: 1, Stdout: "first", Stderr: "bad password"})
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)
	require.Equal(t, StateFailure, jobs[0].State())

	runner.setOutcome("a.ace", Outcome{ExitCode: 0, Stdout: "second"})
	require.NoError(t, e.Requeue(jobs[0].ID))
	assert.Equal(t, StateQueued, jobs[0].State())

	rec.reset()
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, StateSuccess, jobs[0].State())
	assert.Equal(t, "second", jobs[0].Stdout())
	assert.Equal(t, "", jobs[0].Stderr())
	assert.Equal(t, []string{"started", "a.ace:processing", "a.ace:success", "stopped"}, rec.all())
}

func TestEngine_ListAttachesEntries(t *testing.T) {
	runner := newFakeRunner()
	runner.setOutcome("a.ace", Outcome{Stdout: "listing"})
	parser := ListingParserFunc(func(stdout string) []Entry {
		if stdout != "listing" {
			return nil
		}
		return []Entry{{FileName: "secret.txt", PasswordProtected: true}, {FileName: "plain.txt"}}
	})
	e, rec := newTestEngine(t, runner, WithListingParser(parser))
	e.SetCommand(Command{Kind: KindList})

	jobs := e.Add("a.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	entries := jobs[0].Listing()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].PasswordProtected)
	assert.False(t, entries[1].PasswordProtected)

	e.SetCommand(Command{Kind: KindTest})
	require.NoError(t, e.Requeue(jobs[0].ID))
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)
	assert.Nil(t, jobs[0].Listing())
}

func TestEngine_StopWhileIdle(t *testing.T) {
	runner := newFakeRunner()
	e, rec := newTestEngine(t, runner)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				e.StopProcessing()
			}
		}()
	}
	wg.Wait()

	jobs := e.Add("a.ace", "b.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, StateSuccess, jobs[0].State())
	assert.Equal(t, StateSuccess, jobs[1].State())
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	runner.gate("a.ace")
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "a.ace")

	for i := 0; i < 5; i++ {
		e.StopProcessing()
	}
	waitStopped(t, rec)

	assert.Equal(t, StateAborted, jobs[0].State())
	assert.Equal(t, StateQueued, jobs[1].State())
	assert.Equal(t, 1, rec.count("started"))
	assert.Equal(t, 1, rec.count("stopped"))
}

func TestEngine_JobsMergeIntoRunningBatch(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.gate("a.ace")
	e, rec := newTestEngine(t, runner)

	a := e.Add("a.ace")
	require.NoError(t, e.ProcessJobs(a...))
	waitStarted(t, runner, "a.ace")

	b := e.Add("b.ace")
	require.NoError(t, e.ProcessJobs(b...))
	close(gate)
	waitStopped(t, rec)

	assert.Equal(t, StateSuccess, a[0].State())
	assert.Equal(t, StateSuccess, b[0].State())
	assert.Equal(t, 1, rec.count("started"))
	assert.Equal(t, 1, rec.count("stopped"))
}

func TestEngine_SkippedWhileWaiting(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.gate("a.ace")
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace", "c.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "a.ace")

	require.NoError(t, e.ToggleSkip(jobs[1].ID))
	close(gate)
	waitStopped(t, rec)

	assert.Equal(t, StateSkip, jobs[1].State())
	assert.Equal(t, StateSuccess, jobs[2].State())
	assert.Equal(t, []string{"a.ace", "c.ace"}, runner.preparedNames())
}

func TestEngine_RequeueMidBatchWaitsForNextCall(t *testing.T) {
	runner := newFakeRunner()
	runner.setOutcome("a.ace", Outcome{ExitCode: 1})
	gate := runner.gate("b.ace")
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "b.ace")

	require.NoError(t, e.Requeue(jobs[0].ID))
	close(gate)
	waitStopped(t, rec)

	assert.Equal(t, StateQueued, jobs[0].State())
	assert.Equal(t, []string{"a.ace", "b.ace"}, runner.preparedNames())
}

func TestEngine_Remove(t *testing.T) {
	runner := newFakeRunner()
	gate := runner.gate("a.ace")
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "a.ace")

	assert.ErrorIs(t, e.Remove(jobs[0].ID), ErrJobBusy)
	require.NoError(t, e.Remove(jobs[1].ID))
	assert.ErrorIs(t, e.Remove("missing"), ErrJobNotFound)

	close(gate)
	waitStopped(t, rec)

	assert.Len(t, e.List(), 1)
	_, found := e.Get(jobs[1].ID)
	assert.False(t, found)
	assert.Equal(t, []string{"a.ace"}, runner.preparedNames())
}

func TestEngine_RequeueAllAndSkipAll(t *testing.T) {
	runner := newFakeRunner()
	runner.setOutcome("b.ace", Outcome{ExitCode: 1})
	e, rec := newTestEngine(t, runner)

	jobs := e.Add("a.ace", "b.ace", "c.ace")
	require.NoError(t, e.ToggleSkip(jobs[2].ID))
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, 3, e.RequeueAll())
	for _, j := range jobs {
		assert.Equal(t, StateQueued, j.State())
	}
	assert.Equal(t, 3, e.SkipAll())
	for _, j := range jobs {
		assert.Equal(t, StateSkip, j.State())
	}
}

func TestEngine_DestinationAskedOncePerBatch(t *testing.T) {
	runner := newFakeRunner()
	var mu sync.Mutex
	asked := 0
	prompt := func(j *Job) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		asked++
		return "/chosen", nil
	}
	e, rec := newTestEngine(t, runner, WithDestinationPrompt(prompt))
	e.SetCommand(Command{Kind: KindExpand, Destination: Destination{Mode: DestinationAsk}})

	jobs := e.Add("a.ace", "b.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	mu.Lock()
	assert.Equal(t, 1, asked)
	mu.Unlock()
	runner.mu.Lock()
	assert.Equal(t, []string{"/chosen", "/chosen"}, runner.dests)
	runner.mu.Unlock()
}

func TestEngine_CancelledPromptStopsBatch(t *testing.T) {
	runner := newFakeRunner()
	prompt := func(j *Job) (string, error) {
		return "", errors.New("cancelled")
	}
	e, rec := newTestEngine(t, runner, WithDestinationPrompt(prompt))
	e.SetCommand(Command{Kind: KindExpand, Destination: Destination{Mode: DestinationAsk}})

	jobs := e.Add("a.ace", "b.ace")
	rec.reset()
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, StateQueued, jobs[0].State())
	assert.Equal(t, StateQueued, jobs[1].State())
	assert.Empty(t, runner.preparedNames())
	assert.Equal(t, []string{"started", "stopped"}, rec.all())
}

func TestEngine_ShutdownTerminatesInFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.gate("a.ace")
	e := NewEngine(runner)
	e.SetCommand(Command{Kind: KindTest})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	jobs := e.Add("a.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStarted(t, runner, "a.ace")

	cancel()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.Equal(t, StateAborted, jobs[0].State())
}

func TestEngine_ChannelObserver(t *testing.T) {
	runner := newFakeRunner()
	e, rec := newTestEngine(t, runner)
	obs := NewChannelObserver(16)
	unsubscribe := e.Subscribe(obs)
	defer unsubscribe()
	defer obs.Close()

	jobs := e.Add("a.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	var types []EventType
	var last *View
	for len(types) < 5 {
		select {
		case ev := <-obs.Events():
			types = append(types, ev.Type)
			if ev.Job != nil {
				last = ev.Job
			}
		case <-time.After(5 * time.Second):
			t.Fatal("missing events")
		}
	}
	assert.Equal(t, []EventType{EventJobChanged, EventBatchStarted, EventJobChanged, EventJobChanged, EventBatchStopped}, types)
	require.NotNil(t, last)
	assert.Equal(t, StateSuccess, last.State)
}

func TestEngine_UnaceVersion(t *testing.T) {
	runner := newFakeRunner()
	e, _ := newTestEngine(t, runner)

	_, err := e.UnaceVersion(context.Background())
	assert.Error(t, err)

	runner.version = "UNACE v2.5"
	v, err := e.UnaceVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UNACE v2.5", v)
}

func TestEngine_StopRightAfterProcessJobs(t *testing.T) {
	runner := newFakeRunner()
	e, rec := newTestEngine(t, runner)

	for i := 0; i < 50; i++ {
		first := fmt.Sprintf("a%d.ace", i)
		runner.gate(first)
		jobs := e.Add(first, fmt.Sprintf("b%d.ace", i))
		require.NoError(t, e.ProcessJobs(jobs...))
		assert.True(t, e.IsProcessing())
		e.StopProcessing()
		waitStopped(t, rec)

		assert.Contains(t, []State{StateQueued, StateAborted}, jobs[0].State(), "run %d", i)
		assert.Equal(t, StateQueued, jobs[1].State(), "run %d", i)
		assert.False(t, e.IsProcessing(), "run %d", i)
	}
}

func TestEngine_RemovedBeforeLaunch(t *testing.T) {
	runner := newFakeRunner()
	var e *Engine
	var jobs []*Job
	prompt := func(j *Job) (string, error) {
		if j == jobs[0] {
			assert.NoError(t, e.Remove(j.ID))
		}
		return "/chosen", nil
	}
	e, rec := newTestEngine(t, runner, WithDestinationPrompt(prompt))
	e.SetCommand(Command{Kind: KindExpand, Destination: Destination{Mode: DestinationAsk}})

	jobs = e.Add("a.ace", "b.ace")
	rec.reset()
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	assert.Equal(t, []string{"b.ace"}, runner.preparedNames())
	assert.NotContains(t, rec.all(), "a.ace:processing")
	assert.Equal(t, StateQueued, jobs[0].State())
	assert.Equal(t, []*Job{jobs[1]}, e.List())
}

func TestEngine_ProcessAfterShutdown(t *testing.T) {
	runner := newFakeRunner()
	e := NewEngine(runner)
	e.SetCommand(Command{Kind: KindTest})
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()
	<-e.Done()

	jobs := e.Add("a.ace")
	assert.ErrorIs(t, e.ProcessJobs(jobs...), ErrClosed)
	assert.False(t, e.IsProcessing())
	assert.Equal(t, StateQueued, jobs[0].State())
}

func TestChannelObserver_Overflow(t *testing.T) {
	obs := NewChannelObserver(1)

	obs.BatchStarted("one")
	obs.BatchStopped("one")

	select {
	case <-obs.Done():
	default:
		t.Fatal("observer still open after overflow")
	}
	ev := <-obs.Events()
	assert.Equal(t, EventBatchStarted, ev.Type)
	assert.Equal(t, "one", ev.BatchID)

	obs.BatchStarted("two")
	assert.Empty(t, obs.Events())
}

func TestEngine_UnreadObserverDoesNotStallBatch(t *testing.T) {
	runner := newFakeRunner()
	e, rec := newTestEngine(t, runner)
	obs := NewChannelObserver(1)
	unsubscribe := e.Subscribe(obs)
	defer unsubscribe()

	jobs := e.Add("a.ace", "b.ace", "c.ace")
	require.NoError(t, e.ProcessJobs(jobs...))
	waitStopped(t, rec)

	for _, j := range jobs {
		assert.Equal(t, StateSuccess, j.State())
	}
	select {
	case <-obs.Done():
	default:
		t.Fatal("overflowed observer was not closed")
	}
}
