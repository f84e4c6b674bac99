package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrNoCommand   = errors.New("no command configured")
	ErrNoJobs      = errors.New("no queued jobs to process")
	ErrJobNotFound = errors.New("job not found")
	ErrJobBusy     = errors.New("job is processing")
	ErrClosed      = errors.New("engine is shut down")
)

type Option func(*Engine)

// WithListingParser sets the parser that list command output is handed to.
func WithListingParser(p ListingParser) Option {
	return func(e *Engine) { e.parser = p }
}

// WithDestinationPrompt sets the callback used when the destination mode
// is DestinationAsk.
func WithDestinationPrompt(p DestinationPrompt) Option {
	return func(e *Engine) { e.prompt = p }
}

// Engine owns the job list and a single persistent worker that runs one
// invocation at a time.
//
// Three pieces of state are shared with the controller and each has its
// own guard: the job list with the pending set (mu, wake), the stop flag
// (stopMu) and the in-flight invocation (invMu). None of them is held
// while an invocation runs.
//
// processing is only written with mu held. It turns on when ProcessJobs
// hands work to an idle worker and off when that batch ends, so a stop
// issued right after ProcessJobs returns always reaches the batch.
type Engine struct {
	runner Runner
	parser ListingParser
	prompt DestinationPrompt

	mu      sync.Mutex
	wake    *sync.Cond
	jobs    []*Job
	pending []*Job
	started bool
	closed  bool
	done    chan struct{}

	processing atomic.Bool

	cmdMu sync.RWMutex
	cmd   *Command

	stopMu        sync.Mutex
	stopRequested bool

	invMu   sync.Mutex
	current Invocation

	observers observers
}

func NewEngine(runner Runner, opts ...Option) *Engine {
	e := &Engine{
		runner: runner,
		done:   make(chan struct{}),
	}
	e.wake = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker. The worker parks while there is nothing to
// do and exits once ctx is done, terminating any in-flight invocation.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	log.Println("Engine worker started.")
	go e.workerLoop()
	go func() {
		<-ctx.Done()
		e.mu.Lock()
		e.closed = true
		e.wake.Broadcast()
		e.mu.Unlock()
		e.StopProcessing()
	}()
}

// Done is closed after the worker has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Subscribe registers an observer and returns a function that removes it.
func (e *Engine) Subscribe(o Observer) func() {
	return e.observers.add(o)
}

func (e *Engine) SetCommand(cmd Command) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	e.cmd = &cmd
}

func (e *Engine) Command() (Command, bool) {
	e.cmdMu.RLock()
	defer e.cmdMu.RUnlock()
	if e.cmd == nil {
		return Command{}, false
	}
	return *e.cmd, true
}

// Add creates a queued job for every path and appends it to the list.
func (e *Engine) Add(paths ...string) []*Job {
	added := make([]*Job, 0, len(paths))
	e.mu.Lock()
	for _, p := range paths {
		j := New(p)
		e.jobs = append(e.jobs, j)
		added = append(added, j)
	}
	e.mu.Unlock()

	for _, j := range added {
		log.Printf("Job %s added for %s.", j.ID, j.FilePath)
		e.observers.jobChanged(j)
	}
	return added
}

func (e *Engine) Get(id string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// List returns the jobs in insertion order.
func (e *Engine) List() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Job(nil), e.jobs...)
}

// Remove drops a job from the list. A job that is being processed cannot
// be removed.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, j := range e.jobs {
		if j.ID != id {
			continue
		}
		if j.State() == StateProcessing {
			return fmt.Errorf("%w: %s", ErrJobBusy, id)
		}
		e.jobs = append(e.jobs[:i], e.jobs[i+1:]...)
		e.pending = removeJob(e.pending, j)
		log.Printf("Job %s removed.", id)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func removeJob(list []*Job, j *Job) []*Job {
	for i, v := range list {
		if v == j {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Requeue moves a finished or skipped job back to queued. A job requeued
// while a batch runs is only picked up by the next ProcessJobs call.
func (e *Engine) Requeue(id string) error {
	return e.change(id, (*Job).Requeue)
}

func (e *Engine) ToggleSkip(id string) error {
	return e.change(id, (*Job).ToggleSkip)
}

func (e *Engine) change(id string, fn func(*Job) error) error {
	j, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := fn(j); err != nil {
		return err
	}
	log.Printf("Job %s is now %s.", j.ID, j.State())
	e.observers.jobChanged(j)
	return nil
}

// RequeueAll requeues every job that is skipped or finished and returns
// how many changed.
func (e *Engine) RequeueAll() int {
	n := 0
	for _, j := range e.List() {
		if err := j.Requeue(); err == nil {
			n++
			e.observers.jobChanged(j)
		}
	}
	return n
}

// SkipAll marks every queued job as skipped and returns how many changed.
func (e *Engine) SkipAll() int {
	n := 0
	for _, j := range e.List() {
		if j.State() != StateQueued {
			continue
		}
		if err := j.ToggleSkip(); err == nil {
			n++
			e.observers.jobChanged(j)
		}
	}
	return n
}

// ProcessJobs hands jobs to the worker. Only queued jobs are accepted;
// jobs already waiting are not added twice. If a batch is running the jobs
// join it, otherwise the worker wakes up and starts a new batch. It never
// blocks on the worker.
func (e *Engine) ProcessJobs(jobs ...*Job) error {
	if _, ok := e.Command(); !ok {
		return ErrNoCommand
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	added := 0
	for _, j := range jobs {
		if j == nil || j.State() != StateQueued || containsJob(e.pending, j) {
			continue
		}
		if !containsJob(e.jobs, j) {
			e.jobs = append(e.jobs, j)
		}
		e.pending = append(e.pending, j)
		added++
	}
	if added == 0 {
		return ErrNoJobs
	}
	e.processing.Store(true)
	e.wake.Signal()
	return nil
}

// ProcessQueued processes every queued job in list order.
func (e *Engine) ProcessQueued() error {
	return e.ProcessJobs(e.List()...)
}

func containsJob(list []*Job, j *Job) bool {
	for _, v := range list {
		if v == j {
			return true
		}
	}
	return false
}

// StopProcessing asks the worker to stop. The in-flight invocation is
// terminated and its job ends up aborted; jobs not yet started stay
// queued. The call returns immediately, completion is signalled by the
// batch stopped notification.
func (e *Engine) StopProcessing() {
	e.mu.Lock()
	if !e.processing.Load() {
		e.mu.Unlock()
		return
	}
	e.setStop(true)
	e.mu.Unlock()

	e.invMu.Lock()
	inv := e.current
	e.invMu.Unlock()
	if inv != nil {
		log.Println("Terminating in-flight invocation.")
		inv.Terminate()
	}
}

// IsProcessing is true from the moment ProcessJobs hands work to the
// worker until the batch stopped notification.
func (e *Engine) IsProcessing() bool {
	return e.processing.Load()
}

// UnaceVersion probes the configured archiver. It does not need a batch.
func (e *Engine) UnaceVersion(ctx context.Context) (string, error) {
	return e.runner.Version(ctx)
}

func (e *Engine) setStop(v bool) {
	e.stopMu.Lock()
	e.stopRequested = v
	e.stopMu.Unlock()
}

func (e *Engine) stopPending() bool {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	return e.stopRequested
}

func (e *Engine) setCurrent(inv Invocation) {
	e.invMu.Lock()
	e.current = inv
	e.invMu.Unlock()
}

// workerLoop parks until jobs are pending and runs one batch per wake-up.
func (e *Engine) workerLoop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.pending) == 0 && !e.closed {
			e.wake.Wait()
		}
		if e.closed {
			e.pending = nil
			e.processing.Store(false)
			e.mu.Unlock()
			log.Println("Engine worker shutting down.")
			return
		}
		e.mu.Unlock()

		e.runBatch()
	}
}

func (e *Engine) nextPending() *Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	j := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	return j
}

// claim moves j to processing unless it was removed after being popped.
// Remove checks the state under the same lock, so exactly one of them wins.
func (e *Engine) claim(j *Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return containsJob(e.jobs, j) && j.begin()
}

func (e *Engine) runBatch() {
	batchID := uuid.NewString()
	log.Printf("Batch %s started.", batchID)
	e.observers.batchStarted(batchID)

	var askedFolder string
	stopped := false
	for {
		if e.stopPending() {
			stopped = true
			break
		}
		j := e.nextPending()
		if j == nil {
			break
		}
		// Jobs may have been skipped or removed while waiting.
		if j.State() != StateQueued {
			continue
		}
		cmd, ok := e.Command()
		if !ok {
			stopped = true
			break
		}
		dest, err := e.destination(cmd, j, &askedFolder)
		if err != nil {
			log.Printf("Batch %s stopped, no destination for job %s: %v", batchID, j.ID, err)
			stopped = true
			break
		}
		if e.stopPending() {
			stopped = true
			break
		}
		if !e.claim(j) {
			continue
		}
		log.Printf("Processing job %s (%s).", j.ID, cmd.Kind)
		e.observers.jobChanged(j)
		e.process(cmd, j, dest)
	}

	// A stop may land after the last job was popped; it still ends the
	// batch and discards work added meanwhile. Anything not started keeps
	// its state and waits for the next ProcessJobs call.
	e.mu.Lock()
	if stopped || e.stopPending() {
		e.pending = nil
	}
	e.processing.Store(len(e.pending) > 0)
	e.setStop(false)
	e.mu.Unlock()
	log.Printf("Batch %s stopped.", batchID)
	e.observers.batchStopped(batchID)
}

func (e *Engine) process(cmd Command, j *Job, dest string) {
	inv := e.runner.Prepare(cmd, j, dest)
	e.setCurrent(inv)
	// A stop that raced with setCurrent would have missed inv.
	if e.stopPending() {
		inv.Terminate()
	}
	outcome := inv.Launch()
	e.setCurrent(nil)

	state := outcome.State()
	var entries []Entry
	if cmd.Kind == KindList && state != StateAborted && e.parser != nil {
		entries = e.parser.Parse(outcome.Stdout)
	}
	if err := j.finish(state, outcome.Stdout, outcome.Stderr, entries); err != nil {
		log.Printf("Job %s: %v", j.ID, err)
		return
	}

	switch state {
	case StateSuccess:
		log.Printf("Job %s completed successfully.", j.ID)
	case StateAborted:
		log.Printf("Job %s aborted.", j.ID)
	default:
		log.Printf("Job %s failed with exit code %d.", j.ID, outcome.ExitCode)
	}
	e.observers.jobChanged(j)
}
