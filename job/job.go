package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type State int

const (
	StateQueued State = iota
	StateSkip
	StateProcessing
	StateAborted
	StateSuccess
	StateFailure
)

var stateNames = map[State]string{
	StateQueued:     "queued",
	StateSkip:       "skip",
	StateProcessing: "processing",
	StateAborted:    "aborted",
	StateSuccess:    "success",
	StateFailure:    "failure",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "undefined"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", text)
}

// Terminal reports whether s is a state a finished invocation leaves behind.
func (s State) Terminal() bool {
	return s == StateAborted || s == StateSuccess || s == StateFailure
}

// transitions lists every legal edge of the job state machine.
var transitions = map[State][]State{
	StateQueued:     {StateProcessing, StateSkip},
	StateSkip:       {StateQueued},
	StateProcessing: {StateSuccess, StateFailure, StateAborted},
	StateAborted:    {StateQueued},
	StateSuccess:    {StateQueued},
	StateFailure:    {StateQueued},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Entry is one row of an archive listing.
type Entry struct {
	Date              string `json:"date"`
	Time              string `json:"time"`
	Packed            string `json:"packed"`
	Size              string `json:"size"`
	Ratio             string `json:"ratio"`
	FileName          string `json:"fileName"`
	PasswordProtected bool   `json:"passwordProtected"`
}

// Job is one archive file tracked through the batch pipeline. The ID and
// file path never change; everything else is guarded by mu so the
// controller can read a job while the worker updates it.
type Job struct {
	ID       string
	FilePath string
	// Icon is an opaque display handle owned by the caller.
	Icon any

	mu          sync.RWMutex
	state       State
	stdout      string
	stderr      string
	listing     []Entry
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

func New(filePath string) *Job {
	return &Job{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		FilePath:  filePath,
		state:     StateQueued,
		createdAt: time.Now(),
	}
}

func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) Stdout() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stdout
}

func (j *Job) Stderr() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stderr
}

// Listing returns a copy of the entries parsed from the last list command,
// or nil if the last invocation was not a listing.
func (j *Job) Listing() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.listing == nil {
		return nil
	}
	return append([]Entry(nil), j.listing...)
}

// transition moves the job along a single edge of the state machine.
func (j *Job) transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

func (j *Job) transitionLocked(to State) error {
	if !CanTransition(j.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, to)
	}
	j.state = to
	return nil
}

// Requeue makes a skipped or finished job eligible for the next run.
func (j *Job) Requeue() error {
	return j.transition(StateQueued)
}

// ToggleSkip flips a job between queued and skip.
func (j *Job) ToggleSkip() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateQueued:
		return j.transitionLocked(StateSkip)
	case StateSkip:
		return j.transitionLocked(StateQueued)
	}
	return fmt.Errorf("%w: cannot toggle skip in state %s", ErrInvalidTransition, j.state)
}

// begin claims a queued job for processing. It returns false if the job
// has left the queued state in the meantime.
func (j *Job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateProcessing
	j.startedAt = time.Now()
	return true
}

// finish records the result of an invocation. Captured output always
// replaces whatever a previous invocation left behind.
func (j *Job) finish(to State, stdout, stderr string, listing []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(to); err != nil {
		return err
	}
	j.stdout = stdout
	j.stderr = stderr
	j.listing = listing
	j.completedAt = time.Now()
	return nil
}

// View is a point-in-time copy of a job suitable for display or encoding.
type View struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"filePath"`
	State       State     `json:"state"`
	Stdout      string    `json:"stdout,omitempty"`
	Stderr      string    `json:"stderr,omitempty"`
	Listing     []Entry   `json:"listing,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

func (j *Job) Snapshot() View {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return View{
		ID:          j.ID,
		FilePath:    j.FilePath,
		State:       j.state,
		Stdout:      j.stdout,
		Stderr:      j.stderr,
		Listing:     append([]Entry(nil), j.listing...),
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}
