package job

import "sync"

type EventType string

const (
	EventJobChanged   EventType = "job_changed"
	EventBatchStarted EventType = "batch_started"
	EventBatchStopped EventType = "batch_stopped"
)

// Event is the typed form of an observer notification. Job is only set
// for EventJobChanged and holds the state at the time of the change.
type Event struct {
	Type    EventType `json:"type"`
	BatchID string    `json:"batchId,omitempty"`
	Job     *View     `json:"job,omitempty"`
}

// Observer receives engine notifications. Methods are called from the
// worker goroutine or from whichever goroutine changed a job, so they must
// be safe for concurrent use and must not block: a slow observer holds up
// the worker and every controller call that changes a job.
type Observer interface {
	JobChanged(j *Job)
	BatchStarted(batchID string)
	BatchStopped(batchID string)
}

// ChannelObserver forwards notifications as Events on a channel. It never
// blocks the engine: once the buffer is full the observer closes itself
// and Done is closed, so the reader knows it missed events.
type ChannelObserver struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (c *ChannelObserver) Events() <-chan Event {
	return c.events
}

// Done is closed after Close or when an event did not fit the buffer.
func (c *ChannelObserver) Done() <-chan struct{} {
	return c.done
}

// Close stops delivery. Events already buffered stay readable, the events
// channel itself is left open.
func (c *ChannelObserver) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *ChannelObserver) send(ev Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.Close()
	}
}

func (c *ChannelObserver) JobChanged(j *Job) {
	v := j.Snapshot()
	c.send(Event{Type: EventJobChanged, Job: &v})
}

func (c *ChannelObserver) BatchStarted(batchID string) {
	c.send(Event{Type: EventBatchStarted, BatchID: batchID})
}

func (c *ChannelObserver) BatchStopped(batchID string) {
	c.send(Event{Type: EventBatchStopped, BatchID: batchID})
}

type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
	// order keeps delivery deterministic across subscribers.
	order []int
}

func (o *observers) add(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = obs
	o.order = append(o.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			for i, v := range o.order {
				if v == id {
					o.order = append(o.order[:i], o.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshot copies the subscriber list so no lock is held while observers run.
func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	list := make([]Observer, 0, len(o.order))
	for _, id := range o.order {
		list = append(list, o.subs[id])
	}
	return list
}

func (o *observers) jobChanged(j *Job) {
	for _, obs := range o.snapshot() {
		obs.JobChanged(j)
	}
}

func (o *observers) batchStarted(batchID string) {
	for _, obs := range o.snapshot() {
		obs.BatchStarted(batchID)
	}
}

func (o *observers) batchStopped(batchID string) {
	for _, obs := range o.snapshot() {
		obs.BatchStopped(batchID)
	}
}
