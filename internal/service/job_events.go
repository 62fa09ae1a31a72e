package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/observability"
)

const (
	defaultSubscriberBuffer = 16
	listenerChanBufferSize  = 1024
	listenerTimeout         = 10 * time.Second
)

// JobEventType names a job lifecycle event.
type JobEventType string

// Job event types.
const (
	JobEventCreated    JobEventType = "job.created"
	JobEventProcessing JobEventType = "job.processing"
	JobEventProgress   JobEventType = "job.progress"
	JobEventCompleted  JobEventType = "job.completed"
	JobEventFailed     JobEventType = "job.failed"
)

// IsTerminal reports whether the event ends the job's stream.
func (t JobEventType) IsTerminal() bool {
	return t == JobEventCompleted || t == JobEventFailed
}

// JobEvent is a snapshot of a job at the moment of a transition or progress update.
type JobEvent struct {
	ID        uuid.UUID    `json:"id"`
	Type      JobEventType `json:"type"`
	Job       models.Job   `json:"job"`
	Timestamp time.Time    `json:"timestamp"`
}

// JobEventPublisher is what the orchestrator publishes to.
type JobEventPublisher interface {
	Publish(ctx context.Context, eventType JobEventType, job models.Job)
}

// JobEventListener receives terminal job events (completed, failed) off the request path.
type JobEventListener interface {
	OnJobEvent(ctx context.Context, event JobEvent)
}

type subscription struct {
	ch chan JobEvent
}

// JobEvents is an in-process broker keyed by job ID.
// Subscribers get a buffered channel per job; a full buffer drops the event (polling stays
// authoritative). Listeners receive terminal events from a single background goroutine.
type JobEvents struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*subscription]struct{}
	count       int
	closed      bool

	listeners    []JobEventListener
	listenerChan chan JobEvent
	wg           sync.WaitGroup

	bufferSize int
	metrics    observability.EventMetrics
	logger     *slog.Logger
}

// JobEventsParams configures JobEvents. All fields are optional.
type JobEventsParams struct {
	SubscriberBuffer int
	Metrics          observability.EventMetrics
	Logger           *slog.Logger
}

// NewJobEvents creates the broker and starts its listener goroutine.
func NewJobEvents(p JobEventsParams) *JobEvents {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bufferSize := p.SubscriberBuffer
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}

	e := &JobEvents{
		subscribers:  make(map[uuid.UUID]map[*subscription]struct{}),
		listenerChan: make(chan JobEvent, listenerChanBufferSize),
		bufferSize:   bufferSize,
		metrics:      p.Metrics,
		logger:       logger,
	}

	e.wg.Add(1)

	go e.runListeners()

	return e
}

// RegisterListener registers a terminal-event listener.
// Must only be called during startup, before any events are published.
func (e *JobEvents) RegisterListener(l JobEventListener) {
	e.listeners = append(e.listeners, l)
}

// Subscribe returns a channel of events for jobID and a cancel func that must be called to
// release it. The channel is closed by cancel or by Shutdown.
func (e *JobEvents) Subscribe(jobID uuid.UUID) (<-chan JobEvent, func()) {
	sub := &subscription{ch: make(chan JobEvent, e.bufferSize)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(sub.ch)

		return sub.ch, func() {}
	}

	if e.subscribers[jobID] == nil {
		e.subscribers[jobID] = make(map[*subscription]struct{})
	}

	e.subscribers[jobID][sub] = struct{}{}
	e.count++
	e.setSubscriberGauge()
	e.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			subs, ok := e.subscribers[jobID]
			if !ok {
				return
			}

			if _, ok := subs[sub]; !ok {
				return
			}

			delete(subs, sub)

			if len(subs) == 0 {
				delete(e.subscribers, jobID)
			}

			e.count--
			e.setSubscriberGauge()
			close(sub.ch)
		})
	}

	return sub.ch, cancel
}

// Publish delivers the event to the job's subscribers without blocking and queues terminal
// events for listeners.
func (e *JobEvents) Publish(ctx context.Context, eventType JobEventType, job models.Job) {
	event := JobEvent{
		ID:        uuid.Must(uuid.NewV7()),
		Type:      eventType,
		Job:       job,
		Timestamp: time.Now().UTC(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	for sub := range e.subscribers[job.ID] {
		select {
		case sub.ch <- event:
		default:
			e.dropped(ctx, event, "subscriber buffer full")
		}
	}

	if !eventType.IsTerminal() || len(e.listeners) == 0 {
		return
	}

	select {
	case e.listenerChan <- event:
	default:
		e.dropped(ctx, event, "listener channel full")
	}
}

func (e *JobEvents) dropped(ctx context.Context, event JobEvent, reason string) {
	e.logger.WarnContext(ctx, "job event dropped",
		"job_id", event.Job.ID, "event_type", event.Type, "reason", reason)

	if e.metrics != nil {
		e.metrics.RecordEventDropped(ctx, string(event.Type))
	}
}

func (e *JobEvents) setSubscriberGauge() {
	if e.metrics != nil {
		e.metrics.SetSubscriberCount(e.count)
	}
}

func (e *JobEvents) runListeners() {
	defer e.wg.Done()

	for event := range e.listenerChan {
		// One stuck listener must not freeze delivery forever.
		ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)

		for _, l := range e.listeners {
			l.OnJobEvent(ctx, event)
		}

		cancel()
	}
}

// Shutdown closes every subscription, stops accepting events and drains queued listener events.
func (e *JobEvents) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return
	}

	e.closed = true

	for jobID, subs := range e.subscribers {
		for sub := range subs {
			close(sub.ch)
		}

		delete(e.subscribers, jobID)
	}

	e.count = 0
	e.setSubscriberGauge()
	close(e.listenerChan)
	e.mu.Unlock()

	e.wg.Wait()
}

var _ JobEventPublisher = (*JobEvents)(nil)
