package jobqueue

import (
	"log/slog"
	"sync"
)

// observerBuffer bounds how many undelivered events a single subscription
// holds before further events are dropped for it.
const observerBuffer = 8

type subscription struct {
	jobID string
	ch    chan Event
}

// Observers routes job lifecycle events to subscribers keyed by job id.
// A subscriber only ever sees events for the job it asked about, so callers
// waiting on one job are not woken by unrelated traffic.
type Observers struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]*subscription
}

// NewObservers creates an empty registry.
func NewObservers(logger *slog.Logger) *Observers {
	return &Observers{
		logger: logger,
		subs:   make(map[string][]*subscription),
	}
}

// Subscribe registers interest in events for the given job id. The returned
// cancel function must be called once the caller stops reading; it is safe
// to call more than once.
func (o *Observers) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscription{
		jobID: jobID,
		ch:    make(chan Event, observerBuffer),
	}

	o.mu.Lock()
	o.subs[jobID] = append(o.subs[jobID], sub)
	o.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { o.remove(sub) })
	}
	return sub.ch, cancel
}

func (o *Observers) remove(sub *subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()

	subs := o.subs[sub.jobID]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(o.subs, sub.jobID)
	} else {
		o.subs[sub.jobID] = subs
	}
}

// Dispatch delivers the event to every subscriber of its job id without
// blocking. A subscriber that has stopped draining its channel loses the
// event; waiters re-check job state on timeout, so a drop delays rather
// than strands them.
func (o *Observers) Dispatch(event Event) {
	o.mu.Lock()
	subs := make([]*subscription, len(o.subs[event.JobID]))
	copy(subs, o.subs[event.JobID])
	o.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			o.logger.Warn("Observer buffer full, dropping event",
				slog.String("job_id", event.JobID),
				slog.String("event", event.Code.String()),
			)
		}
	}
}

// SubscriberCount reports how many subscriptions exist for the job id.
func (o *Observers) SubscriberCount(jobID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs[jobID])
}
