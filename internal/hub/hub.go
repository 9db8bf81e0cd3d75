// Package hub fans job record updates out to live observers. Each job has an
// ordered outbound queue drained by a single goroutine, so subscribers see
// updates in exactly the order the orchestrator issued them.
package hub

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"autodubber/internal/domain"
	"autodubber/internal/jobs"
)

// Sender delivers one message to an observer connection. Implementations
// must be safe for concurrent use; a returned error drops the subscription.
type Sender interface {
	Send(v any) error
}

// Heartbeat is the periodic liveness message sent to idle observers.
type Heartbeat struct {
	Type      string           `json:"type"`
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Progress  float64          `json:"progress"`
	Activity  string           `json:"current_activity,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Notice tells a fresh subscriber that no record exists yet for its job.
type Notice struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

const (
	// DefaultHeartbeatInterval is how often each subscription is pinged.
	DefaultHeartbeatInterval = 5 * time.Second
	// replayChance is the probability that a heartbeat tick on a
	// non-terminal job also replays the full record.
	replayChance = 0.3
	// queueDepth bounds the per-job outbound queue; a full queue applies
	// backpressure to the publisher rather than dropping updates.
	queueDepth = 64
)

// subscription tracks one observer connection and its heartbeat lifetime.
type subscription struct {
	sender Sender
	done   chan struct{}
}

// Hub maintains per-job subscriber sets and delivers every registry update,
// heartbeat, and replay to them. Delivery failure on one connection drops
// only that connection.
type Hub struct {
	log       *slog.Logger
	registry  *jobs.Registry
	heartbeat time.Duration
	randFloat func() float64

	mu     sync.Mutex
	subs   map[string]map[Sender]*subscription
	queues map[string]chan delivery
}

type delivery struct {
	record domain.Job
}

// New creates a hub that reads current job state from registry for initial
// replays and heartbeats.
func New(log *slog.Logger, registry *jobs.Registry, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Hub{
		log:       log,
		registry:  registry,
		heartbeat: heartbeat,
		randFloat: rand.Float64,
		subs:      make(map[string]map[Sender]*subscription),
		queues:    make(map[string]chan delivery),
	}
}

// Subscribe registers an observer for one job, replays the current record
// (or a no-record notice) immediately, and starts its heartbeat loop.
func (h *Hub) Subscribe(jobID string, sender Sender) {
	sub := &subscription{sender: sender, done: make(chan struct{})}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[Sender]*subscription)
		h.subs[jobID] = set
	}
	set[sender] = sub
	count := len(set)
	h.mu.Unlock()

	h.log.Info("observer subscribed", "job_id", jobID, "observers", count)

	if job, err := h.registry.Get(jobID); err == nil {
		if sendErr := sender.Send(withDefaultActivity(job)); sendErr != nil {
			h.log.Warn("initial replay failed", "job_id", jobID, "error", sendErr)
			h.Unsubscribe(jobID, sender)
			return
		}
	} else {
		if sendErr := sender.Send(Notice{Type: "no_record", JobID: jobID}); sendErr != nil {
			h.Unsubscribe(jobID, sender)
			return
		}
	}

	go h.heartbeatLoop(jobID, sub)
}

// Unsubscribe removes an observer and stops its heartbeat. The per-job set
// is deleted once empty.
func (h *Hub) Unsubscribe(jobID string, sender Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[jobID]
	if !ok {
		return
	}
	sub, ok := set[sender]
	if !ok {
		return
	}
	close(sub.done)
	delete(set, sender)
	if len(set) == 0 {
		delete(h.subs, jobID)
	}
}

// Publish queues one record for ordered delivery to every subscriber of the
// job. Publishing with zero subscribers is a logged no-op once drained.
func (h *Hub) Publish(jobID string, record domain.Job) {
	h.mu.Lock()
	queue, ok := h.queues[jobID]
	if !ok {
		queue = make(chan delivery, queueDepth)
		h.queues[jobID] = queue
		go h.drain(jobID, queue)
	}
	h.mu.Unlock()

	queue <- delivery{record: record}
}

// drain delivers queued records for one job, preserving publish order.
func (h *Hub) drain(jobID string, queue chan delivery) {
	for d := range queue {
		h.deliver(jobID, d.record)
	}
}

// deliver sends one record to all current subscribers, dropping any whose
// send fails without affecting the rest.
func (h *Hub) deliver(jobID string, record domain.Job) {
	subscribers := h.snapshot(jobID)
	if len(subscribers) == 0 {
		h.log.Debug("no observers for update", "job_id", jobID, "status", record.Status)
		return
	}

	h.log.Info("broadcasting update",
		"job_id", jobID,
		"observers", len(subscribers),
		"status", record.Status,
		"progress", record.Progress,
	)
	for _, sender := range subscribers {
		if err := sender.Send(record); err != nil {
			h.log.Warn("dropping observer after failed send", "job_id", jobID, "error", err)
			h.Unsubscribe(jobID, sender)
		}
	}
}

// heartbeatLoop pings one subscription on a fixed interval with the job's
// current state, occasionally replaying the full record for in-flight jobs.
func (h *Hub) heartbeatLoop(jobID string, sub *subscription) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case now := <-ticker.C:
			job, err := h.registry.Get(jobID)
			if err != nil {
				if sendErr := sub.sender.Send(Heartbeat{Type: "ping", JobID: jobID, Timestamp: now.UTC()}); sendErr != nil {
					h.Unsubscribe(jobID, sub.sender)
					return
				}
				continue
			}

			hb := Heartbeat{
				Type:      "ping",
				JobID:     jobID,
				Status:    job.Status,
				Progress:  job.Progress,
				Activity:  job.Activity,
				Timestamp: now.UTC(),
			}
			if err := sub.sender.Send(hb); err != nil {
				h.Unsubscribe(jobID, sub.sender)
				return
			}

			if !job.Status.Terminal() && h.randFloat() < replayChance {
				if err := sub.sender.Send(withDefaultActivity(job)); err != nil {
					h.Unsubscribe(jobID, sub.sender)
					return
				}
			}
		}
	}
}

// snapshot copies the current subscriber list for a job.
func (h *Hub) snapshot(jobID string) []Sender {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[jobID]
	out := make([]Sender, 0, len(set))
	for sender := range set {
		out = append(out, sender)
	}
	return out
}

// withDefaultActivity fills a missing activity line from the status message
// table before a full-record replay.
func withDefaultActivity(job domain.Job) domain.Job {
	if job.Activity == "" {
		if msg, ok := domain.StatusMessages[job.Status]; ok {
			job.Activity = msg
		}
	}
	return job
}
