// Package eventbus fans out per-job progress events to SSE subscribers and
// durably persists them via the store. Each job gets its own bounded
// queue per subscriber; a slow reader drops its oldest buffered frame
// rather than stalling the publisher, exactly as the original
// implementation's per-job asyncio.Queue(maxsize=5000) did.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/store"
)

const queueDepth = 5000

// Frame is what a subscriber receives: a fully-resolved event ready to be
// SSE-formatted.
type Frame struct {
	Seq     int64           `json:"seq"`
	JobID   uuid.UUID       `json:"job_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Mirror is an optional out-of-process sink for published events (the
// Redis pub/sub bridge). Its absence never affects correctness — Bus only
// calls it best-effort.
type Mirror interface {
	Publish(ctx context.Context, frame Frame) error
}

type subscriber struct {
	id uuid.UUID
	ch chan Frame
}

type jobQueue struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscriber
}

type Bus struct {
	store  *store.Store
	log    *logger.Logger
	mirror Mirror

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobQueue
}

func New(st *store.Store, log *logger.Logger, mirror Mirror) *Bus {
	return &Bus{
		store:  st,
		log:    log.With("component", "EventBus"),
		mirror: mirror,
		jobs:   make(map[uuid.UUID]*jobQueue),
	}
}

func (b *Bus) jobQueueFor(jobID uuid.UUID) *jobQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	jq, ok := b.jobs[jobID]
	if !ok {
		jq = &jobQueue{subs: make(map[uuid.UUID]*subscriber)}
		b.jobs[jobID] = jq
	}
	return jq
}

// Publish appends the event to the store (assigning its sequence number)
// and fans it out to every live subscriber for that job, dropping the
// oldest buffered frame for any subscriber whose channel is full. It also
// best-effort mirrors to the configured Mirror, if any.
func (b *Bus) Publish(ctx context.Context, jobID uuid.UUID, eventType string, payload interface{}) (domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	ev, err := b.store.AppendEvent(jobID, eventType, datatypes.JSON(raw))
	if err != nil {
		return domain.Event{}, err
	}

	frame := Frame{Seq: ev.Seq, JobID: jobID, Type: eventType, Payload: raw}
	b.fanOut(jobID, frame)

	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, frame); err != nil {
			b.log.Warn("mirror publish failed", "error", err, "job_id", jobID)
		}
	}
	return ev, nil
}

func (b *Bus) fanOut(jobID uuid.UUID, frame Frame) {
	jq := b.jobQueueFor(jobID)
	jq.mu.Lock()
	defer jq.mu.Unlock()
	for _, sub := range jq.subs {
		select {
		case sub.ch <- frame:
		default:
			select {
			case <-sub.ch:
				observability.Current().IncSSEDropOldest()
			default:
			}
			select {
			case sub.ch <- frame:
			default:
				b.log.Warn("dropping SSE frame; subscriber buffer full", "job_id", jobID, "subscriber", sub.id)
			}
		}
	}
}

// Subscribe registers a new listener for a job and returns its channel and
// an unsubscribe function. Callers that want history replay should
// Subscribe first, then read store.ListEventsSince, to avoid a gap — a small
// overlap is possible and is deduplicated by seq on the client side.
func (b *Bus) Subscribe(jobID uuid.UUID) (<-chan Frame, func()) {
	jq := b.jobQueueFor(jobID)
	sub := &subscriber{id: uuid.New(), ch: make(chan Frame, queueDepth)}

	jq.mu.Lock()
	jq.subs[sub.id] = sub
	jq.mu.Unlock()

	unsubscribe := func() {
		jq.mu.Lock()
		delete(jq.subs, sub.id)
		jq.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// FormatSSE renders a frame as an SSE "data: <json>\n\n" wire frame.
func FormatSSE(frame Frame) (string, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data: %s\n\n", raw), nil
}
