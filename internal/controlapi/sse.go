package controlapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/eventbus"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/store"
)

// EventsHandler streams a job's event ledger as server-sent events: a
// hello frame identifying the job, a replay of any events the client
// missed (via Last-Event-ID), then a live tail from the bus.
type EventsHandler struct {
	bus *eventbus.Bus
	st  *store.Store
	log *logger.Logger
}

func NewEventsHandler(bus *eventbus.Bus, st *store.Store, log *logger.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, st: st, log: log.With("component", "EventsHandler")}
}

// GET /jobs/{id}/events
func (h *EventsHandler) Stream(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	writeFrame(c, eventbus.Frame{JobID: jobID, Type: "hello", Payload: mustJSON(gin.H{"job_id": jobID})})
	c.Writer.Flush()

	// Subscribe before replay so no event published between the two steps
	// is lost — a small overlap is expected and deduplicated by seq
	// client-side.
	frames, unsubscribe := h.bus.Subscribe(jobID)
	observability.Current().SSESubscriberInc()
	defer observability.Current().SSESubscriberDec()
	defer unsubscribe()

	afterSeq := lastEventIDSeq(c)
	backlog, err := h.st.ListEventsSince(jobID, afterSeq)
	if err == nil {
		for _, ev := range backlog {
			writeFrame(c, eventbus.Frame{Seq: ev.Seq, JobID: jobID, Type: ev.Type, Payload: json.RawMessage(ev.Payload)})
		}
		c.Writer.Flush()
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Seq <= afterSeq {
				continue // client already has it (seq at or below Last-Event-ID)
			}
			writeFrame(c, frame)
			c.Writer.Flush()
		}
	}
}

func writeFrame(c *gin.Context, frame eventbus.Frame) {
	sse, err := eventbus.FormatSSE(frame)
	if err != nil {
		return
	}
	_, _ = c.Writer.WriteString(sse)
	observability.Current().IncSSEFrameSent()
}

func lastEventIDSeq(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func mustJSON(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
