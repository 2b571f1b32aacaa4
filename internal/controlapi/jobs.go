package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/jobmanager"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/store"
)

// JobsHandler exposes the daemon's job lifecycle over HTTP: submit a scan,
// pause/resume/cancel it, and poll its status without needing the SSE
// stream to still be connected.
type JobsHandler struct {
	mgr *jobmanager.Manager
	st  *store.Store
	log *logger.Logger
}

func NewJobsHandler(mgr *jobmanager.Manager, st *store.Store, log *logger.Logger) *JobsHandler {
	return &JobsHandler{mgr: mgr, st: st, log: log.With("component", "JobsHandler")}
}

type indexRequest struct {
	LibraryRoot string          `json:"library_root"`
	Options     json.RawMessage `json:"options"`
}

// POST /jobs/index
func (h *JobsHandler) Index(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.LibraryRoot == "" {
		respondError(c, http.StatusUnprocessableEntity, "missing_library_root", errors.New("library_root is required"))
		return
	}
	info, err := os.Stat(req.LibraryRoot)
	if err != nil || !info.IsDir() {
		respondError(c, http.StatusUnprocessableEntity, "invalid_library_root", errors.New("library_root does not exist or is not a directory"))
		return
	}

	opts, err := jobmanager.DecodeOptions(req.Options)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_options", err)
		return
	}

	jobID, err := h.mgr.CreateJob(req.LibraryRoot, opts)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "create_job_failed", err)
		return
	}
	respondOK(c, gin.H{"job_id": jobID})
}

func (h *JobsHandler) parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /jobs/{id}/pause
func (h *JobsHandler) Pause(c *gin.Context) {
	id, ok := h.parseJobID(c)
	if !ok {
		return
	}
	if err := h.mgr.PauseJob(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusInternalServerError, "pause_failed", err)
		return
	}
	respondOK(c, gin.H{"ok": true})
}

// POST /jobs/{id}/resume
func (h *JobsHandler) Resume(c *gin.Context) {
	id, ok := h.parseJobID(c)
	if !ok {
		return
	}
	if err := h.mgr.ResumeJob(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusInternalServerError, "resume_failed", err)
		return
	}
	respondOK(c, gin.H{"ok": true})
}

// POST /jobs/{id}/cancel
func (h *JobsHandler) Cancel(c *gin.Context) {
	id, ok := h.parseJobID(c)
	if !ok {
		return
	}
	if err := h.mgr.CancelJob(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	respondOK(c, gin.H{"ok": true})
}

// GET /jobs/{id}
func (h *JobsHandler) Get(c *gin.Context) {
	id, ok := h.parseJobID(c)
	if !ok {
		return
	}
	job, err := h.st.GetJob(id)
	if err != nil {
		respondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	counters, err := h.st.ArtifactCountsForJob(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "counters_failed", err)
		return
	}
	running, err := h.st.NowRunningTask(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "now_running_failed", err)
		return
	}
	errorsSummary, err := h.st.ErrorsSummary(id, 50)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "errors_summary_failed", err)
		return
	}

	var nowRunning interface{}
	if running != nil {
		nowRunning = gin.H{"task_id": running.ID, "kind": running.Kind, "page_id": running.PageID, "file_id": running.FileID}
	}

	respondOK(c, gin.H{
		"status":         job.Status,
		"counters":       counters,
		"now_running":    nowRunning,
		"errors_summary": errorsSummary,
	})
}
