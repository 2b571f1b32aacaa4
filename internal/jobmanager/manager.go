// Package jobmanager is the orchestration core: the Job state machine,
// its per-kind worker pools, pause/cancel tokens, and the watchdog that
// reclaims tasks whose worker died without finishing. Every persisted
// side effect goes through internal/store so a restarted daemon can
// resume by reading Task rows back out of the database — no in-memory
// pending set is ever authoritative.
package jobmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/config"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/embed"
	"github.com/slidemanager/backend-daemon/internal/eventbus"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/store"
	"github.com/slidemanager/backend-daemon/internal/textextract"
)

const defaultTextEmbedDim = 3072

type jobHandle struct {
	cancel *CancelToken
	pause  *PauseToken
}

// Manager owns every in-flight job's control tokens and drives its
// worker pools. It is safe for concurrent use.
type Manager struct {
	st     *store.Store
	bus    *eventbus.Bus
	embedC embed.Client
	ocr    *textextract.OCRFallback
	cfg    config.Config
	log    *logger.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobHandle
}

// New builds a Manager. ocr may be nil — OCR fallback is opt-in per job
// and degrades silently to empty-text handling when absent.
func New(st *store.Store, bus *eventbus.Bus, embedC embed.Client, ocr *textextract.OCRFallback, cfg config.Config, log *logger.Logger) *Manager {
	return &Manager{
		st:     st,
		bus:    bus,
		embedC: embedC,
		ocr:    ocr,
		cfg:    cfg,
		log:    log.With("component", "JobManager"),
		jobs:   make(map[uuid.UUID]*jobHandle),
	}
}

func (m *Manager) handle(jobID uuid.UUID) *jobHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID]
}

func (m *Manager) register(jobID uuid.UUID, h *jobHandle) {
	m.mu.Lock()
	m.jobs[jobID] = h
	m.mu.Unlock()
}

func (m *Manager) unregister(jobID uuid.UUID) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

// CreateJob persists a new job in the created state and launches its
// orchestration goroutine. It returns immediately with the job id;
// planning and execution happen asynchronously.
func (m *Manager) CreateJob(libraryRoot string, opts Options) (uuid.UUID, error) {
	jobID := uuid.New()
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal job options: %w", err)
	}
	if err := m.st.CreateJob(jobID, libraryRoot, datatypes.JSON(optionsJSON)); err != nil {
		return uuid.Nil, err
	}

	cancel := newCancelToken(context.Background())
	pause := newPauseToken()
	m.register(jobID, &jobHandle{cancel: cancel, pause: pause})

	m.bus.Publish(cancel.ctx, jobID, "job_created", map[string]interface{}{"library_root": libraryRoot})

	go m.runJob(cancel.ctx, jobID, libraryRoot, opts, pause)
	return jobID, nil
}

// PauseJob is a no-op (success) for a job that is not currently running,
// matching the idempotent contract of the pause/resume/cancel endpoints.
func (m *Manager) PauseJob(ctx context.Context, jobID uuid.UUID) error {
	h := m.handle(jobID)
	if h == nil {
		return nil
	}
	h.pause.Pause()
	_ = m.st.SetJobStatus(jobID, domain.JobPaused)
	m.bus.Publish(ctx, jobID, "job_state_changed", map[string]interface{}{"status": domain.JobPaused})
	return nil
}

func (m *Manager) ResumeJob(ctx context.Context, jobID uuid.UUID) error {
	h := m.handle(jobID)
	if h == nil {
		return nil
	}
	h.pause.Resume()
	_ = m.st.SetJobStatus(jobID, domain.JobRunning)
	m.bus.Publish(ctx, jobID, "job_state_changed", map[string]interface{}{"status": domain.JobRunning})
	return nil
}

// CancelJob requests cancellation and returns immediately; the job's own
// goroutine performs FinalizeCancel once its current unit of work
// unwinds. Calling this on an already-terminal or already-cancelled job
// is a no-op that still returns success.
func (m *Manager) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	h := m.handle(jobID)
	if h == nil {
		return nil
	}
	if h.cancel.Cancelled() {
		return nil
	}
	h.cancel.Cancel()
	_ = m.st.SetJobStatus(jobID, domain.JobCancelRequested)
	m.bus.Publish(ctx, jobID, "job_state_changed", map[string]interface{}{"status": domain.JobCancelRequested})
	return nil
}

// StartWatchdog launches the background loop that reclaims tasks whose
// heartbeat has stalled. It runs for the lifetime of ctx.
func (m *Manager) StartWatchdog(ctx context.Context) {
	interval := time.Duration(m.cfg.WatchdogIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.WatchdogTick(ctx); err != nil {
					m.log.Warn("watchdog tick failed", "error", err)
				}
			}
		}
	}()
}

// WatchdogTick performs one scan-and-reclaim pass, exposed standalone so
// it can be driven directly in tests without waiting on a ticker.
func (m *Manager) WatchdogTick(ctx context.Context) error {
	threshold := time.Duration(m.cfg.WatchdogTimeoutSec) * time.Second
	if threshold <= 0 {
		threshold = 30 * time.Second
	}
	stale, err := m.st.StaleRunningTasks(threshold)
	if err != nil {
		return err
	}
	for _, t := range stale {
		observability.Current().IncWatchdogTrip()
		if err := m.st.TaskFinishErr(t.ID, string(apperr.WatchdogTimeout), "task heartbeat timeout"); err != nil {
			m.log.Warn("failed to finish stale task", "task_id", t.ID, "error", err)
			continue
		}
		if t.PageID != nil {
			if kind, ok := artifactKindForTask(t.Kind); ok {
				_ = m.st.SetArtifactError(*t.PageID, kind, string(apperr.WatchdogTimeout), "task heartbeat timeout")
			}
		}
		if t.Kind == domain.TaskPDF && t.FileID != nil {
			_ = m.st.CascadeFileFailure(*t.FileID, string(apperr.WatchdogTimeout), "pdf conversion heartbeat timeout")
		}
		m.bus.Publish(ctx, t.JobID, "task_error", map[string]interface{}{
			"task_id": t.ID, "kind": t.Kind, "error_code": apperr.WatchdogTimeout,
		})
	}
	return nil
}

func artifactKindForTask(k domain.TaskKind) (domain.ArtifactKind, bool) {
	switch k {
	case domain.TaskText:
		return domain.ArtifactText, true
	case domain.TaskThumb:
		return domain.ArtifactThumb, true
	case domain.TaskBm25:
		return domain.ArtifactBm25, true
	case domain.TaskTextVec:
		return domain.ArtifactTextVec, true
	case domain.TaskImgVec:
		return domain.ArtifactImgVec, true
	default:
		return "", false
	}
}

// runJob drives one job end to end: planning, then the dependency-ordered
// worker pools, then a terminal state. It never returns an error — every
// failure is recorded on the job/task/artifact rows and surfaced as an
// event, per the "no error kills the daemon" contract.
func (m *Manager) runJob(ctx context.Context, jobID uuid.UUID, libraryRoot string, opts Options, pause *PauseToken) {
	defer m.unregister(jobID)

	_ = m.st.SetJobStatus(jobID, domain.JobPlanning)
	m.bus.Publish(ctx, jobID, "job_state_changed", map[string]interface{}{"status": domain.JobPlanning})

	if err := m.planPhase(ctx, jobID, libraryRoot, opts, pause); err != nil {
		m.failJob(ctx, jobID, err)
		return
	}

	_ = m.st.SetJobStatus(jobID, domain.JobRunning)
	m.bus.Publish(ctx, jobID, "job_state_changed", map[string]interface{}{"status": domain.JobRunning})

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	go m.statsSnapshotLoop(snapshotCtx, jobID)

	err := m.runPipelines(ctx, jobID, opts, pause)
	stopSnapshots()

	if ctx.Err() != nil {
		if fErr := m.st.FinalizeCancel(jobID); fErr != nil {
			m.log.Warn("finalize cancel failed", "job_id", jobID, "error", fErr)
		}
		m.bus.Publish(context.Background(), jobID, "job_finished", map[string]interface{}{"status": domain.JobCancelled})
		return
	}
	if err != nil {
		m.failJob(context.Background(), jobID, err)
		return
	}

	summary, _ := json.Marshal(map[string]interface{}{"job_id": jobID})
	_ = m.st.FinishJob(jobID, domain.JobCompleted, datatypes.JSON(summary))
	m.bus.Publish(context.Background(), jobID, "job_finished", map[string]interface{}{"status": domain.JobCompleted})
}

func (m *Manager) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	m.log.Error("job failed", "job_id", jobID, "error", err)
	summary, _ := json.Marshal(map[string]interface{}{"error": err.Error()})
	_ = m.st.FinishJob(jobID, domain.JobFailed, datatypes.JSON(summary))
	m.bus.Publish(ctx, jobID, "job_finished", map[string]interface{}{"status": domain.JobFailed, "error": err.Error()})
}

// runPipelines executes the dependency-ordered phases: text (with bm25
// following, same page), then pdf (with thumb following, same file),
// then the two embedding phases. Phases run to exhaustion before the
// next starts — cross-phase dependency, not cross-page ordering.
func (m *Manager) runPipelines(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	if opts.EnableText {
		if err := m.textPhase(ctx, jobID, opts, pause); err != nil {
			return err
		}
	}
	if opts.EnableBm25 {
		if err := m.bm25Phase(ctx, jobID, opts, pause); err != nil {
			return err
		}
	}
	if opts.EnableThumb {
		if err := m.pdfPhase(ctx, jobID, opts, pause); err != nil {
			return err
		}
		if err := m.thumbPhase(ctx, jobID, opts, pause); err != nil {
			return err
		}
	}
	if opts.EnableTextVec {
		if err := m.textVecPhase(ctx, jobID, opts, pause); err != nil {
			return err
		}
	}
	if opts.EnableImgVec {
		if err := m.imgVecPhase(ctx, jobID, opts, pause); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func pdfPathFor(cfg config.Config, fileID int64) string {
	return filepath.Join(cfg.PDFDir, fmt.Sprintf("%d.pdf", fileID))
}

func thumbPathFor(cfg config.Config, fileID int64, pageNo int, aspect domain.Aspect, w, h int) string {
	return filepath.Join(cfg.ThumbDir, fmt.Sprintf("%d", fileID), fmt.Sprintf("%d_%s_%dx%d.jpg", pageNo, aspect, w, h))
}
