package jobmanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/observability"
)

const bm25PoolSize = 8

// bm25Phase runs after textPhase has drained: bm25 depends on the same
// page's text artifact being ready before its norm_text can be indexed.
func (m *Manager) bm25Phase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskBm25}, bm25PoolSize*4)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(bm25PoolSize)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := pause.WaitIfPaused(gctx); err != nil {
					return err
				}
				m.runBm25Task(gctx, jobID, t)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (m *Manager) runBm25Task(ctx context.Context, jobID uuid.UUID, t domain.Task) {
	if t.PageID == nil {
		return
	}
	start := time.Now()
	pageID := *t.PageID
	_ = m.st.TaskStart(t.ID)
	m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "page_id": pageID})

	statusMap, err := m.st.ArtifactStatusMap(pageID)
	if err != nil {
		m.finishBm25Err(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	if statusMap[domain.ArtifactText] != domain.ArtifactReady {
		m.finishBm25Err(ctx, jobID, t, pageID, apperr.Unknown, "text artifact not ready", time.Since(start))
		return
	}

	pt, err := m.st.GetPageText(pageID)
	if err != nil {
		m.finishBm25Err(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	normText := ""
	if pt != nil {
		normText = pt.NormText
	}

	if err := m.st.CommitBm25Ready(pageID, normText); err != nil {
		m.finishBm25Err(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskBm25), "ok", time.Since(start))
	observability.Current().IncArtifactTransition(string(domain.ArtifactBm25), string(domain.ArtifactReady))
	m.bus.Publish(ctx, jobID, "artifact_state_changed", map[string]interface{}{
		"page_id": pageID, "kind": domain.ArtifactBm25, "status": domain.ArtifactReady,
	})
}

func (m *Manager) finishBm25Err(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.SetArtifactError(pageID, domain.ArtifactBm25, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskBm25), "error", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactBm25), string(domain.ArtifactError))
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "page_id": pageID, "error_code": code,
	})
}
