package jobmanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/embed"
	"github.com/slidemanager/backend-daemon/internal/observability"
)

const imgVecPoolSize = 4

// imgVecPhase embeds each page's thumbnail image. It has no equivalent in
// the artifact kind's original scope beyond the thumb dependency the data
// model already declares; a thumb must be ready before its page's image
// can be embedded.
func (m *Manager) imgVecPhase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskImgVec}, imgVecPoolSize*4)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(imgVecPoolSize)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := pause.WaitIfPaused(gctx); err != nil {
					return err
				}
				m.runImgVecTask(gctx, jobID, t, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (m *Manager) runImgVecTask(ctx context.Context, jobID uuid.UUID, t domain.Task, opts Options) {
	if t.PageID == nil {
		return
	}
	start := time.Now()
	pageID := *t.PageID
	_ = m.st.TaskStart(t.ID)
	m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "page_id": pageID})

	statusMap, err := m.st.ArtifactStatusMap(pageID)
	if err != nil {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	if statusMap[domain.ArtifactThumb] != domain.ArtifactReady {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.Unknown, "thumb artifact not ready", time.Since(start))
		return
	}

	th, err := m.st.GetThumbnail(pageID)
	if err != nil {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	imgBytes, err := readFile(th.ImagePath)
	if err != nil {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}

	model := opts.ImageEmbedModel
	observability.Current().ObserveEmbedBatch(model, 1)
	vec, err := m.embedC.EmbedImage(ctx, imgBytes, model)
	if err != nil {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.CodeOf(err), err.Error(), time.Since(start))
		return
	}
	if len(vec) == 0 {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.EmbedDimMismatch, "empty image vector returned", time.Since(start))
		return
	}

	if err := m.st.CommitImgVecReady(pageID, model, len(vec), embed.PackF32(vec)); err != nil {
		m.finishImgVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskImgVec), "ok", time.Since(start))
	observability.Current().IncArtifactTransition(string(domain.ArtifactImgVec), string(domain.ArtifactReady))
	m.bus.Publish(ctx, jobID, "artifact_state_changed", map[string]interface{}{
		"page_id": pageID, "kind": domain.ArtifactImgVec, "status": domain.ArtifactReady,
	})
}

func (m *Manager) finishImgVecErr(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.SetArtifactError(pageID, domain.ArtifactImgVec, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskImgVec), "error", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactImgVec), string(domain.ArtifactError))
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "page_id": pageID, "error_code": code,
	})
}
