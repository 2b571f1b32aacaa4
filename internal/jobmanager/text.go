package jobmanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/textextract"
)

const textPoolSize = 8

// textPhase runs the text-extraction worker pool to exhaustion: cheap,
// CPU-bound work with the highest parallelism of any phase.
func (m *Manager) textPhase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskText}, textPoolSize*4)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(textPoolSize)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := pause.WaitIfPaused(gctx); err != nil {
					return err
				}
				m.runTextTask(gctx, jobID, t, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (m *Manager) runTextTask(ctx context.Context, jobID uuid.UUID, t domain.Task, opts Options) {
	if t.PageID == nil {
		return
	}
	start := time.Now()
	pageID := *t.PageID
	_ = m.st.TaskStart(t.ID)
	m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "page_id": pageID})

	page, file, err := m.st.PageWithFile(pageID)
	if err != nil {
		m.finishTextErr(ctx, jobID, t, pageID, apperr.TextExtractFail, err.Error(), time.Since(start))
		return
	}

	raw, norm, sig, err := textextract.ExtractPageText(file.Path, page.PageNo)
	if err != nil {
		m.finishTextErr(ctx, jobID, t, pageID, apperr.TextExtractFail, err.Error(), time.Since(start))
		return
	}

	if norm == "" && opts.EnableOCRFallback && m.ocr != nil {
		if th, thErr := m.st.GetThumbnail(pageID); thErr == nil && th != nil {
			if img, readErr := readFile(th.ImagePath); readErr == nil {
				if ocrText, ocrErr := m.ocr.ExtractFromImage(ctx, img); ocrErr == nil && ocrText != "" {
					raw = ocrText
					norm = textextract.NormalizeText(ocrText)
					sig = textextract.FastTextSig(norm)
				}
			}
		}
	}

	if err := m.st.CommitTextReady(pageID, raw, norm, sig); err != nil {
		m.finishTextErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskText), "ok", time.Since(start))
	observability.Current().IncArtifactTransition(string(domain.ArtifactText), string(domain.ArtifactReady))
	m.bus.Publish(ctx, jobID, "artifact_state_changed", map[string]interface{}{
		"page_id": pageID, "kind": domain.ArtifactText, "status": domain.ArtifactReady,
	})
}

func (m *Manager) finishTextErr(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.SetArtifactError(pageID, domain.ArtifactText, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskText), "error", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactText), string(domain.ArtifactError))
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "page_id": pageID, "error_code": code,
	})
}
