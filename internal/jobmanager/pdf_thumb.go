package jobmanager

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/observability"
	"github.com/slidemanager/backend-daemon/internal/pdfconvert"
	"github.com/slidemanager/backend-daemon/internal/thumbnail"
)

const (
	pdfPoolSize   = 1
	thumbPoolSize = 4
)

// pdfPhase converts every file with a pending pdf task, one at a time by
// default — LibreOffice instances contend heavily for CPU and disk, and
// running many concurrently mostly adds wall-clock rather than saving it.
func (m *Manager) pdfPhase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	limit := m.cfg.PDF.MaxConcurrency
	if limit <= 0 {
		limit = pdfPoolSize
	}
	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskPDF}, limit*4)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := pause.WaitIfPaused(gctx); err != nil {
					return err
				}
				m.runPDFTask(gctx, jobID, t, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (m *Manager) runPDFTask(ctx context.Context, jobID uuid.UUID, t domain.Task, opts Options) {
	if t.FileID == nil {
		return
	}
	start := time.Now()
	fileID := *t.FileID
	_ = m.st.TaskStart(t.ID)
	m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "file_id": fileID})

	file, err := m.st.GetFile(fileID)
	if err != nil {
		m.finishPDFErr(ctx, jobID, t, fileID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}

	timeout := time.Duration(opts.PDFTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(m.cfg.PDF.TimeoutSec) * time.Second
	}
	outPDF := pdfPathFor(m.cfg, fileID)
	if err := pdfconvert.Convert(ctx, m.cfg.SofficePath, file.Path, outPDF, timeout); err != nil {
		m.finishPDFErr(ctx, jobID, t, fileID, apperr.CodeOf(err), err.Error(), time.Since(start))
		return
	}

	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskPDF), "ok", time.Since(start))
	observability.Current().ObservePDFConvert("ok", time.Since(start))
	m.bus.Publish(ctx, jobID, "file_pdf_ready", map[string]interface{}{"file_id": fileID})
}

func (m *Manager) finishPDFErr(ctx context.Context, jobID uuid.UUID, t domain.Task, fileID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.CascadeFileFailure(fileID, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskPDF), "error", dur)
	observability.Current().ObservePDFConvert("error", dur)
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "file_id": fileID, "error_code": code,
	})
}

// thumbPhase runs after pdfPhase has drained: every page needing a thumb
// can now read its file's converted PDF.
func (m *Manager) thumbPhase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskThumb}, thumbPoolSize*4)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(thumbPoolSize)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				if err := pause.WaitIfPaused(gctx); err != nil {
					return err
				}
				m.runThumbTask(gctx, jobID, t, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (m *Manager) runThumbTask(ctx context.Context, jobID uuid.UUID, t domain.Task, opts Options) {
	if t.PageID == nil {
		return
	}
	start := time.Now()
	pageID := *t.PageID
	_ = m.st.TaskStart(t.ID)
	m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "page_id": pageID})

	page, file, err := m.st.PageWithFile(pageID)
	if err != nil {
		m.finishThumbErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}

	pdfPath := pdfPathFor(m.cfg, file.ID)
	width, height := thumbnail.Size(page.Aspect, opts.ThumbWidth, opts.ThumbHeight43, opts.ThumbHeight169)
	outPath := thumbPathFor(m.cfg, file.ID, page.PageNo, page.Aspect, width, height)
	if err := os.MkdirAll(dirOf(outPath), 0o755); err != nil {
		m.finishThumbErr(ctx, jobID, t, pageID, apperr.ThumbRenderFail, err.Error(), time.Since(start))
		return
	}

	dpi := opts.ThumbRenderDPI
	if dpi <= 0 {
		dpi = m.cfg.Thumb.RenderDPI
	}
	if err := thumbnail.Render(ctx, m.cfg.PdftoppmPath, pdfPath, page.PageNo, outPath, width, height, dpi); err != nil {
		m.finishThumbErr(ctx, jobID, t, pageID, apperr.ThumbRenderFail, err.Error(), time.Since(start))
		return
	}

	if err := m.st.CommitThumbReady(pageID, page.Aspect, width, height, outPath); err != nil {
		m.finishThumbErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskThumb), "ok", time.Since(start))
	observability.Current().IncArtifactTransition(string(domain.ArtifactThumb), string(domain.ArtifactReady))
	m.bus.Publish(ctx, jobID, "artifact_state_changed", map[string]interface{}{
		"page_id": pageID, "kind": domain.ArtifactThumb, "status": domain.ArtifactReady,
	})
}

func (m *Manager) finishThumbErr(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.SetArtifactError(pageID, domain.ArtifactThumb, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskThumb), "error", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactThumb), string(domain.ArtifactError))
	observability.Current().IncThumbnailRenderError(string(code))
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "page_id": pageID, "error_code": code,
	})
}
