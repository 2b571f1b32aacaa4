package jobmanager

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/embed"
	"github.com/slidemanager/backend-daemon/internal/observability"
)

// errAbortTextEmbedding signals that the remote embedding call failed with
// an auth error: the credentials are wrong for every remaining call in
// this job too, so the phase stops claiming further work instead of
// retrying one doomed batch at a time.
var errAbortTextEmbedding = errors.New("text embedding aborted: auth failure")

type textVecJob struct {
	task     domain.Task
	pageID   int64
	normText string
	sig      string
	start    time.Time
}

// textVecPhase claims a batch of text_vec tasks at a time, short-circuits
// empty-text pages to a zero vector, reuses the embedding cache for any
// (model, text_sig) already computed by an earlier page or job, and sends
// only the genuinely new text to the remote embedding call.
func (m *Manager) textVecPhase(ctx context.Context, jobID uuid.UUID, opts Options, pause *PauseToken) error {
	model := opts.TextEmbedModel
	batchSize := opts.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	for {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskTextVec}, batchSize)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		var fresh []textVecJob
		for _, t := range tasks {
			if err := pause.WaitIfPaused(ctx); err != nil {
				return err
			}
			if t.PageID == nil {
				continue
			}
			start := time.Now()
			pageID := *t.PageID
			_ = m.st.TaskStart(t.ID)
			m.bus.Publish(ctx, jobID, "task_started", map[string]interface{}{"task_id": t.ID, "kind": t.Kind, "page_id": pageID})

			statusMap, err := m.st.ArtifactStatusMap(pageID)
			if err != nil {
				m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
				continue
			}
			if statusMap[domain.ArtifactText] != domain.ArtifactReady {
				m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, "text artifact not ready", time.Since(start))
				continue
			}

			pt, err := m.st.GetPageText(pageID)
			if err != nil {
				m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
				continue
			}
			if pt == nil || pt.NormText == "" {
				m.commitTextVecZero(ctx, jobID, t, pageID, model, start)
				continue
			}

			cached, err := m.st.LookupEmbeddingCache(model, pt.TextSig)
			if err != nil {
				m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
				continue
			}
			if cached != nil {
				observability.Current().IncEmbedCacheHit()
				if err := m.st.CommitTextVecReady(pageID, model, cached.TextSig, cached.Dim, cached.VectorBlob); err != nil {
					m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
					continue
				}
				m.finishTextVecOK(ctx, jobID, t, pageID, time.Since(start))
				continue
			}
			observability.Current().IncEmbedCacheMiss()

			fresh = append(fresh, textVecJob{task: t, pageID: pageID, normText: pt.NormText, sig: pt.TextSig, start: start})
		}

		if err := m.embedFreshBatch(ctx, jobID, fresh, model); err != nil {
			if errors.Is(err, errAbortTextEmbedding) {
				return m.failRemainingTextVecTasks(ctx, jobID)
			}
			return err
		}
	}
}

// failRemainingTextVecTasks drains every still-queued text_vec task for
// jobID and marks it error without attempting another remote call. Called
// once the embedding client has reported an auth failure for this job.
func (m *Manager) failRemainingTextVecTasks(ctx context.Context, jobID uuid.UUID) error {
	for {
		tasks, err := m.st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskTextVec}, 256)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		for _, t := range tasks {
			if t.PageID == nil {
				continue
			}
			_ = m.st.TaskStart(t.ID)
			m.finishTextVecErr(ctx, jobID, t, *t.PageID, apperr.OpenAIAuth, "text embedding aborted: auth failure", 0)
		}
	}
}

func (m *Manager) commitTextVecZero(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, model string, start time.Time) {
	if err := m.st.CommitTextVecReady(pageID, model, "", defaultTextEmbedDim, embed.ZeroVector(defaultTextEmbedDim)); err != nil {
		m.finishTextVecErr(ctx, jobID, t, pageID, apperr.Unknown, err.Error(), time.Since(start))
		return
	}
	m.finishTextVecOK(ctx, jobID, t, pageID, time.Since(start))
}

// embedFreshBatch de-duplicates identical text signatures within the batch
// (two different pages can hold the same text) before calling the remote
// API, then fans the resulting vectors back out to every task that shares
// each signature.
func (m *Manager) embedFreshBatch(ctx context.Context, jobID uuid.UUID, jobs []textVecJob, model string) error {
	if len(jobs) == 0 {
		return nil
	}

	uniqueSigs := make([]string, 0, len(jobs))
	uniqueTexts := make([]string, 0, len(jobs))
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.sig] {
			continue
		}
		seen[j.sig] = true
		uniqueSigs = append(uniqueSigs, j.sig)
		uniqueTexts = append(uniqueTexts, j.normText)
	}

	observability.Current().ObserveEmbedBatch(model, len(uniqueTexts))
	vecs, err := m.embedC.EmbedTextBatch(ctx, uniqueTexts, model)
	if err != nil {
		code := apperr.CodeOf(err)
		for _, j := range jobs {
			m.finishTextVecErr(ctx, jobID, j.task, j.pageID, code, err.Error(), time.Since(j.start))
		}
		if code == apperr.OpenAIAuth {
			return errAbortTextEmbedding
		}
		return nil
	}
	if len(vecs) != len(uniqueTexts) {
		for _, j := range jobs {
			m.finishTextVecErr(ctx, jobID, j.task, j.pageID, apperr.EmbedDimMismatch, "embedding response size mismatch", time.Since(j.start))
		}
		return nil
	}

	bySig := make(map[string][]float32, len(uniqueSigs))
	for i, sig := range uniqueSigs {
		bySig[sig] = vecs[i]
	}

	for _, j := range jobs {
		vec, ok := bySig[j.sig]
		if !ok || len(vec) == 0 {
			m.finishTextVecErr(ctx, jobID, j.task, j.pageID, apperr.EmbedDimMismatch, "empty vector returned", time.Since(j.start))
			continue
		}
		if err := m.st.CommitTextVecReady(j.pageID, model, j.sig, len(vec), embed.PackF32(vec)); err != nil {
			m.finishTextVecErr(ctx, jobID, j.task, j.pageID, apperr.Unknown, err.Error(), time.Since(j.start))
			continue
		}
		m.finishTextVecOK(ctx, jobID, j.task, j.pageID, time.Since(j.start))
	}
	return nil
}

func (m *Manager) finishTextVecOK(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, dur time.Duration) {
	_ = m.st.TaskFinishOK(t.ID)
	observability.Current().ObserveTask(string(domain.TaskTextVec), "ok", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactTextVec), string(domain.ArtifactReady))
	m.bus.Publish(ctx, jobID, "artifact_state_changed", map[string]interface{}{
		"page_id": pageID, "kind": domain.ArtifactTextVec, "status": domain.ArtifactReady,
	})
}

func (m *Manager) finishTextVecErr(ctx context.Context, jobID uuid.UUID, t domain.Task, pageID int64, code apperr.Code, msg string, dur time.Duration) {
	_ = m.st.SetArtifactError(pageID, domain.ArtifactTextVec, string(code), msg)
	_ = m.st.TaskFinishErr(t.ID, string(code), msg)
	observability.Current().ObserveTask(string(domain.TaskTextVec), "error", dur)
	observability.Current().IncArtifactTransition(string(domain.ArtifactTextVec), string(domain.ArtifactError))
	m.bus.Publish(ctx, jobID, "task_error", map[string]interface{}{
		"task_id": t.ID, "kind": t.Kind, "page_id": pageID, "error_code": code,
	})
}
