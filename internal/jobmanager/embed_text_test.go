package jobmanager

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
)

// fakeEmbedClient is an in-memory embed.Client double: it counts calls and
// either returns a fixed vector per input or a canned error.
type fakeEmbedClient struct {
	calls int32
	err   error
	dim   int
}

func (f *fakeEmbedClient) EmbedTextBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func (f *fakeEmbedClient) EmbedImage(ctx context.Context, imgBytes []byte, model string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	return make([]float32, 4), nil
}

func TestTextVecPhaseFailsWhenTextArtifactIsNotReady(t *testing.T) {
	m, st := newTestManager(t)
	pageID := seedPageWithArtifacts(t, st)

	if err := st.SetArtifactError(pageID, domain.ArtifactText, "TEXT_EXTRACT_FAIL", "boom"); err != nil {
		t.Fatalf("SetArtifactError: %v", err)
	}

	jobID := uuid.New()
	if err := st.CreateJob(jobID, "/library", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactTextVec, domain.TaskTextVec, 0, nil); err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}

	opts := DefaultOptions()
	if err := m.textVecPhase(context.Background(), jobID, opts, newPauseToken()); err != nil {
		t.Fatalf("textVecPhase: %v", err)
	}

	statusMap, err := st.ArtifactStatusMap(pageID)
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statusMap[domain.ArtifactTextVec] == domain.ArtifactReady {
		t.Fatalf("expected text_vec artifact to stay non-ready when its page's text artifact failed, got %v", statusMap[domain.ArtifactTextVec])
	}
}

func TestTextVecPhaseDedupsIdenticalSignaturesIntoOneRemoteCall(t *testing.T) {
	fake := &fakeEmbedClient{}
	m, st := newTestManagerWithEmbed(t, fake)

	root := t.TempDir()
	fileID, _, err := st.UpsertFile(filepath.Join(root, "deck.pptx"), 1024, 1000, domain.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	pageIDs, _, err := st.EnsurePagesRows(fileID, 2, domain.Aspect16x9, 1024, 1000)
	if err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}

	jobID := uuid.New()
	if err := st.CreateJob(jobID, root, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, pageID := range pageIDs {
		if err := st.CommitTextReady(pageID, "raw", "same slide text", "same-sig"); err != nil {
			t.Fatalf("CommitTextReady: %v", err)
		}
		if _, err := st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactTextVec, domain.TaskTextVec, 0, nil); err != nil {
			t.Fatalf("QueueArtifactWithTask: %v", err)
		}
	}

	opts := DefaultOptions()
	if err := m.textVecPhase(context.Background(), jobID, opts, newPauseToken()); err != nil {
		t.Fatalf("textVecPhase: %v", err)
	}

	if calls := atomic.LoadInt32(&fake.calls); calls != 1 {
		t.Fatalf("EmbedTextBatch calls = %d, want 1 for two pages sharing a text signature", calls)
	}
	for _, pageID := range pageIDs {
		statusMap, err := st.ArtifactStatusMap(pageID)
		if err != nil {
			t.Fatalf("ArtifactStatusMap: %v", err)
		}
		if statusMap[domain.ArtifactTextVec] != domain.ArtifactReady {
			t.Fatalf("page %d text_vec = %v, want ready", pageID, statusMap[domain.ArtifactTextVec])
		}
	}
}

func TestTextVecPhaseAbortsRemainingTasksOnAuthError(t *testing.T) {
	fake := &fakeEmbedClient{err: apperr.New(apperr.OpenAIAuth, "invalid api key")}
	m, st := newTestManagerWithEmbed(t, fake)

	root := t.TempDir()
	fileID, _, err := st.UpsertFile(filepath.Join(root, "deck.pptx"), 1024, 1000, domain.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	pageIDs, _, err := st.EnsurePagesRows(fileID, 2, domain.Aspect16x9, 1024, 1000)
	if err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}

	jobID := uuid.New()
	if err := st.CreateJob(jobID, root, nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for i, pageID := range pageIDs {
		if err := st.CommitTextReady(pageID, "raw", "distinct text "+string(rune('a'+i)), "sig-"+string(rune('a'+i))); err != nil {
			t.Fatalf("CommitTextReady: %v", err)
		}
		if _, err := st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactTextVec, domain.TaskTextVec, 0, nil); err != nil {
			t.Fatalf("QueueArtifactWithTask: %v", err)
		}
	}

	opts := DefaultOptions()
	if err := m.textVecPhase(context.Background(), jobID, opts, newPauseToken()); err != nil {
		t.Fatalf("textVecPhase: %v", err)
	}

	if calls := atomic.LoadInt32(&fake.calls); calls != 1 {
		t.Fatalf("EmbedTextBatch calls = %d, want exactly 1 (no further retries after an auth failure)", calls)
	}
	for _, pageID := range pageIDs {
		statusMap, err := st.ArtifactStatusMap(pageID)
		if err != nil {
			t.Fatalf("ArtifactStatusMap: %v", err)
		}
		if statusMap[domain.ArtifactTextVec] != domain.ArtifactError {
			t.Fatalf("page %d text_vec = %v, want error", pageID, statusMap[domain.ArtifactTextVec])
		}
	}
}

func TestTextVecPhaseCommitsZeroVectorForReadyEmptyText(t *testing.T) {
	m, st := newTestManager(t)
	pageID := seedPageWithArtifacts(t, st)

	if err := st.CommitTextReady(pageID, "", "", ""); err != nil {
		t.Fatalf("CommitTextReady: %v", err)
	}

	jobID := uuid.New()
	if err := st.CreateJob(jobID, "/library", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactTextVec, domain.TaskTextVec, 0, nil); err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}

	opts := DefaultOptions()
	if err := m.textVecPhase(context.Background(), jobID, opts, newPauseToken()); err != nil {
		t.Fatalf("textVecPhase: %v", err)
	}

	statusMap, err := st.ArtifactStatusMap(pageID)
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statusMap[domain.ArtifactTextVec] != domain.ArtifactReady {
		t.Fatalf("expected text_vec artifact ready for a genuinely empty but successfully-extracted page, got %v", statusMap[domain.ArtifactTextVec])
	}
}
