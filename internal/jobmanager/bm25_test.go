package jobmanager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/store"
)

func seedPageWithArtifacts(t *testing.T, st *store.Store) int64 {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "deck.pptx")
	fileID, _, err := st.UpsertFile(path, 1024, 1000, domain.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	pageIDs, _, err := st.EnsurePagesRows(fileID, 1, domain.Aspect16x9, 1024, 1000)
	if err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}
	return pageIDs[0]
}

func TestRunBm25TaskFailsWhenTextArtifactIsNotReady(t *testing.T) {
	m, st := newTestManager(t)
	pageID := seedPageWithArtifacts(t, st)

	if err := st.SetArtifactError(pageID, domain.ArtifactText, "TEXT_EXTRACT_FAIL", "boom"); err != nil {
		t.Fatalf("SetArtifactError: %v", err)
	}

	jobID := uuid.New()
	task := domain.Task{ID: 1, Kind: domain.TaskBm25, PageID: &pageID}
	m.runBm25Task(context.Background(), jobID, task)

	statusMap, err := st.ArtifactStatusMap(pageID)
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statusMap[domain.ArtifactBm25] == domain.ArtifactReady {
		t.Fatalf("expected bm25 artifact to stay non-ready when its page's text artifact failed, got %v", statusMap[domain.ArtifactBm25])
	}
}

func TestRunBm25TaskSucceedsWhenTextArtifactIsReady(t *testing.T) {
	m, st := newTestManager(t)
	pageID := seedPageWithArtifacts(t, st)

	if err := st.CommitTextReady(pageID, "raw", "norm", "sig"); err != nil {
		t.Fatalf("CommitTextReady: %v", err)
	}

	jobID := uuid.New()
	task := domain.Task{ID: 1, Kind: domain.TaskBm25, PageID: &pageID}
	m.runBm25Task(context.Background(), jobID, task)

	statusMap, err := st.ArtifactStatusMap(pageID)
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statusMap[domain.ArtifactBm25] != domain.ArtifactReady {
		t.Fatalf("expected bm25 artifact ready, got %v", statusMap[domain.ArtifactBm25])
	}
}
