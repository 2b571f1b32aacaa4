package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := Open(dbPath, logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFileWithPages(t *testing.T, s *Store, slideCount int) (fileID int64, pageIDs []int64) {
	t.Helper()
	fileID, changed, err := s.UpsertFile("/library/deck.pptx", 1024, 1000, domain.Aspect16x9)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if !changed {
		t.Fatalf("expected a newly created file to report changed=true")
	}
	pageIDs, _, err = s.EnsurePagesRows(fileID, slideCount, domain.Aspect16x9, 1024, 1000)
	if err != nil {
		t.Fatalf("EnsurePagesRows: %v", err)
	}
	if len(pageIDs) != slideCount {
		t.Fatalf("got %d page ids, want %d", len(pageIDs), slideCount)
	}
	return fileID, pageIDs
}

func TestUpsertFileReportsChangedOnlyWhenSizeOrMtimeDiffer(t *testing.T) {
	s := openTestStore(t)
	id1, changed1, err := s.UpsertFile("/library/a.pptx", 100, 10, domain.Aspect4x3)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	if !changed1 {
		t.Fatalf("expected changed=true for a new file")
	}

	id2, changed2, err := s.UpsertFile("/library/a.pptx", 100, 10, domain.Aspect4x3)
	if err != nil {
		t.Fatalf("UpsertFile (unchanged): %v", err)
	}
	if id2 != id1 {
		t.Fatalf("expected the same file id on re-scan, got %d and %d", id1, id2)
	}
	if changed2 {
		t.Fatalf("expected changed=false when size/mtime are identical")
	}

	_, changed3, err := s.UpsertFile("/library/a.pptx", 200, 10, domain.Aspect4x3)
	if err != nil {
		t.Fatalf("UpsertFile (size changed): %v", err)
	}
	if !changed3 {
		t.Fatalf("expected changed=true when size differs")
	}
}

func TestEnsurePagesRowsCreatesArtifactRowsForEveryKind(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 3)

	statuses, err := s.ArtifactStatusMap(pageIDs[0])
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if len(statuses) != len(domain.AllArtifactKinds) {
		t.Fatalf("got %d artifact kinds, want %d", len(statuses), len(domain.AllArtifactKinds))
	}
	for _, kind := range domain.AllArtifactKinds {
		if statuses[kind] != domain.ArtifactMissing {
			t.Errorf("artifact %q status = %q, want missing", kind, statuses[kind])
		}
	}
}

func TestEnsurePagesRowsIsIdempotentOnReRun(t *testing.T) {
	s := openTestStore(t)
	fileID, pageIDs := seedFileWithPages(t, s, 2)

	pageIDs2, _, err := s.EnsurePagesRows(fileID, 2, domain.Aspect16x9, 1024, 1000)
	if err != nil {
		t.Fatalf("EnsurePagesRows (rerun): %v", err)
	}
	if len(pageIDs2) != 2 || pageIDs2[0] != pageIDs[0] || pageIDs2[1] != pageIDs[1] {
		t.Fatalf("expected the same page ids on rerun, got %v vs %v", pageIDs2, pageIDs)
	}
}

func TestQueueArtifactWithTaskTransitionsArtifactAndCreatesTask(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 1)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	taskID, err := s.QueueArtifactWithTask(jobID, pageIDs[0], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}
	if taskID == 0 {
		t.Fatalf("expected a nonzero task id")
	}

	statuses, err := s.ArtifactStatusMap(pageIDs[0])
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statuses[domain.ArtifactText] != domain.ArtifactQueued {
		t.Fatalf("text artifact status = %q, want queued", statuses[domain.ArtifactText])
	}

	tasks, err := s.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskText}, 10)
	if err != nil {
		t.Fatalf("ClaimQueuedTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != taskID {
		t.Fatalf("ClaimQueuedTasks = %+v, want one task with id %d", tasks, taskID)
	}
}

func TestTaskLifecycleStartHeartbeatFinishOK(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 1)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	taskID, err := s.QueueArtifactWithTask(jobID, pageIDs[0], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}

	if err := s.TaskStart(taskID); err != nil {
		t.Fatalf("TaskStart: %v", err)
	}
	if err := s.TaskHeartbeat(taskID); err != nil {
		t.Fatalf("TaskHeartbeat: %v", err)
	}
	if err := s.TaskFinishOK(taskID); err != nil {
		t.Fatalf("TaskFinishOK: %v", err)
	}

	counts, err := s.TaskCountsByKindStatus(jobID)
	if err != nil {
		t.Fatalf("TaskCountsByKindStatus: %v", err)
	}
	if counts[domain.TaskText][domain.TaskSucceeded] != 1 {
		t.Fatalf("counts = %+v, want one succeeded text task", counts)
	}
}

func TestTaskFinishErrRecordsCodeAndTruncatesMessage(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 1)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	taskID, err := s.QueueArtifactWithTask(jobID, pageIDs[0], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}

	longMsg := make([]byte, 1000)
	for i := range longMsg {
		longMsg[i] = 'x'
	}
	if err := s.TaskFinishErr(taskID, "TEXT_EXTRACT_FAIL", string(longMsg)); err != nil {
		t.Fatalf("TaskFinishErr: %v", err)
	}

	summary, err := s.ErrorsSummary(jobID, 10)
	if err != nil {
		t.Fatalf("ErrorsSummary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("got %d error summary rows, want 1: %+v", len(summary), summary)
	}
	if summary[0]["error_code"] != "TEXT_EXTRACT_FAIL" {
		t.Fatalf("unexpected error_code: %+v", summary[0])
	}
}

func TestStaleRunningTasksFindsOnlyTasksPastTheHeartbeatThreshold(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 2)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	staleTaskID, err := s.QueueArtifactWithTask(jobID, pageIDs[0], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}
	freshTaskID, err := s.QueueArtifactWithTask(jobID, pageIDs[1], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`))
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}
	if err := s.TaskStart(staleTaskID); err != nil {
		t.Fatalf("TaskStart stale: %v", err)
	}
	if err := s.TaskStart(freshTaskID); err != nil {
		t.Fatalf("TaskStart fresh: %v", err)
	}
	// backdate the stale task's heartbeat directly, bypassing TaskHeartbeat's now().
	oldHeartbeat := time.Now().Add(-time.Hour)
	if err := s.db.Model(&domain.Task{}).Where("id = ?", staleTaskID).Update("heartbeat_at", oldHeartbeat).Error; err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}

	stale, err := s.StaleRunningTasks(30 * time.Second)
	if err != nil {
		t.Fatalf("StaleRunningTasks: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != staleTaskID {
		t.Fatalf("StaleRunningTasks = %+v, want only task %d", stale, staleTaskID)
	}
}

func TestCommitTextReadyWritesPageTextAndMarksArtifactReady(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 1)

	if err := s.CommitTextReady(pageIDs[0], "Raw  Text", "Raw Text", "abc123"); err != nil {
		t.Fatalf("CommitTextReady: %v", err)
	}

	pt, err := s.GetPageText(pageIDs[0])
	if err != nil {
		t.Fatalf("GetPageText: %v", err)
	}
	if pt == nil || pt.NormText != "Raw Text" {
		t.Fatalf("GetPageText = %+v, want norm_text=Raw Text", pt)
	}

	statuses, err := s.ArtifactStatusMap(pageIDs[0])
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statuses[domain.ArtifactText] != domain.ArtifactReady {
		t.Fatalf("text artifact status = %q, want ready", statuses[domain.ArtifactText])
	}
}

func TestCommitTextVecReadySharesCacheAcrossIdenticalSignatures(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 2)

	blob := []byte{1, 2, 3, 4}
	if err := s.CommitTextVecReady(pageIDs[0], "text-embedding-3-large", "shared-sig", 4, blob); err != nil {
		t.Fatalf("CommitTextVecReady page 0: %v", err)
	}
	if err := s.CommitTextVecReady(pageIDs[1], "text-embedding-3-large", "shared-sig", 4, blob); err != nil {
		t.Fatalf("CommitTextVecReady page 1: %v", err)
	}

	cached, err := s.LookupEmbeddingCache("text-embedding-3-large", "shared-sig")
	if err != nil {
		t.Fatalf("LookupEmbeddingCache: %v", err)
	}
	if cached == nil {
		t.Fatalf("expected a cache hit for the shared signature")
	}
}

func TestLookupEmbeddingCacheMissReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	cached, err := s.LookupEmbeddingCache("text-embedding-3-large", "no-such-sig")
	if err != nil {
		t.Fatalf("LookupEmbeddingCache: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected a nil cache miss, got %+v", cached)
	}
}

func TestFinalizeCancelStopsQueuedTasksAndArtifacts(t *testing.T) {
	s := openTestStore(t)
	_, pageIDs := seedFileWithPages(t, s, 1)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.QueueArtifactWithTask(jobID, pageIDs[0], domain.ArtifactText, domain.TaskText, 10, datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}

	if err := s.FinalizeCancel(jobID); err != nil {
		t.Fatalf("FinalizeCancel: %v", err)
	}

	job, err := s.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != domain.JobCancelled {
		t.Fatalf("job status = %q, want cancelled", job.Status)
	}

	statuses, err := s.ArtifactStatusMap(pageIDs[0])
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statuses[domain.ArtifactText] != domain.ArtifactCancelled {
		t.Fatalf("text artifact status = %q, want cancelled", statuses[domain.ArtifactText])
	}
}

func TestAppendEventAssignsMonotonicPerJobSequence(t *testing.T) {
	s := openTestStore(t)
	jobID := uuid.New()
	if err := s.CreateJob(jobID, "/library", datatypes.JSON(`{}`)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ev1, err := s.AppendEvent(jobID, "task_update", datatypes.JSON(`{"a":1}`))
	if err != nil {
		t.Fatalf("AppendEvent 1: %v", err)
	}
	ev2, err := s.AppendEvent(jobID, "task_update", datatypes.JSON(`{"a":2}`))
	if err != nil {
		t.Fatalf("AppendEvent 2: %v", err)
	}
	if ev1.Seq != 1 || ev2.Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", ev1.Seq, ev2.Seq)
	}

	events, err := s.ListEventsSince(jobID, ev1.Seq)
	if err != nil {
		t.Fatalf("ListEventsSince: %v", err)
	}
	if len(events) != 1 || events[0].Seq != ev2.Seq {
		t.Fatalf("ListEventsSince(after %d) = %+v, want just seq %d", ev1.Seq, events, ev2.Seq)
	}
}

func TestCascadeFileFailureErrorsThumbAndImgVecForAllPages(t *testing.T) {
	s := openTestStore(t)
	fileID, pageIDs := seedFileWithPages(t, s, 2)

	if err := s.CascadeFileFailure(fileID, "PDF_CONVERT_FAIL", "libreoffice crashed"); err != nil {
		t.Fatalf("CascadeFileFailure: %v", err)
	}

	for _, pageID := range pageIDs {
		statuses, err := s.ArtifactStatusMap(pageID)
		if err != nil {
			t.Fatalf("ArtifactStatusMap: %v", err)
		}
		if statuses[domain.ArtifactThumb] != domain.ArtifactError {
			t.Errorf("page %d thumb status = %q, want error", pageID, statuses[domain.ArtifactThumb])
		}
		if statuses[domain.ArtifactImgVec] != domain.ArtifactError {
			t.Errorf("page %d img_vec status = %q, want error", pageID, statuses[domain.ArtifactImgVec])
		}
		if statuses[domain.ArtifactText] != domain.ArtifactMissing {
			t.Errorf("page %d text status = %q, want untouched (missing)", pageID, statuses[domain.ArtifactText])
		}
	}
}
