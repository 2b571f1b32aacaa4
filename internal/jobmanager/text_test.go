package jobmanager

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/domain"
)

func TestFinishTextErrMarksArtifactAndTaskError(t *testing.T) {
	m, st := newTestManager(t)
	pageID := seedPageWithArtifacts(t, st)

	jobID := uuid.New()
	if err := st.CreateJob(jobID, "/library", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	taskID, err := st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactText, domain.TaskText, 0, nil)
	if err != nil {
		t.Fatalf("QueueArtifactWithTask: %v", err)
	}
	tasks, err := st.ClaimQueuedTasks(jobID, []domain.TaskKind{domain.TaskText}, 10)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ClaimQueuedTasks: tasks=%v err=%v", tasks, err)
	}

	m.finishTextErr(context.Background(), jobID, tasks[0], pageID, apperr.TextExtractFail, "bad zip", 0)

	statusMap, err := st.ArtifactStatusMap(pageID)
	if err != nil {
		t.Fatalf("ArtifactStatusMap: %v", err)
	}
	if statusMap[domain.ArtifactText] != domain.ArtifactError {
		t.Fatalf("expected text artifact error, got %v", statusMap[domain.ArtifactText])
	}
	counts, err := st.TaskCountsByKindStatus(jobID)
	if err != nil {
		t.Fatalf("TaskCountsByKindStatus: %v", err)
	}
	if counts[domain.TaskText][domain.TaskError] != 1 {
		t.Fatalf("expected one text task in error, got %v", counts[domain.TaskText])
	}
	_ = taskID
}
