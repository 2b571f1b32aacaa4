package store

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// TaskCountsByKindStatus returns, for one job, the number of tasks in each
// (kind, status) pair. It backs the plan phase's planning_progress event;
// the GET /jobs/{id} counters and the stats_snapshot event use
// ArtifactCountsForJob instead.
func (s *Store) TaskCountsByKindStatus(jobID uuid.UUID) (map[domain.TaskKind]map[domain.TaskStatus]int, error) {
	type row struct {
		Kind   domain.TaskKind
		Status domain.TaskStatus
		Count  int
	}
	var rows []row
	err := s.db.Model(&domain.Task{}).
		Select("kind, status, COUNT(*) AS count").
		Where("job_id = ?", jobID).
		Group("kind, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.TaskKind]map[domain.TaskStatus]int)
	for _, r := range rows {
		if out[r.Kind] == nil {
			out[r.Kind] = make(map[domain.TaskStatus]int)
		}
		out[r.Kind][r.Status] = r.Count
	}
	return out, nil
}

// NowRunningTask returns one arbitrary in-flight task for a job, or nil if
// none is running, for the "now_running" field of the job status response.
func (s *Store) NowRunningTask(jobID uuid.UUID) (*domain.Task, error) {
	var t domain.Task
	err := s.db.Where("job_id = ? AND status = ?", jobID, domain.TaskRunning).
		Order("started_at ASC").First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ArtifactCountsForJob returns, for every artifact kind, how many of that
// job's pages sit in each status — the exact shape spec.md's
// GET /jobs/{id} counters field and the stats_snapshot event demand:
// one bucket per (text, thumb, text_vec, img_vec, bm25) kind.
func (s *Store) ArtifactCountsForJob(jobID uuid.UUID) (map[domain.ArtifactKind]map[domain.ArtifactStatus]int, error) {
	type row struct {
		Kind   domain.ArtifactKind
		Status domain.ArtifactStatus
		Count  int
	}
	var rows []row
	err := s.db.Model(&domain.Artifact{}).
		Select("artifacts.kind AS kind, artifacts.status AS status, COUNT(DISTINCT artifacts.id) AS count").
		Joins("JOIN tasks ON tasks.page_id = artifacts.page_id AND tasks.job_id = ?", jobID).
		Group("artifacts.kind, artifacts.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ArtifactKind]map[domain.ArtifactStatus]int, len(domain.AllArtifactKinds))
	for _, k := range domain.AllArtifactKinds {
		out[k] = make(map[domain.ArtifactStatus]int)
	}
	for _, r := range rows {
		if out[r.Kind] == nil {
			out[r.Kind] = make(map[domain.ArtifactStatus]int)
		}
		out[r.Kind][r.Status] = r.Count
	}
	return out, nil
}

// ErrorsSummary returns up to limit distinct (kind, error_code) pairs with
// their counts, for the errors_summary field of the job status response.
func (s *Store) ErrorsSummary(jobID uuid.UUID, limit int) ([]map[string]interface{}, error) {
	type row struct {
		Kind      domain.TaskKind
		ErrorCode string
		Count     int
	}
	var rows []row
	q := s.db.Model(&domain.Task{}).
		Select("kind, error_code, COUNT(*) AS count").
		Where("job_id = ? AND status = ?", jobID, domain.TaskError).
		Group("kind, error_code").
		Order("count DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]interface{}{
			"kind": r.Kind, "error_code": r.ErrorCode, "count": r.Count,
		})
	}
	return out, nil
}
