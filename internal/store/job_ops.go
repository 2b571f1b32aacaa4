package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// CreateJob inserts a new Job row in the created state.
func (s *Store) CreateJob(id uuid.UUID, libraryRoot string, optionsJSON datatypes.JSON) error {
	j := domain.Job{ID: id, LibraryRoot: libraryRoot, Status: domain.JobCreated, OptionsJSON: optionsJSON}
	return s.db.Create(&j).Error
}

func (s *Store) GetJob(id uuid.UUID) (*domain.Job, error) {
	var j domain.Job
	if err := s.db.Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) SetJobStatus(id uuid.UUID, status domain.JobStatus) error {
	return s.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error
}

func (s *Store) FinishJob(id uuid.UUID, status domain.JobStatus, summaryJSON datatypes.JSON) error {
	now := time.Now()
	return s.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       status,
		"summary_json": summaryJSON,
		"finished_at":  now,
		"updated_at":   now,
	}).Error
}

// AppendEvent inserts the next event for a job with a monotonically
// increasing per-job sequence number, computed inside the same
// transaction so concurrent publishers on the same job never collide.
func (s *Store) AppendEvent(jobID uuid.UUID, eventType string, payload datatypes.JSON) (domain.Event, error) {
	var ev domain.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&domain.Event{}).Where("job_id = ?", jobID).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		ev = domain.Event{
			JobID:   jobID,
			Seq:     maxSeq + 1,
			Type:    eventType,
			Payload: payload,
			Ts:      time.Now(),
		}
		return tx.Create(&ev).Error
	})
	return ev, err
}

// ListEventsSince returns events for a job with seq > afterSeq, ascending,
// used to replay history to a newly-connected SSE client.
func (s *Store) ListEventsSince(jobID uuid.UUID, afterSeq int64) ([]domain.Event, error) {
	var events []domain.Event
	err := s.db.Where("job_id = ? AND seq > ?", jobID, afterSeq).Order("seq ASC").Find(&events).Error
	return events, err
}

// FinalizeCancel marks a job cancelled, cancels its own queued/running
// tasks, and cancels the queued/running artifacts that belong to those
// same tasks' pages — scoped to this job's task set, not globally, so a
// second job touching the same pages is left untouched.
func (s *Store) FinalizeCancel(jobID uuid.UUID) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Task{}).
			Where("job_id = ? AND status IN ?", jobID, []domain.TaskStatus{domain.TaskQueued, domain.TaskRunning}).
			Updates(map[string]interface{}{"status": domain.TaskCancelled, "finished_at": now}).Error; err != nil {
			return err
		}

		var pageIDs []int64
		if err := tx.Model(&domain.Task{}).
			Where("job_id = ? AND page_id IS NOT NULL", jobID).
			Distinct().Pluck("page_id", &pageIDs).Error; err != nil {
			return err
		}
		if len(pageIDs) == 0 {
			return tx.Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"status": domain.JobCancelled, "finished_at": now, "updated_at": now,
			}).Error
		}
		if err := tx.Model(&domain.Artifact{}).
			Where("page_id IN ? AND status IN ?", pageIDs, []domain.ArtifactStatus{domain.ArtifactQueued, domain.ArtifactRunning}).
			Updates(map[string]interface{}{"status": domain.ArtifactCancelled, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"status": domain.JobCancelled, "finished_at": now, "updated_at": now,
		}).Error
	})
}

// --- Task lifecycle -------------------------------------------------

// ClaimQueuedTasks returns up to limit queued tasks of the given kinds for
// a job, ordered by priority desc then id asc, without marking them
// running — callers call TaskStart per row once they actually begin work,
// so a worker that dies between claim and start leaves the task queued
// rather than stuck running.
func (s *Store) ClaimQueuedTasks(jobID uuid.UUID, kinds []domain.TaskKind, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	q := s.db.Where("job_id = ? AND kind IN ? AND status = ?", jobID, kinds, domain.TaskQueued).
		Order("priority DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tasks).Error
	return tasks, err
}

func (s *Store) TaskStart(taskID int64) error {
	now := time.Now()
	var t domain.Task
	if err := s.db.First(&t, taskID).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":       domain.TaskRunning,
		"heartbeat_at": now,
		"message":      "start",
	}
	if t.StartedAt == nil {
		updates["started_at"] = now
	}
	return s.db.Model(&domain.Task{}).Where("id = ?", taskID).Updates(updates).Error
}

func (s *Store) TaskHeartbeat(taskID int64) error {
	return s.db.Model(&domain.Task{}).Where("id = ?", taskID).Update("heartbeat_at", time.Now()).Error
}

func (s *Store) TaskFinishOK(taskID int64) error {
	now := time.Now()
	return s.db.Model(&domain.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"status":       domain.TaskSucceeded,
		"finished_at":  now,
		"heartbeat_at": now,
		"progress":     1.0,
		"message":      "ok",
	}).Error
}

func (s *Store) TaskFinishErr(taskID int64, code, message string) error {
	now := time.Now()
	return s.db.Model(&domain.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"status":        domain.TaskError,
		"finished_at":   now,
		"heartbeat_at":  now,
		"error_code":    code,
		"error_message": truncate(message, 500),
	}).Error
}

// StaleRunningTasks returns tasks stuck in running with a heartbeat older
// than threshold — the watchdog's input.
func (s *Store) StaleRunningTasks(threshold time.Duration) ([]domain.Task, error) {
	cutoff := time.Now().Add(-threshold)
	var tasks []domain.Task
	err := s.db.Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", domain.TaskRunning, cutoff).Find(&tasks).Error
	return tasks, err
}
