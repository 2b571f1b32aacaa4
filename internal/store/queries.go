package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// EnqueueFileTask inserts a file-scoped task (currently only "pdf" — a
// task with no single owning page) for a job.
func (s *Store) EnqueueFileTask(jobID uuid.UUID, fileID int64, kind domain.TaskKind, priority int) (int64, error) {
	t := domain.Task{JobID: jobID, FileID: &fileID, Kind: kind, Status: domain.TaskQueued, Priority: priority}
	if err := s.db.Create(&t).Error; err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (s *Store) GetFile(fileID int64) (*domain.File, error) {
	var f domain.File
	if err := s.db.First(&f, fileID).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// PageWithFile returns a page and its owning file in one round trip, used
// by every per-page worker to resolve the source .pptx path.
func (s *Store) PageWithFile(pageID int64) (domain.Page, domain.File, error) {
	var p domain.Page
	if err := s.db.First(&p, pageID).Error; err != nil {
		return domain.Page{}, domain.File{}, err
	}
	var f domain.File
	if err := s.db.First(&f, p.FileID).Error; err != nil {
		return domain.Page{}, domain.File{}, err
	}
	return p, f, nil
}

// GetPageText returns the extracted-text row for a page, or nil if the
// text artifact has never completed successfully.
func (s *Store) GetPageText(pageID int64) (*domain.PageText, error) {
	var pt domain.PageText
	err := s.db.Where("page_id = ?", pageID).First(&pt).Error
	if err != nil {
		return nil, nil // caller treats "not found" as empty text, not an error
	}
	return &pt, nil
}

// GetThumbnail returns the most recently rendered thumbnail row for a page.
func (s *Store) GetThumbnail(pageID int64) (*domain.Thumbnail, error) {
	var th domain.Thumbnail
	if err := s.db.Where("page_id = ?", pageID).Order("created_at DESC").First(&th).Error; err != nil {
		return nil, err
	}
	return &th, nil
}

// PagesForFile returns every page id belonging to a file, in page order.
func (s *Store) PagesForFile(fileID int64) ([]domain.Page, error) {
	var pages []domain.Page
	err := s.db.Where("file_id = ?", fileID).Order("page_no ASC").Find(&pages).Error
	return pages, err
}

// JobUpdatedRecently reports whether the job row's updated_at lies within
// the given window of now.
func (s *Store) JobUpdatedRecently(jobID uuid.UUID, within time.Duration) (bool, error) {
	var j domain.Job
	if err := s.db.Select("updated_at").First(&j, "id = ?", jobID).Error; err != nil {
		return false, err
	}
	return time.Since(j.UpdatedAt) < within, nil
}
