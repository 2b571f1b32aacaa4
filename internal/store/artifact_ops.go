package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// NeedsRefresh reports whether an artifact in the given status should be
// re-queued when its page changed (or the artifact has never run).
func NeedsRefresh(status domain.ArtifactStatus, changed bool) bool {
	if changed {
		return true
	}
	switch status {
	case domain.ArtifactReady, domain.ArtifactSkipped:
		return false
	default:
		return true
	}
}

// QueueArtifact transitions an artifact to queued and stamps its
// params-json (the small config fingerprint recorded so a later options
// change can be detected). It does not create a Task row itself; callers
// insert the task in the same transaction via QueueArtifactWithTask.
func (s *Store) QueueArtifact(pageID int64, kind domain.ArtifactKind, params datatypes.JSON) error {
	return s.db.Model(&domain.Artifact{}).
		Where("page_id = ? AND kind = ?", pageID, kind).
		Updates(map[string]interface{}{
			"status":      domain.ArtifactQueued,
			"updated_at":  time.Now(),
			"params_json": params,
		}).Error
}

// QueueArtifactWithTask queues an artifact and inserts its Task row in one
// transaction, returning the new task's ID.
func (s *Store) QueueArtifactWithTask(jobID uuid.UUID, pageID int64, kind domain.ArtifactKind, taskKind domain.TaskKind, priority int, params datatypes.JSON) (int64, error) {
	var taskID int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, kind).
			Updates(map[string]interface{}{
				"status":      domain.ArtifactQueued,
				"updated_at":  time.Now(),
				"params_json": params,
			}).Error; err != nil {
			return err
		}
		t := domain.Task{
			JobID:    jobID,
			PageID:   &pageID,
			Kind:     taskKind,
			Status:   domain.TaskQueued,
			Priority: priority,
		}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		taskID = t.ID
		return nil
	})
	return taskID, err
}

// SetArtifactError transitions an artifact to error with a stable code and
// message.
func (s *Store) SetArtifactError(pageID int64, kind domain.ArtifactKind, code, message string) error {
	return s.db.Model(&domain.Artifact{}).
		Where("page_id = ? AND kind = ?", pageID, kind).
		Updates(map[string]interface{}{
			"status":        domain.ArtifactError,
			"updated_at":    time.Now(),
			"error_code":    code,
			"error_message": truncate(message, 500),
		}).Error
}

// SetArtifactStatus performs a bare status transition (queued/running/
// skipped/cancelled) with no payload attached.
func (s *Store) SetArtifactStatus(pageID int64, kind domain.ArtifactKind, status domain.ArtifactStatus) error {
	return s.db.Model(&domain.Artifact{}).
		Where("page_id = ? AND kind = ?", pageID, kind).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

// CommitTextReady atomically marks the text artifact ready and writes (or
// replaces) the PageText payload row in the same transaction. Readers can
// never observe a ready text artifact with no PageText row.
func (s *Store) CommitTextReady(pageID int64, rawText, normText, textSig string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		pt := domain.PageText{PageID: pageID, RawText: rawText, NormText: normText, TextSig: textSig, UpdatedAt: time.Now()}
		if err := tx.Clauses(onConflictDoUpdateAll("page_id")).Create(&pt).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, domain.ArtifactText).
			Updates(map[string]interface{}{"status": domain.ArtifactReady, "updated_at": time.Now()}).Error
	})
}

// CommitBm25Ready atomically marks the bm25 artifact ready and rewrites the
// page's row in the fts_pages virtual table (delete then insert, since
// FTS5 has no natural upsert).
func (s *Store) CommitBm25Ready(pageID int64, normText string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM fts_pages WHERE page_id = ?", pageID).Error; err != nil {
			return err
		}
		if err := tx.Exec("INSERT INTO fts_pages(page_id, norm_text) VALUES (?, ?)", pageID, normText).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, domain.ArtifactBm25).
			Updates(map[string]interface{}{"status": domain.ArtifactReady, "updated_at": time.Now()}).Error
	})
}

// CommitThumbReady atomically marks the thumb artifact ready and upserts
// the Thumbnail payload row.
func (s *Store) CommitThumbReady(pageID int64, aspect domain.Aspect, width, height int, imagePath string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		th := domain.Thumbnail{PageID: pageID, Aspect: aspect, Width: width, Height: height, ImagePath: imagePath}
		if err := tx.Clauses(onConflictDoUpdateAll("page_id", "aspect", "width", "height")).Create(&th).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, domain.ArtifactThumb).
			Updates(map[string]interface{}{"status": domain.ArtifactReady, "updated_at": time.Now()}).Error
	})
}

// CommitTextVecReady atomically marks the text_vec artifact ready and links
// the page to an embedding cache entry (creating the cache row if it does
// not already exist for this (model, textSig) pair).
func (s *Store) CommitTextVecReady(pageID int64, model, textSig string, dim int, vectorBlob []byte) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		cache := domain.EmbeddingCacheText{Model: model, TextSig: textSig, Dim: dim, VectorBlob: vectorBlob}
		if err := tx.Clauses(onConflictDoNothing("model", "text_sig")).Create(&cache).Error; err != nil {
			return err
		}
		link := domain.PageTextEmbedding{PageID: pageID, Model: model, TextSig: textSig}
		if err := tx.Clauses(onConflictDoUpdateAll("page_id", "model")).Create(&link).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, domain.ArtifactTextVec).
			Updates(map[string]interface{}{"status": domain.ArtifactReady, "updated_at": time.Now()}).Error
	})
}

// LookupEmbeddingCache returns a cached vector for (model, textSig) if one
// exists.
func (s *Store) LookupEmbeddingCache(model, textSig string) (*domain.EmbeddingCacheText, error) {
	var row domain.EmbeddingCacheText
	err := s.db.Where("model = ? AND text_sig = ?", model, textSig).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// CommitImgVecReady atomically marks the img_vec artifact ready and writes
// the per-page image vector (never shared across pages).
func (s *Store) CommitImgVecReady(pageID int64, model string, dim int, vectorBlob []byte) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := domain.PageImageEmbedding{PageID: pageID, Model: model, Dim: dim, VectorBlob: vectorBlob}
		if err := tx.Clauses(onConflictDoUpdateAll("page_id", "model")).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Artifact{}).
			Where("page_id = ? AND kind = ?", pageID, domain.ArtifactImgVec).
			Updates(map[string]interface{}{"status": domain.ArtifactReady, "updated_at": time.Now()}).Error
	})
}

// CascadeFileFailure marks the thumb artifact (and, transitively, the
// img_vec artifact that depends on it) as errored for every page of a file
// whose PDF conversion failed.
func (s *Store) CascadeFileFailure(fileID int64, code, message string) error {
	var pageIDs []int64
	if err := s.db.Model(&domain.Page{}).Where("file_id = ?", fileID).Pluck("id", &pageIDs).Error; err != nil {
		return err
	}
	if len(pageIDs) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, kind := range []domain.ArtifactKind{domain.ArtifactThumb, domain.ArtifactImgVec} {
			if err := tx.Model(&domain.Artifact{}).
				Where("page_id IN ? AND kind = ?", pageIDs, kind).
				Updates(map[string]interface{}{
					"status":        domain.ArtifactError,
					"updated_at":    time.Now(),
					"error_code":    code,
					"error_message": truncate(message, 500),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
