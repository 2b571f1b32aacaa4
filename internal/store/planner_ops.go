package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// UpsertFile inserts a new File row or updates an existing one's size,
// mtime, aspect, and last-scanned timestamp. It returns the file ID and
// whether the file's content signature (size or mtime) changed, which
// callers use to decide whether downstream artifacts need refreshing.
func (s *Store) UpsertFile(path string, sizeBytes, mtimeEpoch int64, aspect domain.Aspect) (fileID int64, changed bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.File
		txErr := tx.Where("path = ?", path).First(&existing).Error
		now := time.Now()

		if errors.Is(txErr, gorm.ErrRecordNotFound) {
			f := domain.File{
				Path:          path,
				SizeBytes:     sizeBytes,
				MtimeEpoch:    mtimeEpoch,
				SlideAspect:   aspect,
				LastScannedAt: &now,
			}
			if err := tx.Create(&f).Error; err != nil {
				return err
			}
			fileID = f.ID
			changed = true
			return nil
		}
		if txErr != nil {
			return txErr
		}

		changed = existing.SizeBytes != sizeBytes || existing.MtimeEpoch != mtimeEpoch
		updates := map[string]interface{}{
			"size_bytes":      sizeBytes,
			"mtime_epoch":     mtimeEpoch,
			"last_scanned_at": now,
			"scan_error":      "",
		}
		if aspect != "" {
			updates["slide_aspect"] = aspect
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		fileID = existing.ID
		return nil
	})
	return fileID, changed, err
}

// MarkFileScanError records a scan failure against an already-known file
// path without touching its size/mtime bookkeeping.
func (s *Store) MarkFileScanError(path string, scanErr string) error {
	return s.db.Model(&domain.File{}).Where("path = ?", path).Update("scan_error", scanErr).Error
}

// EnsurePagesRows guarantees a Page row (and its five Artifact rows) exist
// for every page number 1..slideCount of a file. It returns the page IDs in
// order and, for each, whether that specific page's own size/mtime changed
// relative to what was previously recorded (a page inherits the file's
// size/mtime as its own "ingest signature" so per-page artifact refresh can
// be driven independently of whether the whole file changed).
func (s *Store) EnsurePagesRows(fileID int64, slideCount int, aspect domain.Aspect, sizeBytes, mtimeEpoch int64) (pageIDs []int64, changedByPage map[int64]bool, err error) {
	pageIDs = make([]int64, 0, slideCount)
	changedByPage = make(map[int64]bool, slideCount)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for pageNo := 1; pageNo <= slideCount; pageNo++ {
			var existing domain.Page
			txErr := tx.Where("file_id = ? AND page_no = ?", fileID, pageNo).First(&existing).Error

			var pageID int64
			var changed bool

			switch {
			case errors.Is(txErr, gorm.ErrRecordNotFound):
				p := domain.Page{
					FileID:     fileID,
					PageNo:     pageNo,
					Aspect:     aspect,
					SizeBytes:  sizeBytes,
					MtimeEpoch: mtimeEpoch,
				}
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
				pageID = p.ID
				changed = true
			case txErr != nil:
				return txErr
			default:
				changed = existing.SizeBytes != sizeBytes || existing.MtimeEpoch != mtimeEpoch
				if err := tx.Model(&existing).Updates(map[string]interface{}{
					"aspect":      aspect,
					"size_bytes":  sizeBytes,
					"mtime_epoch": mtimeEpoch,
				}).Error; err != nil {
					return err
				}
				pageID = existing.ID
			}

			pageIDs = append(pageIDs, pageID)
			changedByPage[pageID] = changed

			for _, kind := range domain.AllArtifactKinds {
				a := domain.Artifact{PageID: pageID, Kind: kind, Status: domain.ArtifactMissing}
				if err := tx.Clauses(onConflictDoNothing("page_id", "kind")).Create(&a).Error; err != nil {
					return err
				}
			}
		}
		// Any page beyond the current slide count is stale (the file
		// shrank); its artifacts stay put for now — deletion cascades
		// only happen when the file itself is removed by the user.
		return nil
	})
	return pageIDs, changedByPage, err
}

// ArtifactStatusMap returns the current status of every artifact kind for
// a page, keyed by kind.
func (s *Store) ArtifactStatusMap(pageID int64) (map[domain.ArtifactKind]domain.ArtifactStatus, error) {
	var rows []domain.Artifact
	if err := s.db.Where("page_id = ?", pageID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.ArtifactKind]domain.ArtifactStatus, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Status
	}
	return out, nil
}
