package jobmanager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/aspect"
	"github.com/slidemanager/backend-daemon/internal/domain"
	"github.com/slidemanager/backend-daemon/internal/planner"
	"github.com/slidemanager/backend-daemon/internal/store"
)

// planPhase resolves the candidate file list, upserts File/Page/Artifact
// rows for each, and queues a Task for every artifact kind that needs
// (re)work. It never returns an error for a single bad file — only for
// conditions that make the whole plan meaningless (no candidates at all).
func (m *Manager) planPhase(ctx context.Context, jobID uuid.UUID, libraryRoot string, opts Options, pause *PauseToken) error {
	scans, err := m.resolveScans(libraryRoot, opts)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		return fmt.Errorf("no candidate .pptx files under %s", libraryRoot)
	}

	filesQueued := 0
	for _, fs := range scans {
		if err := pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.planOneFile(jobID, fs, opts) {
			filesQueued++
		}
	}

	counts, _ := m.st.TaskCountsByKindStatus(jobID)
	m.bus.Publish(ctx, jobID, "planning_progress", map[string]interface{}{
		"files":        len(scans),
		"files_queued": filesQueued,
		"task_counts":  counts,
	})
	return nil
}

func (m *Manager) resolveScans(libraryRoot string, opts Options) ([]planner.FileScan, error) {
	if len(opts.FileScans) > 0 {
		out := make([]planner.FileScan, 0, len(opts.FileScans))
		for _, fs := range opts.FileScans {
			if fs.Path == "" || !planner.IsUnderRoot(libraryRoot, fs.Path) {
				m.log.Warn("skipping scan entry outside library root", "path", fs.Path)
				continue
			}
			out = append(out, planner.FileScan{Path: fs.Path, SizeBytes: fs.SizeBytes, MtimeEpoch: fs.MtimeEpoch})
		}
		return out, nil
	}
	if len(opts.FilePaths) > 0 {
		out := planner.ScanSpecific(opts.FilePaths)
		filtered := out[:0]
		for _, fs := range out {
			if planner.IsUnderRoot(libraryRoot, fs.Path) {
				filtered = append(filtered, fs)
			}
		}
		return filtered, nil
	}
	return planner.ScanUnder(libraryRoot, opts.Recursive)
}

// planOneFile provisions rows for a single file and returns whether a
// PDF conversion task was (or already needed to be) enqueued for it.
func (m *Manager) planOneFile(jobID uuid.UUID, fs planner.FileScan, opts Options) bool {
	asp := aspect.Detect(fs.Path)
	fileID, changed, err := m.st.UpsertFile(fs.Path, fs.SizeBytes, fs.MtimeEpoch, asp)
	if err != nil {
		m.log.Warn("upsert file failed", "path", fs.Path, "error", err)
		return false
	}
	changed = changed || opts.ForceRebuild

	slideCount, err := aspect.SlideCount(fs.Path)
	if err != nil {
		_ = m.st.MarkFileScanError(fs.Path, err.Error())
		return false
	}

	pageIDs, changedByPage, err := m.st.EnsurePagesRows(fileID, slideCount, asp, fs.SizeBytes, fs.MtimeEpoch)
	if err != nil {
		_ = m.st.MarkFileScanError(fs.Path, err.Error())
		return false
	}

	needPDF := false
	for _, pageID := range pageIDs {
		pageChanged := changed || changedByPage[pageID]
		statusMap, err := m.st.ArtifactStatusMap(pageID)
		if err != nil {
			continue
		}

		if opts.EnableText && store.NeedsRefresh(statusMap[domain.ArtifactText], pageChanged) {
			_, _ = m.st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactText, domain.TaskText, 0, paramsForText())
		}
		if opts.EnableThumb && m.cfg.Thumb.Enabled && m.cfg.PDF.Enabled &&
			store.NeedsRefresh(statusMap[domain.ArtifactThumb], pageChanged) {
			_, _ = m.st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactThumb, domain.TaskThumb, 0, paramsForThumb(opts, string(asp)))
			needPDF = true
		}
		if opts.EnableBm25 && store.NeedsRefresh(statusMap[domain.ArtifactBm25], pageChanged) {
			_, _ = m.st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactBm25, domain.TaskBm25, 0, paramsForBm25())
		}
		if opts.EnableTextVec && store.NeedsRefresh(statusMap[domain.ArtifactTextVec], pageChanged) {
			_, _ = m.st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactTextVec, domain.TaskTextVec, 0, paramsForTextVec(opts))
		}
		if opts.EnableImgVec && m.cfg.Thumb.Enabled && store.NeedsRefresh(statusMap[domain.ArtifactImgVec], pageChanged) {
			_, _ = m.st.QueueArtifactWithTask(jobID, pageID, domain.ArtifactImgVec, domain.TaskImgVec, 0, paramsForImgVec(opts))
		}
	}

	if m.cfg.PDF.Enabled && m.cfg.Thumb.Enabled && (changed || needPDF) {
		_, _ = m.st.EnqueueFileTask(jobID, fileID, domain.TaskPDF, 10)
		return true
	}
	return false
}
