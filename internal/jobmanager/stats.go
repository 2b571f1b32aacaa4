package jobmanager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

const statsSnapshotInterval = 800 * time.Millisecond

type rateTracker struct {
	lastAt        time.Time
	lastSucceeded int
}

// statsSnapshotLoop publishes a stats_snapshot event at better than 1Hz for
// the lifetime of a job's running phase, giving a connected SSE client a
// steady progress signal even between individual task-level events.
func (m *Manager) statsSnapshotLoop(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(statsSnapshotInterval)
	defer ticker.Stop()
	tracker := &rateTracker{lastAt: time.Now()}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishStatsSnapshot(ctx, jobID, tracker)
		}
	}
}

func (m *Manager) publishStatsSnapshot(ctx context.Context, jobID uuid.UUID, tracker *rateTracker) {
	counters, err := m.st.ArtifactCountsForJob(jobID)
	if err != nil {
		return
	}
	running, err := m.st.NowRunningTask(jobID)
	if err != nil {
		return
	}

	var nowRunning interface{}
	if running != nil {
		nowRunning = map[string]interface{}{
			"task_id": running.ID,
			"kind":    running.Kind,
			"page_id": running.PageID,
			"file_id": running.FileID,
		}
	}

	m.bus.Publish(ctx, jobID, "stats_snapshot", map[string]interface{}{
		"counters":    counters,
		"now_running": nowRunning,
		"rates":       m.pagesPerSecond(jobID, counters, tracker),
	})
}

// pagesPerSecond estimates throughput from the delta in succeeded text
// artifacts (the first stage every page passes through) between snapshots.
// It is a best-effort figure for the UI's progress bar, not a scheduling
// input.
func (m *Manager) pagesPerSecond(jobID uuid.UUID, counters map[domain.ArtifactKind]map[domain.ArtifactStatus]int, tracker *rateTracker) *float64 {
	succeeded := counters[domain.ArtifactText][domain.ArtifactReady]
	now := time.Now()
	elapsed := now.Sub(tracker.lastAt).Seconds()
	defer func() {
		tracker.lastAt = now
		tracker.lastSucceeded = succeeded
	}()
	if elapsed <= 0 || tracker.lastSucceeded == 0 {
		return nil
	}
	delta := succeeded - tracker.lastSucceeded
	if delta < 0 {
		return nil
	}
	rate := float64(delta) / elapsed
	return &rate
}
