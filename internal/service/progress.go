package service

import "github.com/veranemoloko/segment-uploader/internal/domain"

// progressSnapshot is the aggregate view readers get without taking the
// scheduler lock.
type progressSnapshot struct {
	overall float64
	busy    bool
	active  int
}

// aggregateProgress averages progress over queued, active and retrying tasks.
// With none left it reports 1 if anything has completed, otherwise 0.
func aggregateProgress(tasks []*domain.Task, everCompleted bool) progressSnapshot {
	var (
		sum     float64
		pending int
		active  int
	)
	for _, t := range tasks {
		if !t.Status.IsPending() {
			continue
		}
		pending++
		sum += t.Progress
		if t.Status == domain.TaskStatusActive {
			active++
		}
	}

	if pending == 0 {
		snap := progressSnapshot{}
		if everCompleted {
			snap.overall = 1
		}
		return snap
	}

	return progressSnapshot{
		overall: sum / float64(pending),
		busy:    true,
		active:  active,
	}
}
