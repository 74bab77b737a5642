package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veranemoloko/segment-uploader/internal/domain"
)

func TestAggregateProgress(t *testing.T) {
	task := func(status domain.TaskStatus, progress float64) *domain.Task {
		return &domain.Task{Status: status, Progress: progress}
	}

	tests := []struct {
		name          string
		tasks         []*domain.Task
		everCompleted bool
		wantOverall   float64
		wantBusy      bool
		wantActive    int
	}{
		{name: "empty", wantOverall: 0},
		{name: "empty after completion", everCompleted: true, wantOverall: 1},
		{
			name:          "only finished tasks",
			tasks:         []*domain.Task{task(domain.TaskStatusCompleted, 1), task(domain.TaskStatusFailed, 0)},
			everCompleted: true,
			wantOverall:   1,
		},
		{
			name:        "only failed tasks",
			tasks:       []*domain.Task{task(domain.TaskStatusFailed, 0), task(domain.TaskStatusCancelled, 0)},
			wantOverall: 0,
		},
		{
			name: "mean over pending",
			tasks: []*domain.Task{
				task(domain.TaskStatusActive, 0.5),
				task(domain.TaskStatusRetrying, 0.3),
				task(domain.TaskStatusQueued, 0),
				task(domain.TaskStatusQueued, 0),
				task(domain.TaskStatusCompleted, 1),
			},
			wantOverall: 0.2,
			wantBusy:    true,
			wantActive:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := aggregateProgress(tt.tasks, tt.everCompleted)
			assert.InDelta(t, tt.wantOverall, got.overall, 1e-9)
			assert.Equal(t, tt.wantBusy, got.busy)
			assert.Equal(t, tt.wantActive, got.active)
		})
	}
}
