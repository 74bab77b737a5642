package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

func newQueuedTask() *Task {
	return NewTask(EnqueueRequest{
		GroupID:          "g1",
		SegmentID:        "s1",
		OwnerID:          "u1",
		LocalPayloadPath: "/tmp/s1.mp4",
	}, time.Now())
}

func TestNewTask(t *testing.T) {
	task := newQueuedTask()

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Zero(t, task.Progress)
	assert.Zero(t, task.RetryCount)
	assert.False(t, task.HasThumbnail())
	assert.NotEqual(t, task.ID, newQueuedTask().ID)
}

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{TaskStatusQueued, TaskStatusActive, true},
		{TaskStatusQueued, TaskStatusCancelled, true},
		{TaskStatusQueued, TaskStatusCompleted, false},
		{TaskStatusActive, TaskStatusCompleted, true},
		{TaskStatusActive, TaskStatusRetrying, true},
		{TaskStatusActive, TaskStatusFailed, true},
		{TaskStatusActive, TaskStatusQueued, false},
		{TaskStatusRetrying, TaskStatusQueued, true},
		{TaskStatusRetrying, TaskStatusActive, false},
		{TaskStatusFailed, TaskStatusQueued, true},
		{TaskStatusCancelled, TaskStatusQueued, true},
		{TaskStatusCompleted, TaskStatusQueued, false},
		{TaskStatusCompleted, TaskStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTask_Transition(t *testing.T) {
	task := newQueuedTask()
	now := time.Now()

	require.NoError(t, task.Transition(TaskStatusActive, now))
	require.NotNil(t, task.StartedAt)

	task.Progress = 0.5
	task.RemoteVideoURL = "https://cdn/video.mp4"
	require.NoError(t, task.Transition(TaskStatusFailed, now))
	assert.Zero(t, task.Progress)
	assert.Empty(t, task.RemoteVideoURL)

	require.NoError(t, task.Transition(TaskStatusQueued, now))
	require.NoError(t, task.Transition(TaskStatusActive, now))
	require.NoError(t, task.Transition(TaskStatusCompleted, now.Add(time.Second)))
	assert.Equal(t, 1.0, task.Progress)
	assert.Equal(t, time.Second, task.Duration())

	err := task.Transition(TaskStatusQueued, now)
	assert.ErrorIs(t, err, errpkg.ErrInvalidTransition)
	assert.Equal(t, TaskStatusCompleted, task.Status)
}

func TestTask_Recover(t *testing.T) {
	for _, status := range []TaskStatus{TaskStatusActive, TaskStatusRetrying} {
		task := newQueuedTask()
		task.Status = status
		task.Progress = 0.4
		started := time.Now()
		task.StartedAt = &started

		assert.True(t, task.Recover(), status)
		assert.Equal(t, TaskStatusQueued, task.Status)
		assert.Zero(t, task.Progress)
		assert.Nil(t, task.StartedAt)
	}

	for _, status := range []TaskStatus{TaskStatusQueued, TaskStatusFailed, TaskStatusCompleted} {
		task := newQueuedTask()
		task.Status = status
		assert.False(t, task.Recover(), status)
		assert.Equal(t, status, task.Status)
	}
}

func TestTask_Clone(t *testing.T) {
	task := newQueuedTask()
	started := time.Now()
	task.StartedAt = &started

	c := task.Clone()
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, started, *task.StartedAt)
}

func TestTaskStatus_Sets(t *testing.T) {
	assert.True(t, TaskStatusFailed.IsPersisted())
	assert.False(t, TaskStatusCompleted.IsPersisted())
	assert.False(t, TaskStatusCancelled.IsPersisted())
	assert.True(t, TaskStatusRetrying.IsPending())
	assert.False(t, TaskStatusFailed.IsPending())
	assert.False(t, TaskStatus("paused").Valid())
}
