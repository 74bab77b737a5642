package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

// Task tracks the upload lifecycle of one video segment.
type Task struct {
	ID                 string     `json:"id"`
	GroupID            string     `json:"group_id"`
	SegmentID          string     `json:"segment_id"`
	OwnerID            string     `json:"owner_id"`
	LocalPayloadPath   string     `json:"local_payload_path"`
	LocalThumbnailPath string     `json:"local_thumbnail_path,omitempty"`
	Status             TaskStatus `json:"status"`
	Progress           float64    `json:"progress"`
	RetryCount         int        `json:"retry_count"`
	LastError          string     `json:"last_error,omitempty"`
	RemoteVideoURL     string     `json:"remote_video_url,omitempty"`
	RemoteThumbnailURL string     `json:"remote_thumbnail_url,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a queued task from an enqueue request.
func NewTask(req EnqueueRequest, now time.Time) *Task {
	return &Task{
		ID:                 uuid.New().String(),
		GroupID:            req.GroupID,
		SegmentID:          req.SegmentID,
		OwnerID:            req.OwnerID,
		LocalPayloadPath:   req.LocalPayloadPath,
		LocalThumbnailPath: req.LocalThumbnailPath,
		Status:             TaskStatusQueued,
		CreatedAt:          now,
	}
}

// Transition moves the task to next if the state machine allows it and keeps
// the progress and remote URL invariants in step with the new status.
func (t *Task) Transition(next TaskStatus, now time.Time) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", errpkg.ErrInvalidTransition, t.Status, next)
	}

	switch next {
	case TaskStatusActive:
		t.StartedAt = &now
		t.LastError = ""
	case TaskStatusCompleted:
		t.Progress = 1.0
		t.CompletedAt = &now
	case TaskStatusQueued, TaskStatusFailed, TaskStatusCancelled:
		t.Progress = 0
		t.RemoteVideoURL = ""
		t.RemoteThumbnailURL = ""
	}

	t.Status = next
	return nil
}

// Recover downgrades a task whose driving transfer or timer was lost with the
// previous process back to queued.
func (t *Task) Recover() bool {
	if t.Status != TaskStatusActive && t.Status != TaskStatusRetrying {
		return false
	}
	t.Status = TaskStatusQueued
	t.Progress = 0
	t.StartedAt = nil
	return true
}

// Clone returns a copy safe to hand outside the scheduler.
func (t *Task) Clone() Task {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return c
}

// HasThumbnail reports whether the task carries a thumbnail payload.
func (t *Task) HasThumbnail() bool {
	return t.LocalThumbnailPath != ""
}

// Duration returns how long the last attempt took, or 0 if not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// UploadResult is what a successful transfer hands back to the scheduler.
type UploadResult struct {
	RemoteVideoURL     string
	RemoteThumbnailURL string
	BytesUploaded      int64
}
