package domain

import "time"

// EnqueueRequest represents the request body for enqueueing a segment upload.
type EnqueueRequest struct {
	GroupID            string `json:"group_id" validate:"required,path_segment"`
	SegmentID          string `json:"segment_id" validate:"required,path_segment"`
	OwnerID            string `json:"owner_id" validate:"required,path_segment"`
	LocalPayloadPath   string `json:"local_payload_path" validate:"required,file"`
	LocalThumbnailPath string `json:"local_thumbnail_path,omitempty" validate:"omitempty,file"`
}

// TaskResponse represents the response returned for a Task.
type TaskResponse struct {
	ID                 string     `json:"task_id"`
	GroupID            string     `json:"group_id"`
	SegmentID          string     `json:"segment_id"`
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

// NewTaskResponse builds the public view of a task.
func NewTaskResponse(t Task) TaskResponse {
	return TaskResponse{
		ID:                 t.ID,
		GroupID:            t.GroupID,
		SegmentID:          t.SegmentID,
		Status:             t.Status,
		Progress:           t.Progress,
		RetryCount:         t.RetryCount,
		LastError:          t.LastError,
		RemoteVideoURL:     t.RemoteVideoURL,
		RemoteThumbnailURL: t.RemoteThumbnailURL,
		CreatedAt:          t.CreatedAt,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
	}
}

// ProgressResponse is the aggregated progress of the whole engine.
type ProgressResponse struct {
	OverallProgress float64 `json:"overall_progress"`
	Busy            bool    `json:"busy"`
}
