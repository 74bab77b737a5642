package domain

type EventType string

const (
	EventUploadProgress  EventType = "segment_upload_progress"
	EventUploadCompleted EventType = "segment_upload_completed"
	EventUploadFailed    EventType = "segment_upload_failed"
)

// Event is emitted to subscribers whenever a segment upload makes progress or
// reaches a reportable terminal state.
type Event struct {
	Type               EventType
	SegmentID          string
	GroupID            string
	Progress           float64
	RemoteVideoURL     string
	RemoteThumbnailURL string
	Error              string
}
