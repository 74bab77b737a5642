package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/veranemoloko/segment-uploader/internal/domain"
	"github.com/veranemoloko/segment-uploader/internal/metrics"
	"github.com/veranemoloko/segment-uploader/internal/storage"
)

const (
	// videoShare is the part of overall progress owned by the video phase.
	videoShare = 0.9

	// minProgressStep is the smallest progress increase forwarded upward.
	minProgressStep = 0.01

	defaultVideoExt     = ".mp4"
	defaultThumbnailExt = ".jpg"
	defaultContentType  = "application/octet-stream"
)

// ProgressReporter receives overall task progress in [0, 1].
type ProgressReporter func(progress float64)

// UploadWorker transfers the video and optional thumbnail of one task to an
// ObjectStore.
type UploadWorker struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewUploadWorker creates a new UploadWorker backed by store.
func NewUploadWorker(store storage.ObjectStore, logger *slog.Logger) *UploadWorker {
	return &UploadWorker{
		store:  store,
		logger: logger,
	}
}

// UploadTask runs both transfer phases for task. Video progress is scaled into
// [0, 0.9] and thumbnail progress into [0.9, 1.0]. A failed thumbnail is logged
// and leaves RemoteThumbnailURL empty. Cancelling ctx aborts the transfer.
func (w *UploadWorker) UploadTask(ctx context.Context, task domain.Task, report ProgressReporter) (domain.UploadResult, error) {
	var result domain.UploadResult
	throttle := newProgressThrottle(report)

	videoPath := VideoPath(task)
	videoURL, err := w.store.Upload(ctx, videoPath, task.LocalPayloadPath, w.contentType(task.LocalPayloadPath),
		func(done, total int64) {
			throttle.update(fraction(done, total)*videoShare, false)
		})
	if err != nil {
		w.logger.Error("video upload failed",
			"segment_id", task.SegmentID,
			"remote_path", videoPath,
			"error", err,
		)
		return result, fmt.Errorf("upload video: %w", err)
	}
	throttle.update(videoShare, true)

	result.RemoteVideoURL = videoURL
	result.BytesUploaded += fileSize(task.LocalPayloadPath)

	w.logger.Debug("video uploaded",
		"segment_id", task.SegmentID,
		"url", videoURL,
	)

	if task.HasThumbnail() {
		thumbPath := ThumbnailPath(task)
		thumbURL, err := w.store.Upload(ctx, thumbPath, task.LocalThumbnailPath, w.contentType(task.LocalThumbnailPath),
			func(done, total int64) {
				throttle.update(videoShare+fraction(done, total)*(1-videoShare), false)
			})
		switch {
		case err == nil:
			result.RemoteThumbnailURL = thumbURL
			result.BytesUploaded += fileSize(task.LocalThumbnailPath)
		case ctx.Err() != nil:
			return result, fmt.Errorf("upload thumbnail: %w", ctx.Err())
		default:
			metrics.ThumbnailFailures.Inc()
			w.logger.Warn("thumbnail upload failed, completing without thumbnail",
				"segment_id", task.SegmentID,
				"remote_path", thumbPath,
				"error", err,
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	throttle.update(1, true)

	return result, nil
}

func (w *UploadWorker) contentType(localPath string) string {
	mtype, err := mimetype.DetectFile(localPath)
	if err != nil {
		w.logger.Debug("content type detection failed", "path", localPath, "error", err)
		return defaultContentType
	}
	return mtype.String()
}

// VideoPath returns the remote object path of the task's video payload.
func VideoPath(task domain.Task) string {
	return segmentPrefix(task) + "video" + extension(task.LocalPayloadPath, defaultVideoExt)
}

// ThumbnailPath returns the remote object path of the task's thumbnail.
func ThumbnailPath(task domain.Task) string {
	return segmentPrefix(task) + "thumbnail" + extension(task.LocalThumbnailPath, defaultThumbnailExt)
}

func segmentPrefix(task domain.Task) string {
	return fmt.Sprintf("users/%s/groups/%s/segments/%s/", task.OwnerID, task.GroupID, task.SegmentID)
}

func extension(localPath, fallback string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ext == "" || ext == "." {
		return fallback
	}
	return ext
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// progressThrottle forwards monotonic progress values that grew by at least
// minProgressStep, and always forwards phase ends.
type progressThrottle struct {
	mu       sync.Mutex
	report   ProgressReporter
	last     float64
	reported bool
}

func newProgressThrottle(report ProgressReporter) *progressThrottle {
	return &progressThrottle{report: report}
}

func (p *progressThrottle) update(value float64, force bool) {
	if p.report == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if value < p.last || (value == p.last && p.reported) {
		return
	}
	if !force && p.reported && value-p.last < minProgressStep {
		return
	}
	p.last = value
	p.reported = true
	p.report(value)
}
