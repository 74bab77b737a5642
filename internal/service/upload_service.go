package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veranemoloko/segment-uploader/internal/config"
	"github.com/veranemoloko/segment-uploader/internal/domain"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
	"github.com/veranemoloko/segment-uploader/internal/metrics"
	repo "github.com/veranemoloko/segment-uploader/internal/repository"
	"github.com/veranemoloko/segment-uploader/internal/retry"
	"github.com/veranemoloko/segment-uploader/internal/validation"
	"github.com/veranemoloko/segment-uploader/internal/worker"
)

const persistTimeout = 5 * time.Second

// Uploader runs the transfer of one task. It must return promptly once ctx
// is cancelled.
type Uploader interface {
	UploadTask(ctx context.Context, task domain.Task, report worker.ProgressReporter) (domain.UploadResult, error)
}

// transfer binds an active task to the run that drives it. Callbacks carrying
// another run id are stale and ignored.
type transfer struct {
	id     uint64
	cancel context.CancelFunc
}

// timerFunc schedules retry backoff timers.
type timerFunc func(d time.Duration, f func()) *time.Timer

type retryTimer struct {
	id    uint64
	timer *time.Timer
}

// UploadService owns every task and serializes all state changes behind mu.
type UploadService struct {
	taskRepo      repo.TaskRepo
	uploader      Uploader
	policy        retry.Policy
	maxConcurrent int
	events        *eventBus
	logger        *slog.Logger
	now           func() time.Time
	afterFunc     timerFunc

	mu            sync.Mutex
	tasks         []*domain.Task
	runs          map[string]*transfer
	draining      map[string]*transfer
	timers        map[string]*retryTimer
	seq           uint64
	networkUp     bool
	everCompleted bool
	closed        bool
	idle          chan struct{}
	idleClosed    bool

	progress atomic.Pointer[progressSnapshot]
	wg       sync.WaitGroup
}

// NewUploadService creates a new UploadService. Call RecoverPendingTasks to
// restore the previous session before serving commands.
func NewUploadService(taskRepo repo.TaskRepo, uploader Uploader, cfg *config.Config, logger *slog.Logger) *UploadService {
	s := &UploadService{
		taskRepo:      taskRepo,
		uploader:      uploader,
		policy:        retry.NewPolicy(cfg.MaxRetryAttempts, cfg.RetryBaseDelay),
		maxConcurrent: cfg.MaxConcurrentUploads,
		events:        newEventBus(logger),
		logger:        logger,
		now:           time.Now,
		afterFunc:     time.AfterFunc,
		runs:          make(map[string]*transfer),
		draining:      make(map[string]*transfer),
		timers:        make(map[string]*retryTimer),
		networkUp:     true,
		idle:          make(chan struct{}),
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = 2
	}

	s.mu.Lock()
	s.refreshLocked()
	s.mu.Unlock()

	logger.Info("upload service started",
		"max_concurrent_uploads", s.maxConcurrent,
		"max_retry_attempts", s.policy.MaxAttempts,
		"retry_base_delay", s.policy.BaseDelay,
	)
	return s
}

// Subscribe registers fn for upload events. Events arrive on one goroutine in
// publication order. The returned func removes the subscription.
func (s *UploadService) Subscribe(fn func(domain.Event)) func() {
	return s.events.subscribe(fn)
}

// RecoverPendingTasks loads the last persisted snapshot and resumes it.
// Tasks that were in flight come back as queued.
func (s *UploadService) RecoverPendingTasks(ctx context.Context) error {
	tasks, err := s.taskRepo.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errpkg.ErrEngineClosed
	}

	restored := 0
	for i := range tasks {
		task := tasks[i]
		if s.findBySegmentLocked(task.SegmentID) != nil {
			s.logger.Warn("skipping recovered task, segment already tracked", "segment_id", task.SegmentID)
			continue
		}
		task.Recover()
		s.tasks = append(s.tasks, &task)
		restored++
	}

	s.logger.Info("pending tasks recovered", "tasks_count", restored)

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return nil
}

// Enqueue adds a segment upload. A segment that still has an unfinished task
// is rejected; a finished one is replaced.
func (s *UploadService) Enqueue(req domain.EnqueueRequest) (domain.Task, error) {
	if err := validation.ValidateEnqueue(req); err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.Task{}, errpkg.ErrEngineClosed
	}

	if existing := s.findBySegmentLocked(req.SegmentID); existing != nil {
		if !existing.Status.IsTerminal() {
			return domain.Task{}, fmt.Errorf("%w: %s", errpkg.ErrDuplicateSegment, req.SegmentID)
		}
		s.removeLocked(func(t *domain.Task) bool { return t == existing })
	}

	task := domain.NewTask(req, s.now())
	s.tasks = append(s.tasks, task)
	metrics.TasksEnqueued.Inc()

	s.logger.Info("segment upload enqueued",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
		"group_id", task.GroupID,
	)

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return task.Clone(), nil
}

// Cancel stops the upload of segmentID. Cancelling a finished task is a no-op.
func (s *UploadService) Cancel(segmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errpkg.ErrEngineClosed
	}

	task := s.findBySegmentLocked(segmentID)
	if task == nil {
		return fmt.Errorf("%w: %s", errpkg.ErrTaskNotFound, segmentID)
	}
	if !s.cancelLocked(task) {
		return nil
	}

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return nil
}

// CancelGroup cancels every unfinished task of groupID and returns how many
// were cancelled.
func (s *UploadService) CancelGroup(groupID string) int {
	return s.cancelMatching(func(t *domain.Task) bool { return t.GroupID == groupID })
}

// CancelAll cancels every unfinished task.
func (s *UploadService) CancelAll() int {
	return s.cancelMatching(func(*domain.Task) bool { return true })
}

func (s *UploadService) cancelMatching(match func(*domain.Task) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	cancelled := 0
	for _, task := range s.tasks {
		if match(task) && s.cancelLocked(task) {
			cancelled++
		}
	}
	if cancelled == 0 {
		return 0
	}

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return cancelled
}

// Retry requeues a failed or cancelled task with a fresh retry budget.
func (s *UploadService) Retry(segmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errpkg.ErrEngineClosed
	}

	task := s.findBySegmentLocked(segmentID)
	if task == nil {
		return fmt.Errorf("%w: %s", errpkg.ErrTaskNotFound, segmentID)
	}
	if task.Status != domain.TaskStatusFailed && task.Status != domain.TaskStatusCancelled {
		return fmt.Errorf("%w: %s is %s", errpkg.ErrNotRetryable, segmentID, task.Status)
	}
	if err := s.requeueLocked(task); err != nil {
		return err
	}

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return nil
}

// RetryAllFailed requeues every failed task and returns how many were requeued.
func (s *UploadService) RetryAllFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	requeued := 0
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusFailed {
			continue
		}
		if err := s.requeueLocked(task); err == nil {
			requeued++
		}
	}
	if requeued == 0 {
		return 0
	}

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
	return requeued
}

// ClearCompleted forgets completed tasks and returns how many were removed.
func (s *UploadService) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	removed := s.removeLocked(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusCompleted
	})
	if removed > 0 {
		s.persistLocked()
		s.refreshLocked()
	}
	return removed
}

// ClearGroup cancels the unfinished tasks of groupID, then forgets all of its
// tasks. It returns how many tasks were removed.
func (s *UploadService) ClearGroup(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	inGroup := func(t *domain.Task) bool { return t.GroupID == groupID }
	for _, task := range s.tasks {
		if inGroup(task) {
			s.cancelLocked(task)
		}
	}

	removed := s.removeLocked(inGroup)
	if removed > 0 {
		s.persistLocked()
		s.promoteLocked()
		s.refreshLocked()
	}
	return removed
}

// Status returns a copy of the task tracking segmentID.
func (s *UploadService) Status(segmentID string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.findBySegmentLocked(segmentID)
	if task == nil {
		return domain.Task{}, false
	}
	return task.Clone(), true
}

// TasksForGroup returns copies of the tasks of groupID in enqueue order.
func (s *UploadService) TasksForGroup(groupID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]domain.Task, 0)
	for _, task := range s.tasks {
		if task.GroupID == groupID {
			tasks = append(tasks, task.Clone())
		}
	}
	return tasks
}

// OverallProgress returns the mean progress of unfinished tasks.
func (s *UploadService) OverallProgress() float64 {
	return s.progress.Load().overall
}

// IsBusy reports whether any task is queued, active or retrying.
func (s *UploadService) IsBusy() bool {
	return s.progress.Load().busy
}

// ActiveCount returns the number of transfers in flight.
func (s *UploadService) ActiveCount() int {
	return s.progress.Load().active
}

// WaitIdle blocks until no transfer is in flight or ctx is done.
func (s *UploadService) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetNetworkAvailable suspends or resumes promotion. Transfers already in
// flight are left alone.
func (s *UploadService) SetNetworkAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.networkUp == available {
		return
	}
	s.networkUp = available
	s.logger.Info("network availability changed", "available", available)

	if available {
		s.promoteLocked()
		s.refreshLocked()
	}
}

// Promote fills free concurrency slots from the queue.
func (s *UploadService) Promote() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoteLocked()
	s.refreshLocked()
}

// Persist writes the current task snapshot.
func (s *UploadService) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistLocked()
}

// Close stops promotion, aborts transfers without changing their status,
// stops retry timers, saves a final snapshot and drains pending events.
// Interrupted tasks resume as queued on the next start.
func (s *UploadService) Close(ctx context.Context) error {
	s.logger.Info("shutting down upload service")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, tr := range s.runs {
		tr.cancel()
	}
	for id, rt := range s.timers {
		rt.timer.Stop()
		delete(s.timers, id)
	}
	s.persistLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("upload service shutdown timed out")
		return ctx.Err()
	}

	if err := s.events.close(ctx); err != nil {
		return err
	}

	s.logger.Info("upload service shutdown completed")
	return nil
}

func (s *UploadService) promoteLocked() {
	if s.closed || !s.networkUp {
		return
	}
	for len(s.runs) < s.maxConcurrent {
		next := s.nextQueuedLocked()
		if next == nil || !s.startLocked(next) {
			return
		}
	}
}

// nextQueuedLocked picks the oldest queued task; ties keep enqueue order.
// A segment whose aborted transfer has not returned yet is held back so two
// transfers never write the same objects.
func (s *UploadService) nextQueuedLocked() *domain.Task {
	var next *domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusQueued {
			continue
		}
		if _, held := s.draining[task.SegmentID]; held {
			continue
		}
		if next == nil || task.CreatedAt.Before(next.CreatedAt) {
			next = task
		}
	}
	return next
}

func (s *UploadService) startLocked(task *domain.Task) bool {
	if err := task.Transition(domain.TaskStatusActive, s.now()); err != nil {
		s.logger.Error("failed to start upload", "segment_id", task.SegmentID, "error", err)
		return false
	}

	s.seq++
	runID := s.seq
	ctx, cancel := context.WithCancel(context.Background())
	s.runs[task.ID] = &transfer{id: runID, cancel: cancel}

	s.logger.Info("segment upload started",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
		"retry_count", task.RetryCount,
	)

	snapshot := task.Clone()
	s.wg.Add(1)
	go s.execute(ctx, runID, snapshot)
	return true
}

func (s *UploadService) execute(ctx context.Context, runID uint64, task domain.Task) {
	defer s.wg.Done()

	result, err := s.uploader.UploadTask(ctx, task, func(progress float64) {
		s.onProgress(task.ID, runID, progress)
	})
	s.onFinished(task.ID, task.SegmentID, runID, result, err)
}

// currentLocked returns the task driven by runID, or nil for a stale run.
func (s *UploadService) currentLocked(taskID string, runID uint64) *domain.Task {
	tr := s.runs[taskID]
	if tr == nil || tr.id != runID {
		return nil
	}
	return s.findByIDLocked(taskID)
}

func (s *UploadService) onProgress(taskID string, runID uint64, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.currentLocked(taskID, runID)
	if task == nil {
		s.logger.Debug("dropping progress of a stale transfer", "task_id", taskID)
		return
	}
	if progress > 1 {
		progress = 1
	}
	if progress <= task.Progress {
		return
	}
	task.Progress = progress

	s.persistLocked()
	s.refreshLocked()
	s.events.publish(domain.Event{
		Type:      domain.EventUploadProgress,
		SegmentID: task.SegmentID,
		GroupID:   task.GroupID,
		Progress:  progress,
	})
}

func (s *UploadService) onFinished(taskID, segmentID string, runID uint64, result domain.UploadResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d := s.draining[segmentID]; d != nil && d.id == runID {
		delete(s.draining, segmentID)
		s.logger.Debug("aborted transfer returned", "task_id", taskID, "segment_id", segmentID, "error", err)
		s.promoteLocked()
		s.refreshLocked()
		return
	}

	task := s.currentLocked(taskID, runID)
	if task == nil {
		s.logger.Debug("dropping result of a stale transfer", "task_id", taskID, "error", err)
		return
	}
	tr := s.runs[taskID]
	delete(s.runs, taskID)
	tr.cancel()

	if s.closed && err != nil {
		// Interrupted by shutdown; the task stays active in the final
		// snapshot and is requeued on the next start.
		s.refreshLocked()
		return
	}

	if err == nil {
		s.completeLocked(task, result)
	} else {
		s.failLocked(task, err)
	}

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
}

func (s *UploadService) completeLocked(task *domain.Task, result domain.UploadResult) {
	if err := task.Transition(domain.TaskStatusCompleted, s.now()); err != nil {
		s.logger.Error("failed to complete upload", "segment_id", task.SegmentID, "error", err)
		return
	}
	task.RemoteVideoURL = result.RemoteVideoURL
	task.RemoteThumbnailURL = result.RemoteThumbnailURL
	s.everCompleted = true

	metrics.TasksCompleted.Inc()
	metrics.UploadDuration.Observe(task.Duration().Seconds())
	metrics.UploadBytes.Add(float64(result.BytesUploaded))

	s.logger.Info("segment upload completed",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
		"video_url", task.RemoteVideoURL,
		"has_thumbnail", task.RemoteThumbnailURL != "",
		"duration", task.Duration(),
	)

	s.events.publish(domain.Event{
		Type:               domain.EventUploadCompleted,
		SegmentID:          task.SegmentID,
		GroupID:            task.GroupID,
		Progress:           task.Progress,
		RemoteVideoURL:     task.RemoteVideoURL,
		RemoteThumbnailURL: task.RemoteThumbnailURL,
	})
}

func (s *UploadService) failLocked(task *domain.Task, cause error) {
	decision := s.policy.Decide(cause, task.RetryCount)
	task.LastError = cause.Error()

	if decision.Retry {
		if err := task.Transition(domain.TaskStatusRetrying, s.now()); err != nil {
			s.logger.Error("failed to schedule retry", "segment_id", task.SegmentID, "error", err)
			return
		}
		task.RetryCount++
		s.scheduleRetryLocked(task, decision.Delay)
		metrics.RetriesScheduled.Inc()

		s.logger.Warn("segment upload failed, retry scheduled",
			"task_id", task.ID,
			"segment_id", task.SegmentID,
			"attempt", task.RetryCount,
			"delay", decision.Delay,
			"error", cause,
		)
		return
	}

	if err := task.Transition(domain.TaskStatusFailed, s.now()); err != nil {
		s.logger.Error("failed to mark upload failed", "segment_id", task.SegmentID, "error", err)
		return
	}
	metrics.TasksFailed.Inc()

	s.logger.Error("segment upload failed",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
		"retry_count", task.RetryCount,
		"retryable", retry.IsRetryable(cause),
		"error", cause,
	)

	s.events.publish(domain.Event{
		Type:      domain.EventUploadFailed,
		SegmentID: task.SegmentID,
		GroupID:   task.GroupID,
		Error:     task.LastError,
	})
}

func (s *UploadService) scheduleRetryLocked(task *domain.Task, delay time.Duration) {
	s.seq++
	timerID := s.seq
	taskID := task.ID

	rt := &retryTimer{id: timerID}
	rt.timer = s.afterFunc(delay, func() {
		s.onRetryDue(taskID, timerID)
	})
	s.timers[taskID] = rt
}

func (s *UploadService) onRetryDue(taskID string, timerID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt := s.timers[taskID]
	if rt == nil || rt.id != timerID {
		return
	}
	delete(s.timers, taskID)

	if s.closed {
		return
	}
	task := s.findByIDLocked(taskID)
	if task == nil || task.Status != domain.TaskStatusRetrying {
		return
	}
	if err := task.Transition(domain.TaskStatusQueued, s.now()); err != nil {
		s.logger.Error("failed to requeue after backoff", "segment_id", task.SegmentID, "error", err)
		return
	}

	s.logger.Debug("retry backoff elapsed", "segment_id", task.SegmentID, "retry_count", task.RetryCount)

	s.persistLocked()
	s.promoteLocked()
	s.refreshLocked()
}

// cancelLocked aborts any transfer or pending retry of task and marks it
// cancelled. The concurrency slot frees at once, while the segment stays held
// until the aborted transfer returns. It reports false if the task had already
// finished.
func (s *UploadService) cancelLocked(task *domain.Task) bool {
	if task.Status.IsTerminal() {
		return false
	}

	if tr := s.runs[task.ID]; tr != nil {
		delete(s.runs, task.ID)
		s.draining[task.SegmentID] = tr
		tr.cancel()
	}
	if rt := s.timers[task.ID]; rt != nil {
		rt.timer.Stop()
		delete(s.timers, task.ID)
	}

	if err := task.Transition(domain.TaskStatusCancelled, s.now()); err != nil {
		s.logger.Error("failed to cancel upload", "segment_id", task.SegmentID, "error", err)
		return false
	}
	metrics.TasksCancelled.Inc()

	s.logger.Info("segment upload cancelled",
		"task_id", task.ID,
		"segment_id", task.SegmentID,
	)
	return true
}

func (s *UploadService) requeueLocked(task *domain.Task) error {
	if err := task.Transition(domain.TaskStatusQueued, s.now()); err != nil {
		return err
	}
	task.RetryCount = 0
	task.LastError = ""

	s.logger.Info("segment upload requeued", "task_id", task.ID, "segment_id", task.SegmentID)
	return nil
}

func (s *UploadService) removeLocked(match func(*domain.Task) bool) int {
	kept := s.tasks[:0]
	removed := 0
	for _, task := range s.tasks {
		if match(task) {
			removed++
			continue
		}
		kept = append(kept, task)
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept
	return removed
}

func (s *UploadService) findBySegmentLocked(segmentID string) *domain.Task {
	for _, task := range s.tasks {
		if task.SegmentID == segmentID {
			return task
		}
	}
	return nil
}

func (s *UploadService) findByIDLocked(id string) *domain.Task {
	for _, task := range s.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// persistLocked replaces the durable snapshot. Failures are logged only; the
// in-memory state machine keeps going.
func (s *UploadService) persistLocked() {
	snapshot := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot = append(snapshot, task.Clone())
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.taskRepo.SaveTasks(ctx, snapshot); err != nil {
		metrics.PersistErrors.Inc()
		s.logger.Warn("failed to persist tasks", "error", err)
	}
}

// refreshLocked recomputes the progress snapshot and the idle signal.
func (s *UploadService) refreshLocked() {
	snap := aggregateProgress(s.tasks, s.everCompleted)
	s.progress.Store(&snap)
	metrics.ActiveUploads.Set(float64(snap.active))

	switch {
	case snap.active == 0 && !s.idleClosed:
		close(s.idle)
		s.idleClosed = true
	case snap.active > 0 && s.idleClosed:
		s.idle = make(chan struct{})
		s.idleClosed = false
	}
}
