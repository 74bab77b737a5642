package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/veranemoloko/segment-uploader/internal/domain"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

const snapshotVersion = 1

type snapshot struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Tasks   []domain.Task `json:"tasks"`
}

// TaskStorage persists the scheduler's task list as one snapshot blob in a
// KeyValueStore. Every save replaces the previous snapshot.
type TaskStorage struct {
	store  KeyValueStore
	key    string
	logger *slog.Logger
}

// NewTaskStorage creates a TaskStorage that writes under key.
func NewTaskStorage(store KeyValueStore, key string, logger *slog.Logger) *TaskStorage {
	return &TaskStorage{
		store:  store,
		key:    key,
		logger: logger,
	}
}

// SaveTasks writes the queued, active, retrying and failed tasks. Completed
// and cancelled tasks are pruned from durable state.
func (r *TaskStorage) SaveTasks(ctx context.Context, tasks []domain.Task) error {
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Tasks:   make([]domain.Task, 0, len(tasks)),
	}
	for _, task := range tasks {
		if task.Status.IsPersisted() {
			snap.Tasks = append(snap.Tasks, task)
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	if err := r.store.Put(ctx, r.key, data); err != nil {
		return fmt.Errorf("failed to save task snapshot: %w", err)
	}

	r.logger.Debug("task snapshot saved", "tasks_count", len(snap.Tasks), "key", r.key)
	return nil
}

// LoadTasks restores the last snapshot. Tasks that were active or retrying
// are downgraded to queued since whatever drove them died with the previous
// process. The result is ordered by creation time.
func (r *TaskStorage) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	data, found, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read task snapshot: %w", err)
	}
	if !found || len(data) == 0 {
		r.logger.Info("no task snapshot found, starting with empty state", "key", r.key)
		return nil, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", errpkg.ErrUnknownSnapshot, snap.Version)
	}

	tasks := make([]domain.Task, 0, len(snap.Tasks))
	recovered := 0
	for _, task := range snap.Tasks {
		if !task.Status.Valid() || !task.Status.IsPersisted() {
			r.logger.Warn("dropping task with unexpected status from snapshot",
				"segment_id", task.SegmentID,
				"status", task.Status,
			)
			continue
		}
		if task.Recover() {
			recovered++
		}
		tasks = append(tasks, task)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	r.logger.Info("task snapshot loaded",
		"tasks_count", len(tasks),
		"recovered_count", recovered,
		"key", r.key,
	)
	return tasks, nil
}
