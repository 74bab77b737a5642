package repository

import (
	"context"

	"github.com/veranemoloko/segment-uploader/internal/domain"
)

// KeyValueStore is a durable blob store keyed by string. Put replaces any
// previous value; Get reports found=false for a missing key.
type KeyValueStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
}

// TaskRepo defines the interface for saving and restoring the task list.
type TaskRepo interface {
	SaveTasks(ctx context.Context, tasks []domain.Task) error
	LoadTasks(ctx context.Context) ([]domain.Task, error)
}
