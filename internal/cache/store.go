package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Store - общий интерфейс для Redis и памяти процесса
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// PushRecent добавляет значение в начало списка и обрезает его до limit
	PushRecent(ctx context.Context, listKey string, value []byte, limit int64) error
	Recent(ctx context.Context, listKey string, count int64) ([][]byte, error)

	Close() error
}
