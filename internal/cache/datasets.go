package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/google/uuid"
)

const (
	datasetKey = "viz:dataset"
	uploadsKey = "viz:uploads"
)

type UploadRecord struct {
	ID         uuid.UUID `json:"id"`
	FileName   string    `json:"file_name"`
	Rows       int       `json:"rows"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DatasetCache хранит последний загруженный CSV, чтобы страница
// визуализации переживала перезапуск сервиса.
type DatasetCache struct {
	store        Store
	ttl          time.Duration
	historyLimit int64
}

func NewDatasetCache(store Store, ttl time.Duration) *DatasetCache {
	return &DatasetCache{store: store, ttl: ttl, historyLimit: 50}
}

func (d *DatasetCache) Save(ctx context.Context, rows []models.Row) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}
	return d.store.Set(ctx, datasetKey, data, d.ttl)
}

func (d *DatasetCache) Load(ctx context.Context) ([]models.Row, error) {
	data, err := d.store.Get(ctx, datasetKey)
	if err != nil {
		return nil, err
	}

	var rows []models.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached dataset: %w", err)
	}
	return rows, nil
}

func (d *DatasetCache) Clear(ctx context.Context) error {
	return d.store.Delete(ctx, datasetKey)
}

func (d *DatasetCache) RecordUpload(ctx context.Context, rec UploadRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal upload record: %w", err)
	}
	return d.store.PushRecent(ctx, uploadsKey, data, d.historyLimit)
}

func (d *DatasetCache) RecentUploads(ctx context.Context, count int64) ([]UploadRecord, error) {
	items, err := d.store.Recent(ctx, uploadsKey, count)
	if err != nil {
		return nil, err
	}

	records := make([]UploadRecord, 0, len(items))
	for _, item := range items {
		var rec UploadRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			continue // Пропускаем битые записи
		}
		records = append(records, rec)
	}
	return records, nil
}
