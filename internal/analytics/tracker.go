package analytics

import (
	"sync"
	"time"

	"sensor-dashboard/internal/models"
)

type FieldSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type FieldStats struct {
	Field          models.Field `json:"field"`
	Name           string       `json:"name"`
	Current        float64      `json:"current"`
	RollingAverage float64      `json:"rolling_average"`
	Samples        int          `json:"samples"`
	LastUpdate     time.Time    `json:"last_update"`
}

// Tracker хранит короткую историю живых значений двигателя и счётчика.
// Новые точки добавляются в начало, как на графиках панели.
type Tracker struct {
	maxPoints int
	history   map[models.Field][]FieldSample
	stats     map[models.Field]FieldStats
	mu        sync.RWMutex
}

func NewTracker(maxPoints int) *Tracker {
	if maxPoints <= 0 {
		maxPoints = 20
	}
	return &Tracker{
		maxPoints: maxPoints,
		history:   make(map[models.Field][]FieldSample),
		stats:     make(map[models.Field]FieldStats),
	}
}

func (t *Tracker) Observe(field models.Field, value float64, at time.Time) FieldStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.history[field]
	window = append([]FieldSample{{Timestamp: at, Value: value}}, window...)
	if len(window) > t.maxPoints {
		window = window[:t.maxPoints]
	}
	t.history[field] = window

	values := make([]float64, len(window))
	for i, s := range window {
		values[i] = s.Value
	}

	stats := FieldStats{
		Field:          field,
		Name:           field.DisplayName(),
		Current:        value,
		RollingAverage: MinMaxMean(values).Mean,
		Samples:        len(window),
		LastUpdate:     at,
	}
	t.stats[field] = stats

	return stats
}

// ObserveEquipment записывает все поля одного опроса
func (t *Tracker) ObserveEquipment(snap models.EquipmentSnapshot) []FieldStats {
	fields := append(snap.Powermeter.Fields(), snap.Engine.Fields()...)

	out := make([]FieldStats, 0, len(fields))
	for _, fv := range fields {
		out = append(out, t.Observe(fv.Field, fv.Value, snap.Timestamp))
	}
	return out
}

func (t *Tracker) History(field models.Field) []FieldSample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	window := t.history[field]
	out := make([]FieldSample, len(window))
	copy(out, window)
	return out
}

func (t *Tracker) Stats() map[models.Field]FieldStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[models.Field]FieldStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out
}
