package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/timeseries"
)

var (
	ErrNoData       = errors.New("no data loaded")
	ErrEmptyDataset = errors.New("dataset is empty")
	ErrDuplicateID  = errors.New("duplicate row id")
)

// Orchestrator владеет исходными данными, настройками и текущим снимком.
// Любой триггер (новые данные, смена настроек, калибровки) приводит
// к полному пересчёту.
type Orchestrator struct {
	name string
	loc  *time.Location
	now  func() time.Time
	log  *slog.Logger

	mu         sync.RWMutex
	original   []models.Row
	loaded     bool
	settings   models.Settings
	cal        models.Calibrations
	snapshot   *Snapshot
	generation uint64
}

type Option func(*Orchestrator)

func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.loc = loc }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(name string, settings models.Settings, opts ...Option) (*Orchestrator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		name:     name,
		loc:      time.Local,
		now:      time.Now,
		log:      slog.Default(),
		settings: settings,
		cal:      models.Calibrations{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("pipeline", name)

	return o, nil
}

func (o *Orchestrator) Name() string {
	return o.name
}

// prepare проставляет метки времени и проверяет уникальность id
func (o *Orchestrator) prepare(rows []models.Row) ([]models.Row, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	stamped, err := timeseries.Stamp(rows, o.loc)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(stamped))
	for _, row := range stamped {
		if _, ok := seen[row.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, row.ID)
		}
		seen[row.ID] = struct{}{}
	}
	return stamped, nil
}

// Load заменяет набор данных целиком. При ошибке прежнее состояние сохраняется.
func (o *Orchestrator) Load(rows []models.Row) (*Snapshot, error) {
	prepared, err := o.prepare(rows)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Ответы, запрошенные до загрузки, устаревают
	o.generation++
	o.original = prepared
	o.loaded = true
	return o.recomputeLocked(), nil
}

// BeginRequest выдаёт поколение для запроса к бэкенду
func (o *Orchestrator) BeginRequest() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	return o.generation
}

func (o *Orchestrator) Generation() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.generation
}

// Apply применяет ответ только если его поколение всё ещё текущее.
// Устаревший ответ отбрасывается: applied=false без ошибки.
// Пустой ответ заменяет данные пустым снимком, графики очищаются.
func (o *Orchestrator) Apply(gen uint64, rows []models.Row) (*Snapshot, bool, error) {
	if o.Generation() != gen {
		return nil, false, nil
	}

	prepared := []models.Row{}
	if len(rows) > 0 {
		var err error
		if prepared, err = o.prepare(rows); err != nil {
			return nil, false, err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != gen {
		o.log.Debug("discarding stale response", "generation", gen, "current", o.generation)
		return nil, false, nil
	}

	o.original = prepared
	o.loaded = true
	return o.recomputeLocked(), true, nil
}

func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	o.original = nil
	o.loaded = false
	o.snapshot = nil
}

func (o *Orchestrator) Settings() models.Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// UpdateSettings сохраняет настройки даже без данных, но пересчёт
// в этом случае отклоняется с ErrNoData.
func (o *Orchestrator) UpdateSettings(patch models.SettingsPatch) (*Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, err := o.settings.Apply(patch)
	if err != nil {
		return nil, err
	}

	o.settings = next
	o.generation++

	if !o.loaded {
		return nil, ErrNoData
	}
	return o.recomputeLocked(), nil
}

func (o *Orchestrator) SetCalibrations(cal models.Calibrations) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cal = cal
	if o.loaded {
		o.recomputeLocked()
	}
}

func (o *Orchestrator) Calibrations() models.Calibrations {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cal
}

func (o *Orchestrator) Recompute() (*Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.loaded {
		return nil, ErrNoData
	}
	return o.recomputeLocked(), nil
}

func (o *Orchestrator) Snapshot() (*Snapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.loaded || o.snapshot == nil {
		return nil, ErrNoData
	}
	return o.snapshot, nil
}

func (o *Orchestrator) recomputeLocked() *Snapshot {
	start := time.Now()

	snap := build(o.original, o.settings, o.cal, o.generation, o.now())
	o.snapshot = snap

	if snap.Empty() {
		o.log.Warn("no rows for selected time range and interval",
			"time_range", o.settings.TimeRange, "interval", o.settings.Interval)
	}
	o.log.Debug("pipeline recomputed",
		"total", snap.Stats.TotalRecords,
		"filtered", snap.Stats.FilteredRecords,
		"took", time.Since(start))

	return snap
}
