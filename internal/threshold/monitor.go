package threshold

import (
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNoActiveAlert = errors.New("no active alert")
	ErrAlertMismatch = errors.New("alert id does not match active alert")
)

// Limits: ключ поля или канала -> порог
type Limits map[string]float64

func DefaultLimits() Limits {
	return Limits{
		string(models.FieldPMVoltage):     200,
		string(models.FieldPMCurrent):     100,
		string(models.FieldPMR):           500,
		string(models.FieldPMQ):           500,
		string(models.FieldPMS):           500,
		string(models.FieldEngineSpeed):   2000,
		string(models.FieldEngineLoad):    100,
		string(models.FieldEngineFuel):    100,
		string(models.FieldEngineRunHour): 5000,
		string(models.FieldEngineOil):     100,
		"ch1":                             1000,
		"ch2":                             1000,
		"ch3":                             1000,
		"ch4":                             1000,
		"ch5":                             1000,
		"ch6":                             1000,
		"ch7":                             200,
	}
}

type State string

const (
	StateIdle     State = "idle"
	StateAlerting State = "alerting"
)

type breach struct {
	key       string
	sensor    string
	value     float64
	threshold float64
}

// Monitor держит не больше одного активного предупреждения.
// Новое превышение перезаписывает текущее, очереди нет.
type Monitor struct {
	mu     sync.RWMutex
	limits Limits
	names  [models.NumChannels]string
	active *models.Alert
	now    func() time.Time
	log    *slog.Logger
}

// NewMonitor накладывает overrides поверх порогов по умолчанию
func NewMonitor(overrides Limits, log *slog.Logger) *Monitor {
	limits := DefaultLimits()
	maps.Copy(limits, overrides)

	if log == nil {
		log = slog.Default()
	}

	return &Monitor{
		limits: limits,
		names:  models.Calibrations{}.DisplayNames(),
		now:    time.Now,
		log:    log,
	}
}

func (m *Monitor) SetChannelNames(names [models.NumChannels]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = names
}

func (m *Monitor) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.limits)
}

func (m *Monitor) exceeds(key string, value float64) (float64, bool) {
	limit, ok := m.limits[key]
	if !ok {
		return 0, false
	}
	return limit, value > limit
}

func (m *Monitor) firstField(fields []models.FieldValue) (breach, bool) {
	for _, fv := range fields {
		if limit, over := m.exceeds(string(fv.Field), fv.Value); over {
			return breach{
				key:       string(fv.Field),
				sensor:    fv.Field.DisplayName(),
				value:     fv.Value,
				threshold: limit,
			}, true
		}
	}
	return breach{}, false
}

func (m *Monitor) firstInRow(row models.Row) (breach, bool) {
	if row.Powermeter != nil {
		if b, ok := m.firstField(row.Powermeter.Fields()); ok {
			return b, true
		}
	}
	if row.Engine != nil {
		if b, ok := m.firstField(row.Engine.Fields()); ok {
			return b, true
		}
	}

	for _, ch := range models.AllChannels() {
		r := row.Value(ch)
		if !r.Valid {
			continue
		}
		if limit, over := m.exceeds(ch.Key(), r.Value); over {
			return breach{
				key:       ch.Key(),
				sensor:    m.names[ch],
				value:     r.Value,
				threshold: limit,
			}, true
		}
	}
	return breach{}, false
}

// CheckRow проверяет строку и возвращает активное предупреждение, если было превышение
func (m *Monitor) CheckRow(row models.Row) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.firstInRow(row)
	if !ok {
		return models.Alert{}, false
	}
	return m.raiseLocked(b), true
}

// CheckEquipment - та же проверка для живых данных двигателя и счётчика
func (m *Monitor) CheckEquipment(snap models.EquipmentSnapshot) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := append(snap.Powermeter.Fields(), snap.Engine.Fields()...)
	b, ok := m.firstField(fields)
	if !ok {
		return models.Alert{}, false
	}
	return m.raiseLocked(b), true
}

func (m *Monitor) raiseLocked(b breach) models.Alert {
	now := m.now()

	if m.active == nil {
		m.active = &models.Alert{
			ID:       uuid.New(),
			RaisedAt: now,
		}
		m.log.Warn("threshold exceeded",
			"sensor", b.sensor, "value", b.value, "threshold", b.threshold)
	} else {
		m.active.Updates++
	}

	m.active.Key = b.key
	m.active.Sensor = b.sensor
	m.active.Value = b.value
	m.active.Threshold = b.threshold
	m.active.UpdatedAt = now

	return *m.active
}

func (m *Monitor) Active() (models.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == nil {
		return models.Alert{}, false
	}
	return *m.active, true
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == nil {
		return StateIdle
	}
	return StateAlerting
}

// Acknowledge снимает предупреждение только по его id
func (m *Monitor) Acknowledge(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoActiveAlert
	}
	if m.active.ID != id {
		return ErrAlertMismatch
	}

	m.log.Info("alert acknowledged", "id", id, "sensor", m.active.Sensor)
	m.active = nil
	return nil
}

// Dismiss снимает любое активное предупреждение
func (m *Monitor) Dismiss() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return false
	}
	m.active = nil
	return true
}
