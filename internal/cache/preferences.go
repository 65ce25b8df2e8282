package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sensor-dashboard/internal/models"
)

const (
	PrefTimeRange = "selectedTimeRange"
	PrefSensors   = "selectedSensors"
	PrefSidebar   = "sidebarOpen"

	prefPrefix = "prefs:"
)

var (
	ErrUnknownPreference = errors.New("unknown preference")
	ErrInvalidPreference = errors.New("invalid preference value")
)

// Preferences заменяет localStorage панели: выбранный диапазон,
// отмеченные каналы и состояние боковой панели.
type Preferences struct {
	store Store
}

func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

func defaultPreference(key string) any {
	switch key {
	case PrefTimeRange:
		return string(models.Range1h)
	case PrefSensors:
		keys := make([]string, 0, models.NumChannels)
		for _, ch := range models.AllChannels() {
			keys = append(keys, ch.Key())
		}
		return keys
	case PrefSidebar:
		return true
	}
	return nil
}

func (p *Preferences) Get(ctx context.Context, key string) (json.RawMessage, error) {
	def := defaultPreference(key)
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreference, key)
	}

	data, err := p.store.Get(ctx, prefPrefix+key)
	if errors.Is(err, ErrNotFound) {
		return json.Marshal(def)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set проверяет значение и сохраняет его в нормализованном виде
func (p *Preferences) Set(ctx context.Context, key string, raw json.RawMessage) (json.RawMessage, error) {
	normalized, err := normalizePreference(key, raw)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference: %w", err)
	}
	if err := p.store.Set(ctx, prefPrefix+key, data, 0); err != nil {
		return nil, err
	}
	return data, nil
}

func normalizePreference(key string, raw json.RawMessage) (any, error) {
	switch key {
	case PrefTimeRange:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidPreference, key)
		}
		tr, err := models.ParseTimeRange(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPreference, err)
		}
		return string(tr), nil

	case PrefSensors:
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s must be a list of channels", ErrInvalidPreference, key)
		}
		keys := make([]string, 0, len(list))
		for _, s := range list {
			ch, err := models.ParseChannel(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPreference, err)
			}
			keys = append(keys, ch.Key())
		}
		return keys, nil

	case PrefSidebar:
		var open bool
		if err := json.Unmarshal(raw, &open); err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidPreference, key)
		}
		return open, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownPreference, key)
}
