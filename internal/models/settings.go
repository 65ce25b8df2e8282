package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidSettings = errors.New("invalid settings")

// MaxIntervalSeconds - больше не помещается в time.Duration
const MaxIntervalSeconds = math.MaxInt64 / int64(time.Second)

type TimeRange string

const (
	Range1h  TimeRange = "1h"
	Range2h  TimeRange = "2h"
	Range6h  TimeRange = "6h"
	Range12h TimeRange = "12h"
	Range1d  TimeRange = "1d"
	Range24h TimeRange = "24h"
	Range3d  TimeRange = "3d"
	Range7d  TimeRange = "7d"
	Range30d TimeRange = "30d"
	RangeAll TimeRange = "all"
)

var timeRangeSpans = map[TimeRange]time.Duration{
	Range1h:  time.Hour,
	Range2h:  2 * time.Hour,
	Range6h:  6 * time.Hour,
	Range12h: 12 * time.Hour,
	Range1d:  24 * time.Hour,
	Range24h: 24 * time.Hour,
	Range3d:  72 * time.Hour,
	Range7d:  168 * time.Hour,
	Range30d: 720 * time.Hour,
}

func ParseTimeRange(s string) (TimeRange, error) {
	tr := TimeRange(s)
	if tr == RangeAll {
		return tr, nil
	}
	if _, ok := timeRangeSpans[tr]; !ok {
		return "", fmt.Errorf("%w: unknown time range %q", ErrInvalidSettings, s)
	}
	return tr, nil
}

// Span возвращает длительность окна; false для "all".
func (t TimeRange) Span() (time.Duration, bool) {
	span, ok := timeRangeSpans[t]
	return span, ok
}

type ChartType string

const (
	ChartLine   ChartType = "line"
	ChartArea   ChartType = "area"
	ChartPoints ChartType = "points"
)

func ParseChartType(s string) (ChartType, error) {
	switch ct := ChartType(s); ct {
	case ChartLine, ChartArea, ChartPoints:
		return ct, nil
	}
	return "", fmt.Errorf("%w: unknown chart type %q", ErrInvalidSettings, s)
}

type Settings struct {
	TimeRange   TimeRange `json:"timeRange"`
	Interval    int       `json:"interval"` // секунды
	ChartType   ChartType `json:"chartType"`
	ShowTrend   bool      `json:"showTrend"`
	ShowAverage bool      `json:"showAverage"`
}

func DefaultSettings() Settings {
	return Settings{
		TimeRange: Range1h,
		Interval:  30,
		ChartType: ChartLine,
	}
}

func (s Settings) Validate() error {
	if _, err := ParseTimeRange(string(s.TimeRange)); err != nil {
		return err
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidSettings, s.Interval)
	}
	if int64(s.Interval) > MaxIntervalSeconds {
		return fmt.Errorf("%w: interval %d exceeds %d seconds", ErrInvalidSettings, s.Interval, MaxIntervalSeconds)
	}
	if _, err := ParseChartType(string(s.ChartType)); err != nil {
		return err
	}
	return nil
}

func (s Settings) IntervalDuration() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// SettingsPatch - частичное обновление настроек, nil поля не меняются.
type SettingsPatch struct {
	TimeRange   *string `json:"timeRange,omitempty"`
	Interval    *int    `json:"interval,omitempty"`
	ChartType   *string `json:"chartType,omitempty"`
	ShowTrend   *bool   `json:"showTrend,omitempty"`
	ShowAverage *bool   `json:"showAverage,omitempty"`
}

func (s Settings) Apply(p SettingsPatch) (Settings, error) {
	next := s
	if p.TimeRange != nil {
		next.TimeRange = TimeRange(*p.TimeRange)
	}
	if p.Interval != nil {
		next.Interval = *p.Interval
	}
	if p.ChartType != nil {
		next.ChartType = ChartType(*p.ChartType)
	}
	if p.ShowTrend != nil {
		next.ShowTrend = *p.ShowTrend
	}
	if p.ShowAverage != nil {
		next.ShowAverage = *p.ShowAverage
	}

	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}
