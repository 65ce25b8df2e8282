package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sensor-dashboard/internal/analytics"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/timeseries"

	"github.com/gosimple/slug"
)

type Point struct {
	X time.Time `json:"x"`
	Y float64   `json:"y"`
}

type ChannelSeries struct {
	Channel  models.Channel    `json:"-"`
	Key      string            `json:"key"`
	Slug     string            `json:"slug"`
	Label    string            `json:"label"`
	Enabled  bool              `json:"enabled"`
	Points   []Point           `json:"points"`
	Trend    []Point           `json:"trend,omitempty"`
	Average  []Point           `json:"average,omitempty"`
	Smoothed []Point           `json:"smoothed"`
	Summary  analytics.Summary `json:"summary"`
}

type DatasetStats struct {
	TotalRecords    int           `json:"total_records"`
	FilteredRecords int           `json:"filtered_records"`
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
	Span            time.Duration `json:"span"`
	SpanLabel       string        `json:"time_span"`
}

// Snapshot - результат одного прохода конвейера. Все потребители
// (графики, таблица, статистика, экспорт) читают один и тот же снимок,
// поэтому его нельзя изменять после публикации.
type Snapshot struct {
	Generation uint64                     `json:"generation"`
	Settings   models.Settings            `json:"settings"`
	Labels     [models.NumChannels]string `json:"labels"`
	Rows       []models.Row               `json:"rows"`
	Channels   []ChannelSeries            `json:"channels"`
	Stats      DatasetStats               `json:"stats"`
	ComputedAt time.Time                  `json:"computed_at"`
}

func (s *Snapshot) Empty() bool {
	return len(s.Rows) == 0
}

func (s *Snapshot) Channel(ch models.Channel) (ChannelSeries, bool) {
	for _, series := range s.Channels {
		if series.Channel == ch {
			return series, true
		}
	}
	return ChannelSeries{}, false
}

func (s *Snapshot) Latest() (models.Row, bool) {
	if len(s.Rows) == 0 {
		return models.Row{}, false
	}
	return s.Rows[len(s.Rows)-1], true
}

// Recent - последние n строк в хронологическом порядке (малые графики)
func (s *Snapshot) Recent(n int) []models.Row {
	if n <= 0 || n > len(s.Rows) {
		n = len(s.Rows)
	}
	return s.Rows[len(s.Rows)-n:]
}

type TablePage struct {
	Rows    []models.Row `json:"rows"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
	Total   int          `json:"total"`
	Pages   int          `json:"pages"`
}

// Table отдаёт строки от новых к старым с поиском по подстроке
func (s *Snapshot) Table(query string, page, perPage int) TablePage {
	if perPage <= 0 {
		perPage = 10
	}
	if page <= 0 {
		page = 1
	}

	query = strings.ToLower(strings.TrimSpace(query))
	matched := make([]models.Row, 0, len(s.Rows))
	for i := len(s.Rows) - 1; i >= 0; i-- {
		if query == "" || rowMatches(s.Rows[i], query) {
			matched = append(matched, s.Rows[i])
		}
	}

	result := TablePage{
		Rows:    []models.Row{},
		Page:    page,
		PerPage: perPage,
		Total:   len(matched),
		Pages:   (len(matched) + perPage - 1) / perPage,
	}

	start := (page - 1) * perPage
	if start >= len(matched) {
		return result
	}
	end := min(start+perPage, len(matched))
	result.Rows = matched[start:end]
	return result
}

func rowMatches(row models.Row, query string) bool {
	fields := []string{strconv.FormatInt(row.ID, 10), row.Date, row.Time}
	for _, r := range row.Channels {
		if r.Valid {
			fields = append(fields, strconv.FormatFloat(r.Value, 'f', -1, 64))
		}
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

func spanLabel(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func build(original []models.Row, settings models.Settings, cal models.Calibrations, gen uint64, now time.Time) *Snapshot {
	filtered := timeseries.Window(original, settings.TimeRange)
	filtered = timeseries.Resample(filtered, settings.IntervalDuration())
	filtered = timeseries.SortAscending(filtered)

	snap := &Snapshot{
		Generation: gen,
		Settings:   settings,
		Labels:     cal.DisplayNames(),
		Rows:       filtered,
		Channels:   []ChannelSeries{},
		Stats: DatasetStats{
			TotalRecords:    len(original),
			FilteredRecords: len(filtered),
			SpanLabel:       "-",
		},
		ComputedAt: now,
	}

	// Пустой результат: графики должны очиститься, а не показывать старые данные
	if len(filtered) == 0 {
		return snap
	}

	if len(filtered) > 1 {
		start, end := filtered[0].Timestamp, filtered[len(filtered)-1].Timestamp
		snap.Stats.Start = start
		snap.Stats.End = end
		snap.Stats.Span = end.Sub(start)
		snap.Stats.SpanLabel = spanLabel(snap.Stats.Span)
	}

	for _, ch := range models.AllChannels() {
		snap.Channels = append(snap.Channels, buildSeries(ch, filtered, settings, cal))
	}
	return snap
}

func buildSeries(ch models.Channel, rows []models.Row, settings models.Settings, cal models.Calibrations) ChannelSeries {
	label := cal.DisplayName(ch)

	points := make([]Point, len(rows))
	ys := make([]float64, len(rows))
	present := make([]float64, 0, len(rows))
	presentIdx := make([]int, 0, len(rows))
	for i, row := range rows {
		r := row.Value(ch)
		points[i] = Point{X: row.Timestamp, Y: r.OrZero()}
		ys[i] = r.OrZero()
		if r.Valid {
			present = append(present, r.Value)
			presentIdx = append(presentIdx, i)
		}
	}

	series := ChannelSeries{
		Channel:  ch,
		Key:      ch.Key(),
		Slug:     slug.Make(label),
		Label:    label,
		Enabled:  cal.Enabled(ch),
		Points:   points,
		Smoothed: overlay(points, analytics.MovingAverage(ys, analytics.SmoothingWindow(len(ys)))),
		Summary:  analytics.MinMaxMean(present),
	}

	if settings.ShowTrend && len(points) > 1 {
		// тренд строится только по известным значениям, как и статистика
		series.Trend = overlay(points, analytics.SparseLinearTrend(presentIdx, present, len(points)))
	}

	if settings.ShowAverage {
		avg := make([]Point, len(points))
		for i, p := range points {
			avg[i] = Point{X: p.X, Y: series.Summary.Mean}
		}
		series.Average = avg
	}

	return series
}

func overlay(points []Point, values []float64) []Point {
	if len(values) != len(points) {
		return []Point{}
	}
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{X: p.X, Y: values[i]}
	}
	return out
}
