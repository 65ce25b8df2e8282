package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/pipeline"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var palette = []drawing.Color{
	drawing.ColorFromHex("4bc0c0"),
	drawing.ColorFromHex("ff6384"),
	drawing.ColorFromHex("36a2eb"),
	drawing.ColorFromHex("ff9f40"),
	drawing.ColorFromHex("9966ff"),
	drawing.ColorFromHex("ffcd56"),
	drawing.ColorFromHex("c9cbcf"),
}

// Renderer рисует графики каналов в PNG
type Renderer struct {
	Width  int
	Height int
}

func NewRenderer() *Renderer {
	return &Renderer{Width: 1200, Height: 600}
}

// seriesStyle повторяет выбранный тип графика
func seriesStyle(ct models.ChartType, col drawing.Color) chart.Style {
	switch ct {
	case models.ChartPoints:
		return chart.Style{
			StrokeWidth: 0,
			StrokeColor: drawing.ColorTransparent,
			DotWidth:    3,
			DotColor:    col,
		}
	case models.ChartArea:
		return chart.Style{
			StrokeWidth: 2,
			StrokeColor: col,
			FillColor:   col.WithAlpha(64),
		}
	default:
		return chart.Style{
			StrokeWidth: 2,
			StrokeColor: col,
		}
	}
}

func overlayStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth:     1.5,
		StrokeColor:     col,
		StrokeDashArray: []float64{5, 5},
	}
}

func timeSeries(name string, points []pipeline.Point, style chart.Style) chart.TimeSeries {
	xs := make([]time.Time, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}

	// go-chart нужны минимум две точки по X
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Second))
		ys = append(ys, ys[0])
	}

	return chart.TimeSeries{Name: name, XValues: xs, YValues: ys, Style: style}
}

// Render рисует один канал с наложениями тренда и среднего
func (r *Renderer) Render(series pipeline.ChannelSeries, ct models.ChartType) ([]byte, error) {
	if len(series.Points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToExport, series.Key)
	}

	col := palette[int(series.Channel)%len(palette)]
	all := []chart.Series{timeSeries(series.Label, series.Points, seriesStyle(ct, col))}

	if len(series.Trend) > 0 {
		all = append(all, timeSeries("Trend", series.Trend, overlayStyle(drawing.ColorFromHex("e74c3c"))))
	}
	if len(series.Average) > 0 {
		all = append(all, timeSeries("Average", series.Average, overlayStyle(drawing.ColorFromHex("7f8c8d"))))
	}

	minY, maxY := series.Points[0].Y, series.Points[0].Y
	for _, p := range series.Points {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}

	// ровный ряд: go-chart не строит ось с нулевым диапазоном
	var yRange chart.Range
	if maxY <= minY {
		yRange = &chart.ContinuousRange{Min: minY - 1, Max: maxY + 1}
	}

	c := chart.Chart{
		Title:      series.Label,
		Width:      r.Width,
		Height:     r.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 28}},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis:  chart.YAxis{Name: series.Label, Range: yRange},
		Series: all,
	}
	if len(all) > 1 {
		c.Elements = []chart.Renderable{chart.Legend(&c)}
	}

	var buf bytes.Buffer
	if err := c.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", series.Key, err)
	}
	return buf.Bytes(), nil
}

type rendered struct {
	name string
	data []byte
	err  error
}

// WriteArchive рисует все включённые каналы параллельно и пишет zip только
// после завершения всех рендеров. Возвращает число графиков в архиве.
func (r *Renderer) WriteArchive(ctx context.Context, w io.Writer, snap *pipeline.Snapshot) (int, error) {
	if snap == nil || snap.Empty() {
		return 0, ErrNothingToExport
	}

	var targets []pipeline.ChannelSeries
	for _, series := range snap.Channels {
		if series.Enabled && len(series.Points) > 0 {
			targets = append(targets, series)
		}
	}
	if len(targets) == 0 {
		return 0, ErrNothingToExport
	}

	results := make([]rendered, len(targets))
	var wg sync.WaitGroup
	for i, series := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i] = rendered{err: err}
				return
			}
			data, err := r.Render(series, snap.Settings.ChartType)
			results[i] = rendered{name: ChartFileName(series.Label), data: data, err: err}
		}()
	}
	wg.Wait()

	var errs []error
	for _, res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(results))
	for i, res := range results {
		// одинаковые подписи у разных каналов
		if used[res.name] {
			res.name = targets[i].Key + "_" + res.name
		}
		used[res.name] = true

		f, err := zw.Create(res.name)
		if err != nil {
			return 0, fmt.Errorf("failed to add %s to archive: %w", res.name, err)
		}
		if _, err := f.Write(res.data); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", res.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}

	return len(results), nil
}
