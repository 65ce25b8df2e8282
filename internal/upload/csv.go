package upload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"sensor-dashboard/internal/models"
)

var (
	ErrNotCSV          = errors.New("please upload a CSV file")
	ErrMalformed       = errors.New("could not read CSV file")
	ErrMissingColumns  = errors.New("CSV file must contain columns")
	ErrNoSensorColumns = errors.New("CSV must contain at least one sensor column (CH1-CH7)")
	ErrEmptyDataset    = errors.New("CSV file has no data rows")
)

var requiredColumns = []string{"ID", "Date", "Time"}

// Result - разобранный файл и найденные колонки каналов
type Result struct {
	Rows    []models.Row
	Columns map[models.Channel]string
}

func CheckFileName(name string) error {
	if name == "" || !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %q", ErrNotCSV, name)
	}
	return nil
}

type layout struct {
	id, date, clock int
	channels        map[models.Channel]int
}

func detectLayout(header []string) (layout, map[models.Channel]string, error) {
	l := layout{id: -1, date: -1, clock: -1, channels: make(map[models.Channel]int)}
	names := make(map[models.Channel]string)

	for i, h := range header {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case "ID":
			l.id = i
		case "DATE":
			l.date = i
		case "TIME":
			l.clock = i
		}
	}

	var missing []string
	for i, idx := range []int{l.id, l.date, l.clock} {
		if idx < 0 {
			missing = append(missing, requiredColumns[i])
		}
	}
	if len(missing) > 0 {
		return l, nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	for _, ch := range models.AllChannels() {
		n := strconv.Itoa(ch.Number())
		patterns := []string{"CH" + n, "CHANNEL " + n, "SENSOR " + n}

		for i, h := range header {
			if i == l.id || i == l.date || i == l.clock {
				continue
			}
			upper := strings.ToUpper(strings.TrimSpace(h))
			if containsAny(upper, patterns) {
				l.channels[ch] = i
				names[ch] = strings.TrimSpace(h)
				break
			}
		}
	}
	if len(l.channels) == 0 {
		return l, nil, ErrNoSensorColumns
	}

	return l, names, nil
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Parse читает CSV с колонками ID, Date, Time и хотя бы одним каналом.
// Нечисловые значения каналов становятся пропусками; пустой ID заменяется
// номером строки данных, а если он занят явным ID - первым свободным после них.
func Parse(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Result{}, ErrEmptyDataset
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	l, names, err := detectLayout(header)
	if err != nil {
		return Result{}, err
	}

	var (
		rows     []models.Row
		implicit []int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		// Пропускаем полностью пустые строки
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		row := models.Row{
			Date: cell(record, l.date),
			Time: cell(record, l.clock),
		}
		if id, err := strconv.ParseInt(cell(record, l.id), 10, 64); err == nil {
			row.ID = id
		} else {
			implicit = append(implicit, len(rows))
		}

		for ch, i := range l.channels {
			if v, err := strconv.ParseFloat(cell(record, i), 64); err == nil {
				row.Channels[ch] = models.Present(v)
			}
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return Result{}, ErrEmptyDataset
	}
	fillIDs(rows, implicit)

	return Result{Rows: rows, Columns: names}, nil
}

// fillIDs раздаёт номера строкам без ID, не задевая явные
func fillIDs(rows []models.Row, implicit []int) {
	if len(implicit) == 0 {
		return
	}

	missing := make(map[int]bool, len(implicit))
	for _, i := range implicit {
		missing[i] = true
	}
	taken := make(map[int64]bool, len(rows))
	var next int64
	for i, row := range rows {
		if !missing[i] {
			taken[row.ID] = true
			next = max(next, row.ID)
		}
	}
	next++

	for _, i := range implicit {
		id := int64(i + 1)
		if taken[id] {
			for taken[next] {
				next++
			}
			id = next
		}
		taken[id] = true
		rows[i].ID = id
	}
}
