package timeseries

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/relvacode/iso8601"
)

var ErrBadTimestamp = errors.New("unparsable date/time")

// Форматы, которые пишет бэкенд и встречаются в выгрузках CSV
var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
}

// ParseTimestamp склеивает дату и время строки в абсолютную метку.
// Строки без зоны интерпретируются в loc.
func ParseTimestamp(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrBadTimestamp, date, clock)
	}

	value := date + " " + clock
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}

	ts, err := iso8601.ParseStringInLocation(date+"T"+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrBadTimestamp, date, clock)
	}
	return ts, nil
}

// Stamp проставляет Timestamp в копии строк. Первая нераспознанная строка
// прерывает загрузку целиком.
func Stamp(rows []models.Row, loc *time.Location) ([]models.Row, error) {
	out := make([]models.Row, len(rows))
	for i, row := range rows {
		ts, err := ParseTimestamp(row.Date, row.Time, loc)
		if err != nil {
			return nil, fmt.Errorf("row id %d: %w", row.ID, err)
		}
		row.Timestamp = ts
		out[i] = row
	}
	return out, nil
}
