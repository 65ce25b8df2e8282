package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/pipeline"
)

var ErrNothingToExport = errors.New("no data to export")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// FileName: prefix_YYYY-MM-DD.ext
func FileName(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("2006-01-02"), ext)
}

func CSVFileName(now time.Time) string {
	return FileName("filtered_sensor_data", "csv", now)
}

func ArchiveFileName(now time.Time) string {
	return FileName("sensor_charts", "zip", now)
}

// ChartFileName заменяет всё кроме латиницы и цифр на "_"
func ChartFileName(label string) string {
	return unsafeChars.ReplaceAllString(label, "_") + "_chart.png"
}

// WriteCSV выгружает отфильтрованные строки снимка; пропуски пишутся как 0
func WriteCSV(w io.Writer, snap *pipeline.Snapshot) error {
	if snap == nil || snap.Empty() {
		return ErrNothingToExport
	}

	writer := csv.NewWriter(w)

	header := append([]string{"ID", "Date", "Time"}, snap.Labels[:]...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, 3+models.NumChannels)
	for _, row := range snap.Rows {
		record[0] = strconv.FormatInt(row.ID, 10)
		record[1] = row.Date
		record[2] = row.Time
		for _, ch := range models.AllChannels() {
			record[3+int(ch)] = strconv.FormatFloat(row.Value(ch).OrZero(), 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", row.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
