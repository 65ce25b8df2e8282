package timeseries

import (
	"time"

	"sensor-dashboard/internal/models"
)

// Resample прореживает ряд: соседние оставленные точки отстоят не меньше чем на minGap.
// Первая и последняя по времени строки сохраняются всегда.
func Resample(rows []models.Row, minGap time.Duration) []models.Row {
	if minGap <= 0 || len(rows) <= 1 {
		return rows
	}

	sorted := SortAscending(rows)

	sampled := make([]models.Row, 0, len(sorted))
	sampled = append(sampled, sorted[0])
	lastTime := sorted[0].Timestamp

	for _, row := range sorted[1:] {
		if row.Timestamp.Sub(lastTime) >= minGap {
			sampled = append(sampled, row)
			lastTime = row.Timestamp
		}
	}

	// Ряд всегда заканчивается реальной последней точкой
	last := sorted[len(sorted)-1]
	if sampled[len(sampled)-1].ID != last.ID {
		sampled = append(sampled, last)
	}

	return sampled
}
