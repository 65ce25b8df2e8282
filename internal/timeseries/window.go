package timeseries

import (
	"slices"

	"sensor-dashboard/internal/models"
)

func compareAsc(a, b models.Row) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func compareDesc(a, b models.Row) int {
	return compareAsc(b, a)
}

// SortAscending возвращает отсортированную копию; при равных метках порядок по id.
func SortAscending(rows []models.Row) []models.Row {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, compareAsc)
	return sorted
}

// Window оставляет строки с меткой >= (последняя метка - span), граница включается.
// Для "all" вход возвращается без изменений, порядок здесь не гарантируется.
func Window(rows []models.Row, tr models.TimeRange) []models.Row {
	span, bounded := tr.Span()
	if !bounded || len(rows) == 0 {
		return rows
	}

	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, compareDesc)

	cutoff := sorted[0].Timestamp.Add(-span)

	// Сортировка по убыванию: отсекаем хвост, который старше cutoff
	n := len(sorted)
	for n > 0 && sorted[n-1].Timestamp.Before(cutoff) {
		n--
	}
	return sorted[:n]
}
