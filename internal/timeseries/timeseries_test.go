package timeseries

import (
	"math/rand"
	"testing"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func rowAt(id int64, offset time.Duration) models.Row {
	ts := base.Add(offset)
	return models.Row{
		ID:        id,
		Date:      ts.Format("2006-01-02"),
		Time:      ts.Format("15:04:05"),
		Timestamp: ts,
	}
}

// perMinute строит n строк с шагом в минуту в перемешанном порядке
func perMinute(n int, seed int64) []models.Row {
	rows := make([]models.Row, n)
	for i := range n {
		rows[i] = rowAt(int64(i+1), time.Duration(i)*time.Minute)
	}
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	return rows
}

func ids(rows []models.Row) map[int64]bool {
	out := make(map[int64]bool, len(rows))
	for _, r := range rows {
		out[r.ID] = true
	}
	return out
}

func maxTime(rows []models.Row) time.Time {
	var latest time.Time
	for _, r := range rows {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-01", "13:45:10", time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 13, 45, 10, 0, time.UTC), ts)

	ts, err = ParseTimestamp("2024/03/01", "13:45", time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 13, 45, 0, 0, time.UTC), ts)

	ts, err = ParseTimestamp("2024-03-01", "13:45:10Z", time.UTC)
	require.NoError(t, err)
	require.True(t, ts.Equal(time.Date(2024, 3, 1, 13, 45, 10, 0, time.UTC)))

	_, err = ParseTimestamp("yesterday", "noon", time.UTC)
	require.ErrorIs(t, err, ErrBadTimestamp)

	_, err = ParseTimestamp("", "10:00:00", time.UTC)
	require.ErrorIs(t, err, ErrBadTimestamp)
}

func TestStamp(t *testing.T) {
	rows := []models.Row{
		{ID: 1, Date: "2024-03-01", Time: "00:00:00"},
		{ID: 2, Date: "2024-03-01", Time: "00:01:00"},
	}

	stamped, err := Stamp(rows, time.UTC)
	require.NoError(t, err)
	require.Equal(t, base.Add(time.Minute), stamped[1].Timestamp)
	require.True(t, rows[0].Timestamp.IsZero(), "input must not be mutated")

	rows = append(rows, models.Row{ID: 3, Date: "bad", Time: "data"})
	_, err = Stamp(rows, time.UTC)
	require.ErrorIs(t, err, ErrBadTimestamp)
}

func TestWindowInclusivity(t *testing.T) {
	rows := perMinute(300, 1)
	span := time.Hour

	kept := Window(rows, models.Range1h)
	cutoff := maxTime(rows).Add(-span)
	keptIDs := ids(kept)

	for _, r := range rows {
		if keptIDs[r.ID] {
			require.False(t, r.Timestamp.Before(cutoff))
		} else {
			require.True(t, r.Timestamp.Before(cutoff))
		}
	}
	// 60 минут плюс строка ровно на границе
	require.Len(t, kept, 61)
}

func TestWindowBoundaryTies(t *testing.T) {
	rows := []models.Row{
		rowAt(1, 0),
		rowAt(2, 0),
		rowAt(3, 30*time.Minute),
		rowAt(4, time.Hour),
	}

	kept := Window(rows, models.Range1h)
	require.Len(t, kept, 4)

	rows = append(rows, rowAt(5, -time.Second))
	require.Len(t, Window(rows, models.Range1h), 4)
}

func TestWindowAllAndEmpty(t *testing.T) {
	rows := perMinute(50, 2)
	all := Window(rows, models.RangeAll)
	require.Equal(t, ids(rows), ids(all))

	require.Empty(t, Window(nil, models.Range1h))
	require.Empty(t, Window([]models.Row{}, models.Range1d))
}

func TestResampleSpacing(t *testing.T) {
	rows := perMinute(500, 3)
	gap := 7 * time.Minute

	out := Resample(rows, gap)
	for i := 1; i < len(out)-1; i++ {
		require.GreaterOrEqual(t, out[i].Timestamp.Sub(out[i-1].Timestamp), gap)
	}
	for i := 1; i < len(out); i++ {
		require.True(t, out[i].Timestamp.After(out[i-1].Timestamp))
	}
}

func TestResampleEndpoints(t *testing.T) {
	rows := perMinute(100, 4)

	for _, gap := range []time.Duration{time.Second, 13 * time.Minute, 24 * time.Hour} {
		out := Resample(rows, gap)
		require.Equal(t, int64(1), out[0].ID)
		require.Equal(t, int64(100), out[len(out)-1].ID)
	}

	out := Resample(rows, 24*time.Hour)
	require.Len(t, out, 2)
}

func TestResampleForcedLast(t *testing.T) {
	rows := []models.Row{
		rowAt(1, 0),
		rowAt(2, 5*time.Minute),
		rowAt(3, 6*time.Minute),
	}

	out := Resample(rows, 5*time.Minute)
	require.Equal(t, []int64{1, 2, 3}, []int64{out[0].ID, out[1].ID, out[2].ID})
}

func TestResampleIdempotent(t *testing.T) {
	rows := perMinute(1000, 5)

	for _, gap := range []time.Duration{90 * time.Second, 5 * time.Minute, 17 * time.Minute} {
		once := Resample(rows, gap)
		twice := Resample(once, gap)
		require.Equal(t, once, twice)
	}
}

func TestResampleDeterministic(t *testing.T) {
	a := Resample(perMinute(200, 6), 4*time.Minute)
	b := Resample(perMinute(200, 7), 4*time.Minute)
	require.Equal(t, a, b)
}

func TestResampleNoop(t *testing.T) {
	rows := perMinute(10, 8)
	require.Equal(t, rows, Resample(rows, 0))
	require.Equal(t, rows, Resample(rows, -time.Second))

	single := []models.Row{rowAt(1, 0)}
	require.Equal(t, single, Resample(single, time.Minute))
	require.Empty(t, Resample(nil, time.Minute))
}

func TestWindowThenResampleScenario(t *testing.T) {
	// 10 суток, одна строка в минуту
	rows := perMinute(10*24*60, 9)

	filtered := Resample(Window(rows, models.Range1d), 300*time.Second)
	require.NotEmpty(t, filtered)

	latest := maxTime(rows)
	first, last := filtered[0], filtered[len(filtered)-1]

	require.LessOrEqual(t, last.Timestamp.Sub(first.Timestamp), 24*time.Hour)
	require.Equal(t, latest.Add(-24*time.Hour), first.Timestamp)
	require.Equal(t, latest, last.Timestamp)

	for i := 1; i < len(filtered)-1; i++ {
		require.GreaterOrEqual(t, filtered[i].Timestamp.Sub(filtered[i-1].Timestamp), 300*time.Second)
	}
}
