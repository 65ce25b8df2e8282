package analytics

type Summary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// MinMaxMean для пустого ряда возвращает нули
func MinMaxMean(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	return Summary{
		Min:   min,
		Max:   max,
		Mean:  sum / float64(len(values)),
		Count: len(values),
	}
}

// LinearTrend - МНК по индексу точки, а не по времени.
// Меньше двух точек - тренд не определён.
func LinearTrend(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	return SparseLinearTrend(idx, values, len(values))
}

// SparseLinearTrend строит прямую только по известным точкам (idx[i], values[i])
// и считает её значения для всех индексов 0..n-1.
func SparseLinearTrend(idx []int, values []float64, n int) []float64 {
	m := len(values)
	if m < 2 || len(idx) != m {
		return []float64{}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(idx[i])
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fm := float64(m)
	denom := fm*sumXX - sumX*sumX
	if denom == 0 {
		return []float64{}
	}
	slope := (fm*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fm

	trend := make([]float64, n)
	for i := range trend {
		trend[i] = slope*float64(i) + intercept
	}
	return trend
}

// MovingAverage: пока окно не заполнено, усредняем всё, что есть с начала ряда,
// дальше обычное скользящее среднее по последним windowSize точкам.
func MovingAverage(values []float64, windowSize int) []float64 {
	if windowSize <= 0 || len(values) < windowSize {
		return []float64{}
	}

	sma := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= windowSize {
			sum -= values[i-windowSize]
		}

		if i < windowSize-1 {
			sma[i] = sum / float64(i+1)
		} else {
			sma[i] = sum / float64(windowSize)
		}
	}
	return sma
}

// SmoothingWindow - размер окна для сглаженного ряда на сводных графиках
func SmoothingWindow(n int) int {
	return max(5, n/15)
}
