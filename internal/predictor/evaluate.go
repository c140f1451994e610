package predictor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes model error on a set of samples. Errors are measured on
// the raw regression line, not the floored prediction.
type Metrics struct {
	N    int     `json:"n"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

// Evaluate scores the model against samples, typically the held-out test split.
func Evaluate(m *Model, samples []Sample) Metrics {
	if len(samples) == 0 {
		return Metrics{}
	}

	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	var sumSq, sumAbs float64
	for i, s := range samples {
		x[i] = s.KWh
		y[i] = s.Bill
		diff := m.Raw(s.KWh) - s.Bill
		sumSq += diff * diff
		sumAbs += math.Abs(diff)
	}

	n := float64(len(samples))
	return Metrics{
		N:    len(samples),
		RMSE: math.Sqrt(sumSq / n),
		MAE:  sumAbs / n,
		R2:   stat.RSquared(x, y, nil, m.Intercept, m.Slope),
	}
}
