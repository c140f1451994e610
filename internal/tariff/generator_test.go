package tariff

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bill_predictor/internal/predictor"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(200, 42)
	b := Generate(200, 42)
	c := Generate(200, 43)

	require.Len(t, a, 200)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerate_Ranges(t *testing.T) {
	for _, s := range Generate(500, 7) {
		assert.GreaterOrEqual(t, s.KWh, MinKWh)
		assert.LessOrEqual(t, s.KWh, MaxKWh)
		assert.Greater(t, s.Bill, 0.0)
	}
}

func TestGenerate_BillWithinTariffBounds(t *testing.T) {
	for _, s := range Generate(500, 11) {
		lo, hi := billBounds(s.KWh)
		// Noise has a 3% standard deviation; 20% is far outside it.
		assert.GreaterOrEqual(t, s.Bill, lo*0.8, "kWh=%.2f", s.KWh)
		assert.LessOrEqual(t, s.Bill, hi*1.2, "kWh=%.2f", s.KWh)
	}
}

func TestGenerate_NonPositive(t *testing.T) {
	assert.Nil(t, Generate(0, 42))
	assert.Nil(t, Generate(-3, 42))
}

func TestGenerateWithAnchors(t *testing.T) {
	samples := GenerateWithAnchors(200, 42)
	require.Len(t, samples, 205)

	assert.Equal(t, Generate(200, 42), samples[:200])
	assert.Equal(t, []predictor.Sample{
		{KWh: 1, Bill: 50},
		{KWh: 3, Bill: 55},
		{KWh: 5, Bill: 60},
		{KWh: 7, Bill: 65},
		{KWh: 10, Bill: 70},
	}, samples[200:])
}

func TestAnchors_ReturnsCopy(t *testing.T) {
	a := Anchors()
	a[0].Bill = 0
	assert.Equal(t, 50.0, Anchors()[0].Bill)
}

func TestBandIndex(t *testing.T) {
	tests := []struct {
		kwh  float64
		want int
	}{
		{10, 0},
		{100, 0},
		{100.01, 1},
		{300, 1},
		{450, 2},
		{500, 2},
		{500.5, 3},
		{800, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bandIndex(tt.kwh), "kWh=%v", tt.kwh)
	}
}

func TestTieredBill_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 0))
	tests := []struct {
		kwh    float64
		lo, hi float64
	}{
		{80, 80 * 3, 80 * 4},
		{250, 100*3 + 150*5, 100*4 + 150*7},
		{400, 100*3 + 200*5 + 100*7, 100*4 + 200*7 + 100*9},
		{700, 100*3 + 200*5 + 200*7 + 200*9, 100*4 + 200*7 + 200*9 + 200*11},
	}
	for _, tt := range tests {
		for range 50 {
			got := tieredBill(rng, tt.kwh)
			assert.GreaterOrEqual(t, got, tt.lo, "kWh=%v", tt.kwh)
			assert.LessOrEqual(t, got, tt.hi, "kWh=%v", tt.kwh)
		}
	}
}

func TestTrainPredictor_Reproducible(t *testing.T) {
	cfg := predictor.DefaultFitConfig()

	m1, split1, err := TrainPredictor(200, 42, cfg)
	require.NoError(t, err)
	m2, split2, err := TrainPredictor(200, 42, cfg)
	require.NoError(t, err)

	assert.Equal(t, m1, m2)
	assert.Equal(t, split1, split2)
	assert.Equal(t, 164, m1.TrainSamples)
	assert.Equal(t, 41, m1.TestSamples)
}

func TestTrainPredictor_Shape(t *testing.T) {
	m, split, err := TrainPredictor(200, 42, predictor.DefaultFitConfig())
	require.NoError(t, err)

	// Tiered rates make the line steep with a strongly negative intercept.
	assert.Greater(t, m.Slope, 6.0)
	assert.Less(t, m.Slope, 10.0)
	assert.Less(t, m.Intercept, 0.0)

	metrics := predictor.Evaluate(m, split.Test)
	assert.Greater(t, metrics.R2, 0.9)
}

func TestTrainPredictor_LowConsumptionFloor(t *testing.T) {
	m, _, err := TrainPredictor(200, 42, predictor.DefaultFitConfig())
	require.NoError(t, err)

	for _, a := range Anchors() {
		got := m.Predict(a.KWh)
		assert.Equal(t, predictor.DefaultFloor, got, "kWh=%v", a.KWh)
		assert.InDelta(t, a.Bill, got, 30, "kWh=%v", a.KWh)
	}
	for kwh := 0.0; kwh <= 40; kwh += 2.5 {
		assert.Less(t, m.Raw(kwh), predictor.DefaultFloor)
		assert.Equal(t, predictor.DefaultFloor, m.Predict(kwh))
	}

	assert.Greater(t, m.Predict(120), predictor.DefaultFloor)
}

// billBounds returns the noiseless min and max bill for kwh.
func billBounds(kwh float64) (lo, hi float64) {
	top := bandIndex(kwh)
	prev := 0.0
	for i := 0; i < top; i++ {
		lo += (bands[i].UpTo - prev) * bands[i].MinRate
		hi += (bands[i].UpTo - prev) * bands[i].MaxRate
		prev = bands[i].UpTo
	}
	lo += (kwh - prev) * bands[top].MinRate
	hi += (kwh - prev) * bands[top].MaxRate

	if kwh < lowFixedChargeKWh {
		return lo + 20, hi + 50
	}
	return lo + 50, hi + 150
}
