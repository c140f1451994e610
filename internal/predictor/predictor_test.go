package predictor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineSamples returns points exactly on bill = intercept + slope*kWh.
func lineSamples(n int, intercept, slope float64) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		kwh := float64(10 + i*5)
		samples[i] = Sample{KWh: kwh, Bill: intercept + slope*kwh}
	}
	return samples
}

func TestFit_RecoversExactLine(t *testing.T) {
	m, split, err := Fit(lineSamples(50, 25, 6.5), DefaultFitConfig())
	require.NoError(t, err)

	assert.InDelta(t, 25.0, m.Intercept, 1e-9)
	assert.InDelta(t, 6.5, m.Slope, 1e-9)
	assert.Equal(t, DefaultFloor, m.Floor)
	assert.Equal(t, 40, m.TrainSamples)
	assert.Equal(t, 10, m.TestSamples)
	assert.Len(t, split.Train, 40)
	assert.Len(t, split.Test, 10)
}

func TestFit_NoSamples(t *testing.T) {
	_, _, err := Fit(nil, DefaultFitConfig())
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestFit_TooFewDistinct(t *testing.T) {
	samples := []Sample{
		{KWh: 100, Bill: 500},
		{KWh: 100, Bill: 520},
		{KWh: 100, Bill: 480},
		{KWh: 100, Bill: 510},
		{KWh: 100, Bill: 490},
	}
	_, _, err := Fit(samples, DefaultFitConfig())
	assert.ErrorIs(t, err, ErrTooFewDistinct)
}

func TestFit_SingleSample(t *testing.T) {
	_, _, err := Fit([]Sample{{KWh: 10, Bill: 70}}, DefaultFitConfig())
	assert.ErrorIs(t, err, ErrTooFewDistinct)
}

func TestModel_PredictFloor(t *testing.T) {
	m := &Model{Intercept: -400, Slope: 8, Floor: DefaultFloor}

	assert.Equal(t, 40.0, m.Predict(0))
	assert.Equal(t, 40.0, m.Predict(10))
	assert.InDelta(t, -320.0, m.Raw(10), 1e-9)

	// 55 kWh lands exactly on the floor.
	assert.Equal(t, 40.0, m.Predict(55))
	assert.InDelta(t, 48.0, m.Predict(56), 1e-9)
	assert.InDelta(t, 560.0, m.Predict(120), 1e-9)
}

func TestModel_PredictNeverBelowFloor(t *testing.T) {
	m := &Model{Intercept: -1000, Slope: -3, Floor: DefaultFloor}
	for kwh := 0.0; kwh <= 1000; kwh += 7.5 {
		assert.GreaterOrEqual(t, m.Predict(kwh), DefaultFloor)
	}
}

func TestShuffleAndSplit_Sizes(t *testing.T) {
	samples := lineSamples(205, 0, 1)
	split := ShuffleAndSplit(samples, 0.2, rand.New(rand.NewPCG(42, 0)))

	assert.Len(t, split.Train, 164)
	assert.Len(t, split.Test, 41)

	// Every sample ends up in exactly one partition.
	seen := make(map[float64]int)
	for _, s := range append(append([]Sample(nil), split.Train...), split.Test...) {
		seen[s.KWh]++
	}
	assert.Len(t, seen, 205)
	for kwh, c := range seen {
		assert.Equal(t, 1, c, "kWh %v", kwh)
	}
}

func TestShuffleAndSplit_Deterministic(t *testing.T) {
	samples := lineSamples(100, 0, 1)
	a := ShuffleAndSplit(samples, 0.2, rand.New(rand.NewPCG(42, 0)))
	b := ShuffleAndSplit(samples, 0.2, rand.New(rand.NewPCG(42, 0)))
	c := ShuffleAndSplit(samples, 0.2, rand.New(rand.NewPCG(7, 0)))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestShuffleAndSplit_DoesNotMutateInput(t *testing.T) {
	samples := lineSamples(20, 0, 1)
	orig := append([]Sample(nil), samples...)
	ShuffleAndSplit(samples, 0.2, rand.New(rand.NewPCG(1, 0)))
	assert.Equal(t, orig, samples)
}

func TestModel_SaveLoadRoundtrip(t *testing.T) {
	m, _, err := Fit(lineSamples(30, -120, 7.25), DefaultFitConfig())
	require.NoError(t, err)

	data, err := m.Save()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	for _, kwh := range []float64{0, 12.5, 120, 799.9} {
		assert.Equal(t, m.Predict(kwh), loaded.Predict(kwh))
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load([]byte("not json"))
	assert.Error(t, err)

	_, err = Load([]byte(`{"intercept":1,"slope":2,"floor":40,"train_samples":1}`))
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestEvaluate(t *testing.T) {
	m := &Model{Intercept: 10, Slope: 2, Floor: DefaultFloor}

	perfect := Evaluate(m, lineSamples(10, 10, 2))
	assert.Equal(t, 10, perfect.N)
	assert.InDelta(t, 0.0, perfect.RMSE, 1e-9)
	assert.InDelta(t, 0.0, perfect.MAE, 1e-9)
	assert.InDelta(t, 1.0, perfect.R2, 1e-9)

	off := Evaluate(m, []Sample{{KWh: 0, Bill: 13}, {KWh: 10, Bill: 27}})
	assert.InDelta(t, 3.0, off.RMSE, 1e-9)
	assert.InDelta(t, 3.0, off.MAE, 1e-9)

	assert.Equal(t, Metrics{}, Evaluate(m, nil))
}

func TestLoad_MissingFloorKeepsDefault(t *testing.T) {
	m, err := Load([]byte(`{"intercept":-200,"slope":7.5,"train_samples":164,"test_samples":41}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultFloor, m.Floor)
	assert.Equal(t, DefaultFloor, m.Predict(5))
	assert.InDelta(t, 550.0, m.Predict(100), 1e-9)
}

func TestLoad_LowFloorRaised(t *testing.T) {
	m, err := Load([]byte(`{"intercept":-200,"slope":7.5,"floor":-10,"train_samples":164}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultFloor, m.Predict(0))
}

func TestLoad_OutOfRangeCoefficient(t *testing.T) {
	_, err := Load([]byte(`{"intercept":1e400,"slope":7.5,"floor":40,"train_samples":164}`))
	assert.Error(t, err)
}

func TestFit_ZeroFloorStillClamps(t *testing.T) {
	m, _, err := Fit(lineSamples(30, 0, 1), FitConfig{TestFraction: 0.2, SplitSeed: 1})
	require.NoError(t, err)

	assert.Equal(t, DefaultFloor, m.Floor)
	assert.Equal(t, DefaultFloor, m.Predict(1))
}

func TestModel_PredictZeroValueModel(t *testing.T) {
	var m Model
	assert.Equal(t, DefaultFloor, m.Predict(123))

	m.Floor = 75
	assert.Equal(t, 75.0, m.Predict(10))
}
