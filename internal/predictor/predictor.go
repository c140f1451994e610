package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// DefaultFloor is the minimum bill the model will ever predict.
const DefaultFloor = 40.0

var (
	ErrNoSamples      = errors.New("no training samples")
	ErrTooFewDistinct = errors.New("fewer than 2 distinct consumption values")
	ErrInvalidModel   = errors.New("invalid model")
)

// Sample is a single (consumption, bill) training example.
type Sample struct {
	KWh  float64
	Bill float64
}

// FitConfig controls the train/test split and the prediction floor.
// A Floor below DefaultFloor is raised to DefaultFloor.
type FitConfig struct {
	TestFraction float64
	SplitSeed    uint64
	Floor        float64
}

func DefaultFitConfig() FitConfig {
	return FitConfig{
		TestFraction: 0.2,
		SplitSeed:    42,
		Floor:        DefaultFloor,
	}
}

// Split is the partition used by Fit. Test is held out for offline evaluation.
type Split struct {
	Train []Sample
	Test  []Sample
}

// Model is an ordinary least squares line bill = Intercept + Slope*kWh.
type Model struct {
	Intercept    float64 `json:"intercept"`
	Slope        float64 `json:"slope"`
	Floor        float64 `json:"floor"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  int     `json:"test_samples"`
}

// Fit splits samples and fits an OLS line on the training partition.
func Fit(samples []Sample, cfg FitConfig) (*Model, Split, error) {
	if len(samples) == 0 {
		return nil, Split{}, ErrNoSamples
	}

	split := ShuffleAndSplit(samples, cfg.TestFraction, rand.New(rand.NewPCG(cfg.SplitSeed, 0)))
	if distinctKWh(split.Train) < 2 {
		return nil, split, fmt.Errorf("fitting on %d samples: %w", len(split.Train), ErrTooFewDistinct)
	}

	x := make([]float64, len(split.Train))
	y := make([]float64, len(split.Train))
	for i, s := range split.Train {
		x[i] = s.KWh
		y[i] = s.Bill
	}
	intercept, slope := stat.LinearRegression(x, y, nil, false)

	return &Model{
		Intercept:    intercept,
		Slope:        slope,
		Floor:        max(cfg.Floor, DefaultFloor),
		TrainSamples: len(split.Train),
		TestSamples:  len(split.Test),
	}, split, nil
}

// Raw returns the unclamped regression value.
func (m *Model) Raw(kwh float64) float64 {
	return m.Intercept + m.Slope*kwh
}

// Predict returns the predicted bill for a consumption value. The result is
// never below Floor, and never below DefaultFloor whatever Floor holds.
func (m *Model) Predict(kwh float64) float64 {
	floor := m.EffectiveFloor()
	p := m.Raw(kwh)
	if !(p >= floor) {
		return floor
	}
	return p
}

func (m *Model) EffectiveFloor() float64 {
	if !(m.Floor >= DefaultFloor) {
		return DefaultFloor
	}
	return m.Floor
}

// Save serializes the model to JSON.
func (m *Model) Save() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Load deserializes a model from JSON. A missing or too low floor is raised
// to DefaultFloor.
func Load(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.TrainSamples < 2 {
		return nil, fmt.Errorf("%w: trained on %d samples", ErrInvalidModel, m.TrainSamples)
	}
	for name, v := range map[string]float64{"intercept": m.Intercept, "slope": m.Slope, "floor": m.Floor} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is %v", ErrInvalidModel, name, v)
		}
	}
	m.Floor = m.EffectiveFloor()
	return &m, nil
}

// ShuffleAndSplit shuffles a copy of samples and returns a train/test split.
// The test partition holds ceil(n*testFraction) samples.
func ShuffleAndSplit(samples []Sample, testFraction float64, rng *rand.Rand) Split {
	n := len(samples)
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest < 0 {
		nTest = 0
	}
	if nTest > n {
		nTest = n
	}
	nTrain := n - nTest

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	split := Split{
		Train: make([]Sample, nTrain),
		Test:  make([]Sample, nTest),
	}
	for i := 0; i < nTrain; i++ {
		split.Train[i] = samples[indices[i]]
	}
	for i := 0; i < nTest; i++ {
		split.Test[i] = samples[indices[nTrain+i]]
	}
	return split
}

func distinctKWh(samples []Sample) int {
	seen := make(map[float64]struct{}, len(samples))
	for _, s := range samples {
		seen[s.KWh] = struct{}{}
		if len(seen) > 1 {
			return len(seen)
		}
	}
	return len(seen)
}
