// Package tariff generates synthetic (consumption, bill) pairs that follow a
// tiered residential electricity tariff.
package tariff

import (
	"math/rand/v2"

	"bill_predictor/internal/predictor"
)

const (
	MinKWh = 10.0
	MaxKWh = 800.0

	// Consumption below this pays the low fixed charge.
	lowFixedChargeKWh = 50.0
	noiseFraction     = 0.03
)

// Band is one tier of the tariff. UpTo is the inclusive upper bound in kWh;
// the last band has no upper bound.
type Band struct {
	UpTo    float64
	MinRate float64
	MaxRate float64
}

var bands = []Band{
	{UpTo: 100, MinRate: 3, MaxRate: 4},
	{UpTo: 300, MinRate: 5, MaxRate: 7},
	{UpTo: 500, MinRate: 7, MaxRate: 9},
	{UpTo: 0, MinRate: 9, MaxRate: 11},
}

// Bands returns a copy of the tariff tiers, lowest first.
func Bands() []Band {
	return append([]Band(nil), bands...)
}

var anchors = []predictor.Sample{
	{KWh: 1, Bill: 50},
	{KWh: 3, Bill: 55},
	{KWh: 5, Bill: 60},
	{KWh: 7, Bill: 65},
	{KWh: 10, Bill: 70},
}

// Anchors returns the fixed low-consumption points appended to generated data.
func Anchors() []predictor.Sample {
	return append([]predictor.Sample(nil), anchors...)
}

// Generate draws n samples. The same (n, seed) always yields the same samples.
//
// Draw order: all consumption values, then per sample the marginal rate of its
// own band followed by the lower bands' rates, then all fixed charges, then all
// noise terms.
func Generate(n int, seed uint64) []predictor.Sample {
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, 0))

	samples := make([]predictor.Sample, n)
	for i := range samples {
		samples[i].KWh = uniform(rng, MinKWh, MaxKWh)
	}

	for i := range samples {
		samples[i].Bill = tieredBill(rng, samples[i].KWh)
	}

	for i := range samples {
		if samples[i].KWh < lowFixedChargeKWh {
			samples[i].Bill += uniform(rng, 20, 50)
		} else {
			samples[i].Bill += uniform(rng, 50, 150)
		}
	}

	for i := range samples {
		samples[i].Bill += rng.NormFloat64() * samples[i].Bill * noiseFraction
	}

	return samples
}

// GenerateWithAnchors returns Generate(n, seed) followed by the anchor points.
func GenerateWithAnchors(n int, seed uint64) []predictor.Sample {
	return append(Generate(n, seed), anchors...)
}

// TrainPredictor generates a training set and fits the bill predictor on it.
func TrainPredictor(n int, seed uint64, cfg predictor.FitConfig) (*predictor.Model, predictor.Split, error) {
	return predictor.Fit(GenerateWithAnchors(n, seed), cfg)
}

// tieredBill prices kwh across the bands. The band kwh falls in is drawn
// first; every lower band then gets its own rate, lowest first, billed for its
// full width.
func tieredBill(rng *rand.Rand, kwh float64) float64 {
	top := bandIndex(kwh)
	lower := 0.0
	if top > 0 {
		lower = bands[top-1].UpTo
	}

	bill := (kwh - lower) * uniform(rng, bands[top].MinRate, bands[top].MaxRate)

	prev := 0.0
	for i := 0; i < top; i++ {
		bill += (bands[i].UpTo - prev) * uniform(rng, bands[i].MinRate, bands[i].MaxRate)
		prev = bands[i].UpTo
	}
	return bill
}

func bandIndex(kwh float64) int {
	for i, b := range bands[:len(bands)-1] {
		if kwh <= b.UpTo {
			return i
		}
	}
	return len(bands) - 1
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}
