// train-predictor generates the synthetic tiered-tariff dataset, fits the
// linear bill model and writes it as JSON for the server to load.
//
// Usage:
//
//	train-predictor
//	train-predictor -samples 1000 -seed 7 -output model/bill.json
//	train-predictor -dataset model/dataset.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"bill_predictor/internal/predictor"
	"bill_predictor/internal/tariff"
)

func main() {
	samples := flag.Int("samples", 200, "synthetic samples to generate (anchors are added on top)")
	seed := flag.Uint64("seed", 42, "random seed for data generation")
	splitSeed := flag.Uint64("split-seed", 42, "random seed for the train/test split")
	testFraction := flag.Float64("test-fraction", 0.2, "share of samples held out for evaluation")
	output := flag.String("output", "model/bill.json", "path to write model JSON")
	dataset := flag.String("dataset", "", "optional path to write the generated samples as CSV")
	flag.Parse()

	fmt.Println("Tariff bands:")
	lower := 0.0
	for _, b := range tariff.Bands() {
		if b.UpTo == 0 {
			fmt.Printf("  above %4.0f kWh → %.0f-%.0f per kWh\n", lower, b.MinRate, b.MaxRate)
			continue
		}
		fmt.Printf("  %4.0f-%4.0f kWh → %.0f-%.0f per kWh\n", lower, b.UpTo, b.MinRate, b.MaxRate)
		lower = b.UpTo
	}

	data := tariff.GenerateWithAnchors(*samples, *seed)
	fmt.Printf("\nGenerated %d samples (%d synthetic + %d anchors), seed=%d\n",
		len(data), *samples, len(tariff.Anchors()), *seed)

	if *dataset != "" {
		if err := writeDataset(*dataset, data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing dataset: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Dataset saved to %s\n", *dataset)
	}

	cfg := predictor.FitConfig{TestFraction: *testFraction, SplitSeed: *splitSeed, Floor: predictor.DefaultFloor}
	m, split, err := predictor.Fit(data, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fitting model: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== Bill Model ===\n")
	fmt.Printf("bill = %.4f + %.4f * kWh (floor %.0f)\n", m.Intercept, m.Slope, m.Floor)
	if m.Slope > 0 {
		fmt.Printf("Floor applies below %.1f kWh\n", (m.Floor-m.Intercept)/m.Slope)
	}

	train := predictor.Evaluate(m, split.Train)
	test := predictor.Evaluate(m, split.Test)
	fmt.Printf("\n%-6s  %5s  %9s  %9s  %6s\n", "Split", "N", "RMSE", "MAE", "R2")
	fmt.Printf("%-6s  %5d  %9.2f  %9.2f  %6.3f\n", "train", train.N, train.RMSE, train.MAE, train.R2)
	fmt.Printf("%-6s  %5d  %9.2f  %9.2f  %6.3f\n", "test", test.N, test.RMSE, test.MAE, test.R2)

	fmt.Println("\nSample predictions:")
	for _, kwh := range []float64{10, 50, 120, 250, 400, 650} {
		fmt.Printf("  %4.0f kWh → %8.2f\n", kwh, m.Predict(kwh))
	}

	out, err := m.Save()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing model: %v\n", err)
		os.Exit(1)
	}
	if dir := filepath.Dir(*output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
	}
	if err := os.WriteFile(*output, out, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing model to %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("\nModel saved to %s (%d bytes)\n", *output, len(out))
}

func writeDataset(path string, data []predictor.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"kwh", "bill"}); err != nil {
		return err
	}
	for _, s := range data {
		row := []string{
			strconv.FormatFloat(s.KWh, 'f', -1, 64),
			strconv.FormatFloat(s.Bill, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
