// sample-predict prints predicted bills over a range of monthly consumption
// using a saved model, or a freshly trained one when no model file exists.
//
// Usage:
//
//	sample-predict
//	sample-predict -from 0 -to 800 -step 50
//	sample-predict -model model/bill.json -csv
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"bill_predictor/internal/model"
	"bill_predictor/internal/predictor"
	"bill_predictor/internal/tariff"
)

func main() {
	modelPath := flag.String("model", "model/bill.json", "path to model JSON")
	from := flag.Float64("from", 0, "first kWh value")
	to := flag.Float64("to", 600, "last kWh value")
	step := flag.Float64("step", 25, "kWh increment")
	csvOut := flag.Bool("csv", false, "output as CSV")
	flag.Parse()

	if *step <= 0 || *to < *from {
		fmt.Fprintln(os.Stderr, "Need step > 0 and to >= from")
		os.Exit(1)
	}

	m, source, err := loadOrTrain(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
		os.Exit(1)
	}

	if !*csvOut {
		fmt.Printf("Model: %s\n", source)
		fmt.Printf("bill = %.2f + %.2f * kWh (floor %.0f)\n\n", m.Intercept, m.Slope, m.Floor)
	}
	printTable(os.Stdout, m, *from, *to, *step, *csvOut)
}

func loadOrTrain(path string) (*predictor.Model, string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m, _, err := tariff.TrainPredictor(200, 42, predictor.DefaultFitConfig())
		return m, "trained (200 samples, seed 42)", err
	}
	if err != nil {
		return nil, "", err
	}
	m, err := predictor.Load(data)
	return m, path, err
}

func printTable(w io.Writer, m *predictor.Model, from, to, step float64, csvOut bool) {
	if csvOut {
		fmt.Fprintln(w, "kwh,predicted_kwh,predicted_bill")
	} else {
		fmt.Fprintf(w, "%9s  %12s\n", "kWh", "Bill")
		fmt.Fprintf(w, "%9s  %12s\n", "---------", "------------")
	}

	n := int((to-from)/step + 1e-9)
	for i := 0; i <= n; i++ {
		kwh := from + float64(i)*step
		bill := model.RoundBill(m.Predict(kwh))
		if csvOut {
			fmt.Fprintf(w, "%g,%s,%.2f\n", kwh, model.FormatKWh(kwh), bill)
		} else {
			fmt.Fprintf(w, "%9.1f  %12.2f\n", kwh, bill)
		}
	}
}
