package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"bill_predictor/internal/model"
)

var meterColumns = []string{"current", "voltage", "power", "total_kwh", "time"}

// MeterDataParser parses CSV exports of the meter_data table.
//
// Columns are matched by name, so the export may carry them in any order and
// include extra columns such as id:
//
//	id,current,voltage,power,total_kwh,time
//	17,1.52,231.4,351.7,120.25,2025-03-14 12:00:03.512+00
type MeterDataParser struct{}

func (p *MeterDataParser) Parse(r io.Reader) ([]model.MeterReading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var readings []model.MeterReading
	lineNum := 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		reading, err := parseMeterRecord(record, cols, lineNum)
		if err != nil {
			// Skip rows with missing, non-numeric or non-finite values.
			continue
		}
		readings = append(readings, reading)
	}

	return readings, nil
}

func indexColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range meterColumns {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing column %q in header %q", want, strings.Join(header, ","))
		}
	}
	return cols, nil
}

func parseMeterRecord(record []string, cols map[string]int, lineNum int) (model.MeterReading, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(record) {
			return "", fmt.Errorf("line %d: missing %s", lineNum, name)
		}
		return strings.TrimSpace(record[i]), nil
	}

	var values [4]float64
	for i, name := range meterColumns[:4] {
		raw, err := field(name)
		if err != nil {
			return model.MeterReading{}, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.MeterReading{}, fmt.Errorf("line %d: parsing %s %q: %w", lineNum, name, raw, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.MeterReading{}, fmt.Errorf("line %d: %s is %v", lineNum, name, v)
		}
		values[i] = v
	}

	raw, err := field("time")
	if err != nil {
		return model.MeterReading{}, err
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return model.MeterReading{}, fmt.Errorf("line %d: %w", lineNum, err)
	}

	return model.MeterReading{
		Current:  values[0],
		Voltage:  values[1],
		Power:    values[2],
		TotalKWh: values[3],
		Time:     ts,
	}, nil
}
