package model

import (
	"errors"
	"fmt"
	"time"
)

type SensorType string

const (
	SensorVoltage  SensorType = "voltage"
	SensorCurrent  SensorType = "current"
	SensorPower    SensorType = "power"
	SensorTotalKWh SensorType = "total_kwh"
)

// SensorInfo holds display name and unit for a sensor type.
type SensorInfo struct {
	Name string
	Unit string
}

// SensorCatalog maps every meter channel to its display name and unit.
var SensorCatalog = map[SensorType]SensorInfo{
	SensorVoltage:  {Name: "Voltage", Unit: "V"},
	SensorCurrent:  {Name: "Current", Unit: "A"},
	SensorPower:    {Name: "Power", Unit: "W"},
	SensorTotalKWh: {Name: "Total Consumption", Unit: "kWh"},
}

// SensorOrder lists the meter channels in display order.
var SensorOrder = []SensorType{SensorVoltage, SensorCurrent, SensorPower, SensorTotalKWh}

// MeterReading is one row of the meter_data table.
type MeterReading struct {
	Voltage  float64
	Current  float64
	Power    float64
	TotalKWh float64
	Time     time.Time
}

// Value returns the channel value for a sensor type.
func (r MeterReading) Value(st SensorType) (float64, bool) {
	switch st {
	case SensorVoltage:
		return r.Voltage, true
	case SensorCurrent:
		return r.Current, true
	case SensorPower:
		return r.Power, true
	case SensorTotalKWh:
		return r.TotalKWh, true
	}
	return 0, false
}

// ErrBadTotal marks a reading whose total_kwh is missing or not a finite number.
// Such a reading must not be fed to the predictor.
var ErrBadTotal = errors.New("total_kwh missing or not finite")

// CheckTotal returns an error wrapping ErrBadTotal unless kwh is finite.
func CheckTotal(kwh float64) error {
	if !isFinite(kwh) {
		return fmt.Errorf("%w: %v", ErrBadTotal, kwh)
	}
	return nil
}

// PredictionRecord is one row of the predictions table. ID is assigned by
// the sink and is empty until the record has been written.
type PredictionRecord struct {
	ID            string
	CreatedAt     time.Time
	PredictedKWh  string
	PredictedBill float64
}

// NewPredictionRecord builds a record from the consumption fed to the model
// and the bill it produced.
func NewPredictionRecord(createdAt time.Time, kwh, bill float64) PredictionRecord {
	return PredictionRecord{
		CreatedAt:     createdAt.UTC(),
		PredictedKWh:  FormatKWh(kwh),
		PredictedBill: RoundBill(bill),
	}
}

// CreatedAtISO formats CreatedAt the way the predictions table stores it.
func (p PredictionRecord) CreatedAtISO() string {
	return p.CreatedAt.UTC().Format(time.RFC3339Nano)
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}
