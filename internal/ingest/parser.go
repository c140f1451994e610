package ingest

import (
	"io"

	"bill_predictor/internal/model"
)

// Parser reads meter data from a source and returns readings.
type Parser interface {
	Parse(r io.Reader) ([]model.MeterReading, error)
}
