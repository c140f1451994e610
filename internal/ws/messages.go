package ws

import (
	"encoding/json"
	"time"

	"bill_predictor/internal/model"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypePredictRequest  = "predict:request"
	TypeReadingsRequest = "readings:request"

	// Server -> Client
	TypeMeterReading       = "meter:reading"
	TypePredictionNew      = "prediction:new"
	TypePredictionsHistory = "predictions:history"
	TypePredictResult      = "predict:result"
	TypeReadingsHistory    = "readings:history"
	TypeError              = "error"
)

// Client -> Server messages

type PredictRequestPayload struct {
	KWh float64 `json:"kwh"`
}

// ReadingsRequestPayload asks for buffered readings in [From, To). Both are
// RFC 3339 timestamps; an empty bound means the edge of the buffer.
type ReadingsRequestPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Server -> Client messages

type SensorValue struct {
	Sensor string  `json:"sensor"`
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Value  float64 `json:"value"`
}

type MeterReadingPayload struct {
	Timestamp string        `json:"timestamp,omitempty"`
	TotalKWh  float64       `json:"total_kwh"`
	Values    []SensorValue `json:"values"`
}

type PredictionPayload struct {
	ID            string  `json:"id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	PredictedKWh  string  `json:"predicted_kwh"`
	PredictedBill float64 `json:"predicted_bill"`
}

type PredictionsHistoryPayload struct {
	Predictions []PredictionPayload `json:"predictions"`
}

type ReadingsHistoryPayload struct {
	Readings  []MeterReadingPayload `json:"readings"`
	Truncated bool                  `json:"truncated,omitempty"`
}

type PredictResultPayload struct {
	KWh  float64 `json:"kwh"`
	Bill float64 `json:"bill"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func MeterReadingFromModel(r model.MeterReading) MeterReadingPayload {
	p := MeterReadingPayload{
		TotalKWh: r.TotalKWh,
		Values:   make([]SensorValue, 0, len(model.SensorOrder)),
	}
	if !r.Time.IsZero() {
		p.Timestamp = r.Time.UTC().Format(time.RFC3339Nano)
	}
	for _, st := range model.SensorOrder {
		v, _ := r.Value(st)
		info := model.SensorCatalog[st]
		p.Values = append(p.Values, SensorValue{
			Sensor: string(st),
			Name:   info.Name,
			Unit:   info.Unit,
			Value:  v,
		})
	}
	return p
}

func PredictionFromModel(rec model.PredictionRecord) PredictionPayload {
	return PredictionPayload{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAtISO(),
		PredictedKWh:  rec.PredictedKWh,
		PredictedBill: rec.PredictedBill,
	}
}
