package ws

import (
	"context"
	"log"

	"bill_predictor/internal/model"
	"bill_predictor/internal/store"
)

// Bridge implements updater.Notifier. It broadcasts loop events to the hub
// and keeps a bounded history for clients that connect later.
type Bridge struct {
	hub     *Hub
	history *store.Store
}

func NewBridge(hub *Hub, history *store.Store) *Bridge {
	return &Bridge{hub: hub, history: history}
}

func (b *Bridge) OnReading(r model.MeterReading) {
	b.history.AddReadings([]model.MeterReading{r})

	msg, err := NewEnvelope(TypeMeterReading, MeterReadingFromModel(r))
	if err != nil {
		log.Printf("Error marshaling meter reading: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnPrediction(rec model.PredictionRecord) {
	msg, err := NewEnvelope(TypePredictionNew, PredictionFromModel(rec))
	if err != nil {
		log.Printf("Error marshaling prediction: %v", err)
		return
	}
	if err := b.history.InsertPrediction(context.Background(), rec); err != nil {
		log.Printf("Error recording prediction history: %v", err)
	}
	b.hub.Broadcast(msg)
}
