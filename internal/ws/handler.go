package ws

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"bill_predictor/internal/model"
	"bill_predictor/internal/store"
)

const (
	DefaultHistoryLimit = 50

	// MaxReadingsPerRequest caps a readings:history reply; the newest readings win.
	MaxReadingsPerRequest = 1000
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Predictor interface {
	Predict(kwh float64) float64
}

// Handler serves the dashboard feed: it replays recent history on connect,
// answers what-if prediction requests and serves buffered readings by range.
type Handler struct {
	hub          *Hub
	history      *store.Store
	predictor    Predictor
	historyLimit int
}

func NewHandler(hub *Hub, history *store.Store, predictor Predictor) *Handler {
	return &Handler{
		hub:          hub,
		history:      history,
		predictor:    predictor,
		historyLimit: DefaultHistoryLimit,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := newClient(h.hub, conn)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	go client.writePump()

	h.sendHistory(client)
	h.sendLatestReading(client)

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Printf("Invalid message: %v", err)
		return
	}

	switch env.Type {
	case TypePredictRequest:
		var p PredictRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, "invalid predict:request payload")
			return
		}
		if p.KWh < 0 || math.IsNaN(p.KWh) || math.IsInf(p.KWh, 0) {
			h.sendError(c, "kwh must be a non-negative number")
			return
		}
		bill := model.RoundBill(h.predictor.Predict(p.KWh))
		h.send(c, TypePredictResult, PredictResultPayload{KWh: p.KWh, Bill: bill})

	case TypeReadingsRequest:
		var p ReadingsRequestPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.sendError(c, "invalid readings:request payload")
				return
			}
		}
		h.sendReadings(c, p)

	default:
		log.Printf("Unknown message type: %s", env.Type)
	}
}

func (h *Handler) sendHistory(c *Client) {
	recent := h.history.RecentPredictions(h.historyLimit)
	payload := PredictionsHistoryPayload{Predictions: make([]PredictionPayload, 0, len(recent))}
	for _, rec := range recent {
		payload.Predictions = append(payload.Predictions, PredictionFromModel(rec))
	}
	h.send(c, TypePredictionsHistory, payload)
}

func (h *Handler) sendReadings(c *Client, p ReadingsRequestPayload) {
	payload := ReadingsHistoryPayload{Readings: []MeterReadingPayload{}}

	span, ok := h.history.TimeRange()
	if !ok {
		h.send(c, TypeReadingsHistory, payload)
		return
	}
	from, to := span.Start, span.End.Add(time.Nanosecond)
	var err error
	if p.From != "" {
		if from, err = time.Parse(time.RFC3339Nano, p.From); err != nil {
			h.sendError(c, "from must be an RFC 3339 timestamp")
			return
		}
	}
	if p.To != "" {
		if to, err = time.Parse(time.RFC3339Nano, p.To); err != nil {
			h.sendError(c, "to must be an RFC 3339 timestamp")
			return
		}
	}
	if !from.Before(to) {
		h.sendError(c, "from must be before to")
		return
	}

	readings := h.history.ReadingsInRange(from, to)
	if len(readings) > MaxReadingsPerRequest {
		readings = readings[len(readings)-MaxReadingsPerRequest:]
		payload.Truncated = true
	}
	for _, r := range readings {
		payload.Readings = append(payload.Readings, MeterReadingFromModel(r))
	}
	h.send(c, TypeReadingsHistory, payload)
}

func (h *Handler) sendLatestReading(c *Client) {
	r, ok, err := h.history.LatestReading(context.Background())
	if err != nil || !ok {
		return
	}
	h.send(c, TypeMeterReading, MeterReadingFromModel(r))
}

func (h *Handler) sendError(c *Client, message string) {
	h.send(c, TypeError, ErrorPayload{Message: message})
}

// send queues a message for one client. It is a no-op once the client has
// been removed from the hub.
func (h *Handler) send(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("Error creating %s message: %v", msgType, err)
		return
	}
	h.hub.Send(c, msg)
}
