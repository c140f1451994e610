// Package mqttsource keeps the most recent meter reading published on an MQTT topic.
package mqttsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bill_predictor/internal/ingest"
	"bill_predictor/internal/model"
)

var ErrNotConnected = errors.New("mqttsource: not connected")

// Payload is the JSON body carried by each meter message. total_kwh is
// required; the other channels default to zero.
type Payload struct {
	Current  float64  `json:"current"`
	Voltage  float64  `json:"voltage"`
	Power    float64  `json:"power"`
	TotalKWh *float64 `json:"total_kwh"`
	Time     string   `json:"time,omitempty"`
}

func PayloadFromReading(r model.MeterReading) Payload {
	total := r.TotalKWh
	p := Payload{
		Current:  r.Current,
		Voltage:  r.Voltage,
		Power:    r.Power,
		TotalKWh: &total,
	}
	if !r.Time.IsZero() {
		p.Time = r.Time.UTC().Format(time.RFC3339Nano)
	}
	return p
}

func (p Payload) Reading() (model.MeterReading, error) {
	if p.TotalKWh == nil {
		return model.MeterReading{}, fmt.Errorf("payload without total_kwh: %w", model.ErrBadTotal)
	}
	r := model.MeterReading{
		Current:  p.Current,
		Voltage:  p.Voltage,
		Power:    p.Power,
		TotalKWh: *p.TotalKWh,
	}
	if err := model.CheckTotal(r.TotalKWh); err != nil {
		return model.MeterReading{}, err
	}
	if p.Time != "" {
		ts, err := ingest.ParseTimestamp(p.Time)
		if err != nil {
			return r, err
		}
		r.Time = ts
	}
	return r, nil
}

type Source struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger

	mu      sync.RWMutex
	latest  model.MeterReading
	hasData bool
}

func New(topic string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{topic: topic, logger: logger}
}

// Connect dials the broker and subscribes to the meter topic.
func (s *Source) Connect(broker, clientID string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	// Resubscribe after every (re)connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.topic, 1, s.handle)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt_subscribe_failed", "topic", s.topic, "error", err)
			return
		}
		s.logger.Info("mqtt_subscribed", "topic", s.topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt_connection_lost", "error", err)
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	s.client = c
	return nil
}

func (s *Source) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

// LatestReading returns the newest reading received so far.
func (s *Source) LatestReading(ctx context.Context) (model.MeterReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.MeterReading{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasData, nil
}

func (s *Source) handle(_ mqtt.Client, msg mqtt.Message) {
	var p Payload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		s.logger.Warn("mqtt_bad_payload", "topic", msg.Topic(), "error", err)
		return
	}
	r, err := p.Reading()
	if err != nil {
		s.logger.Warn("mqtt_bad_reading", "topic", msg.Topic(), "error", err)
		return
	}
	s.update(r)
}

// update keeps r unless it is older than the cached reading.
func (s *Source) update(r model.MeterReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasData && !r.Time.IsZero() && r.Time.Before(s.latest.Time) {
		return
	}
	s.latest = r
	s.hasData = true
}

// Publish sends one reading to topic and waits for the broker to accept it.
func Publish(client mqtt.Client, topic string, r model.MeterReading) error {
	if client == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(PayloadFromReading(r))
	if err != nil {
		return err
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}
