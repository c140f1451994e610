// meter-replay publishes meter_data rows from a CSV export to an MQTT topic,
// one row per tick, so the server's mqtt source can be exercised without a
// physical meter.
//
// Usage:
//
//	meter-replay -csv meter_data.csv
//	meter-replay -csv meter_data.csv -broker tcp://broker:1883 -interval 1s -loop
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bill_predictor/internal/config"
	"bill_predictor/internal/ingest"
	"bill_predictor/internal/model"
	"bill_predictor/internal/mqttsource"
)

func main() {
	config.LoadDotEnv(".env")

	csvPath := flag.String("csv", os.Getenv("READINGS_CSV"), "meter_data CSV export")
	broker := flag.String("broker", envOr("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	topic := flag.String("topic", envOr("MQTT_TOPIC", "smartmeter/readings"), "MQTT topic")
	interval := flag.Duration("interval", 3*time.Second, "delay between published readings")
	restamp := flag.Bool("restamp", true, "replace row timestamps with the publish time")
	loop := flag.Bool("loop", false, "start over after the last row")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("No CSV given, use -csv or READINGS_CSV")
	}
	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Opening %s: %v", *csvPath, err)
	}
	readings, err := (&ingest.MeterDataParser{}).Parse(f)
	f.Close()
	if err != nil {
		log.Fatalf("Parsing %s: %v", *csvPath, err)
	}
	if len(readings) == 0 {
		log.Fatalf("No readings in %s", *csvPath)
	}
	log.Printf("Loaded %d readings from %s", len(readings), *csvPath)

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("meter-replay-%d", os.Getpid()))
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("Connecting to %s: %v", *broker, token.Error())
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publish := func(r model.MeterReading) error {
		if *restamp {
			r.Time = time.Now().UTC()
		}
		return mqttsource.Publish(client, *topic, r)
	}

	for {
		n, err := replay(ctx, readings, *interval, publish)
		log.Printf("Published %d readings to %s", n, *topic)
		if err != nil || !*loop {
			return
		}
	}
}

// replay publishes readings in order, waiting interval between them. It
// returns early with ctx.Err() when ctx is cancelled. Failed publishes are
// logged and skipped.
func replay(ctx context.Context, readings []model.MeterReading, interval time.Duration, publish func(model.MeterReading) error) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for i, r := range readings {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-ticker.C:
			}
		}
		if err := publish(r); err != nil {
			log.Printf("Publish failed: %v", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
