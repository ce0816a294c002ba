package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Drives a small device fleet through an enter, dwell and exit
// trajectory against a circle fence, for exercising the engine end to
// end.

type locationMessage struct {
	DeviceID  string  `json:"device_id"`
	AccountID string  `json:"account_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

const (
	accountID = "acct-demo"
	fenceLat  = -6.2088
	fenceLon  = 106.8456
)

// phases of one loop: approach from ~2km out, sit on the center long
// enough to dwell, then leave again.
var offsets = []float64{0.02, 0.01, 0.004, 0.0, 0.0, 0.0, 0.0, 0.004, 0.01, 0.02}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_seconds>\n", os.Args[0])
		os.Exit(1)
	}

	intervalSec, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalSec <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}

	broker := "tcp://localhost:1883"
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		broker = v
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fenceping-simulator")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqtt connect: %v", token.Error())
	}
	defer client.Disconnect(250)

	devices := []string{"dev-alpha", "dev-bravo", "dev-charlie"}
	steps := make(map[string]int, len(devices))

	log.Printf("connected to %s, publishing every %ds...", broker, intervalSec)

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for _, dev := range devices {
			off := offsets[steps[dev]%len(offsets)]
			steps[dev]++

			msg := locationMessage{
				DeviceID:  dev,
				AccountID: accountID,
				Latitude:  fenceLat + off,
				Longitude: fenceLon,
				Accuracy:  5 + rand.Float64()*10,
				Timestamp: time.Now().UnixMilli(),
			}

			payload, _ := json.Marshal(msg)
			topic := fmt.Sprintf("devices/%s/location", dev)

			token := client.Publish(topic, 1, false, payload)
			token.Wait()

			log.Printf("published to %s: %s", topic, payload)
		}
	}
}
