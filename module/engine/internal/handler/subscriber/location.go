package subscriber

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/observability"
)

const topicPattern = "devices/+/location"

type locationMessage struct {
	DeviceID  string          `json:"device_id"`
	AccountID string          `json:"account_id"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Accuracy  float64         `json:"accuracy"`
	Altitude  float64         `json:"altitude"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// LocationSubscriber reads location samples off MQTT and hands them to
// the partition pool. Auto-ack is disabled on the client: a message is
// acked only once its side effects are durably committed (or the sample
// is judged permanently unprocessable), which is the consumer-offset
// commit of this engine.
type LocationSubscriber struct {
	client mqtt.Client
	pool   *PartitionPool
	log    *zap.Logger
}

func NewLocationSubscriber(client mqtt.Client, pool *PartitionPool, log *zap.Logger) *LocationSubscriber {
	return &LocationSubscriber{
		client: client,
		pool:   pool,
		log:    log.With(zap.String("component", "location_subscriber")),
	}
}

func (s *LocationSubscriber) Start() error {
	token := s.client.Subscribe(topicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

// Stop unsubscribes so no new samples arrive; in-flight samples keep
// draining through the partition pool.
func (s *LocationSubscriber) Stop() {
	token := s.client.Unsubscribe(topicPattern)
	token.Wait()
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	observability.SamplesConsumed.Inc()

	sample, err := decodeSample(msg.Payload())
	if err != nil {
		observability.SamplesInvalid.Inc()
		s.log.Warn("dropping invalid location sample", zap.Error(err))
		msg.Ack()
		return
	}

	s.pool.Dispatch(inflightSample{
		sample:  sample,
		payload: msg.Payload(),
		ack:     msg.Ack,
	})
}

func decodeSample(payload []byte) (*domain.LocationSample, error) {
	var raw locationMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &domain.InvalidInputError{Reason: "malformed payload", Err: err}
	}

	if raw.DeviceID == "" {
		return nil, &domain.InvalidInputError{Reason: "device_id required"}
	}
	if raw.AccountID == "" {
		return nil, &domain.InvalidInputError{Reason: "account_id required"}
	}
	if math.IsNaN(raw.Latitude) || raw.Latitude < -90 || raw.Latitude > 90 ||
		math.IsNaN(raw.Longitude) || raw.Longitude < -180 || raw.Longitude > 180 {
		return nil, domain.InvalidCoordinate(raw.Latitude, raw.Longitude)
	}
	if raw.Accuracy < 0 {
		return nil, &domain.InvalidInputError{Reason: "accuracy must not be negative"}
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}

	return &domain.LocationSample{
		DeviceID:       raw.DeviceID,
		AccountID:      raw.AccountID,
		Point:          domain.GeoPoint{Lat: raw.Latitude, Lon: raw.Longitude},
		AccuracyMeters: raw.Accuracy,
		Altitude:       raw.Altitude,
		Timestamp:      ts,
	}, nil
}

// parseTimestamp accepts the two wire forms: epoch milliseconds as a
// JSON number or an ISO-8601 (RFC 3339) string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, &domain.InvalidInputError{Reason: "timestamp required"}
	}

	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, &domain.InvalidInputError{Reason: "malformed timestamp string", Err: err}
		}
		ts, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return time.Time{}, &domain.InvalidInputError{Reason: "timestamp not ISO-8601", Err: err}
		}
		return ts, nil
	}

	millis, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, &domain.InvalidInputError{Reason: "timestamp not epoch millis", Err: err}
	}
	if millis <= 0 {
		return time.Time{}, &domain.InvalidInputError{Reason: fmt.Sprintf("timestamp must be positive, got %d", millis)}
	}
	return time.UnixMilli(millis).UTC(), nil
}
