package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/crstnmac/FencePing-sub003/module/engine/domain"
	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/publisher"
)

var _ publisher.EventStreamPublisher = (*EventPublisher)(nil)

const (
	eventsExchange = "geofence.events"
	eventsQueue    = "geofence_events"
)

// EventPublisher publishes transition events to a durable topic exchange.
// The routing key is the device id, which keeps per-device ordering for
// any consumer binding on a device pattern.
type EventPublisher struct {
	ch *amqp.Channel
}

func NewEventPublisher(conn *amqp.Connection) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(eventsQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(eventsQueue, "#", eventsExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &EventPublisher{ch: ch}, nil
}

type eventMessage struct {
	ID         string  `json:"id"`
	DeviceID   string  `json:"device_id"`
	GeofenceID string  `json:"geofence_id"`
	AccountID  string  `json:"account_id"`
	EventType  string  `json:"event_type"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Timestamp  int64   `json:"timestamp"`
}

func (p *EventPublisher) Publish(ctx context.Context, ev *domain.GeofenceEvent) error {
	msg := eventMessage{
		ID:         ev.ID,
		DeviceID:   ev.DeviceID,
		GeofenceID: ev.GeofenceID,
		AccountID:  ev.AccountID,
		EventType:  string(ev.Type),
		Latitude:   ev.Point.Lat,
		Longitude:  ev.Point.Lon,
		Timestamp:  ev.Timestamp.UnixMilli(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx, eventsExchange, ev.DeviceID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Body:         body,
	})
}
