package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/crstnmac/FencePing-sub003/module/engine/internal/repository/publisher"
)

var _ publisher.DeadLetterPublisher = (*DeadLetterPublisher)(nil)

const deadLetterQueue = "geofence_deadletter"

// DeadLetterPublisher parks raw sample payloads that could not be
// processed within the retry budget, tagged with the failure reason for
// operator triage.
type DeadLetterPublisher struct {
	ch *amqp.Channel
}

func NewDeadLetterPublisher(conn *amqp.Connection) (*DeadLetterPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare dead-letter queue: %w", err)
	}

	return &DeadLetterPublisher{ch: ch}, nil
}

func (p *DeadLetterPublisher) Publish(ctx context.Context, payload []byte, reason string) error {
	return p.ch.PublishWithContext(ctx, "", deadLetterQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-failure-reason": reason},
		Body:         payload,
	})
}
