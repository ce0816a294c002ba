package subscriber

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	changesExchange = "geofence.changes"
	changesQueue    = "geofence_changes"
)

type changeMessage struct {
	AccountID string `json:"account_id"`
}

// ChangeListener consumes geofence change notifications published by the
// CRUD system and forwards the affected account ids to the index for
// invalidation.
type ChangeListener struct {
	conn *amqp.Connection
	log  *zap.Logger
}

func NewChangeListener(conn *amqp.Connection, log *zap.Logger) *ChangeListener {
	return &ChangeListener{conn: conn, log: log.With(zap.String("component", "change_listener"))}
}

// Listen returns a channel of invalidated account ids. The channel is
// closed when ctx is cancelled or the AMQP delivery stream ends.
func (l *ChangeListener) Listen(ctx context.Context) (<-chan string, error) {
	ch, err := l.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(changesExchange, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(changesQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(changesQueue, "", changesExchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(changesQueue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var msg changeMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil || msg.AccountID == "" {
					l.log.Warn("ignoring malformed change notification", zap.Error(err))
					continue
				}
				select {
				case out <- msg.AccountID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
