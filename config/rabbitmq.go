package config

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQ dials the broker carrying the output event stream, the
// dead-letter queue and the geofence change notifications. The client id
// doubles as the connection name so operators can tell engine instances
// apart in the broker's connection list.
func NewRabbitMQ(cfg *Config) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(cfg.MQTTClientID)

	conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}
