package config

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// NewMQTT connects the input-stream client. Auto-ack is disabled: the
// partition workers ack each message only after its side effects are
// durably committed, so an engine crash replays unacked samples.
// CleanSession is off so the broker retains the QoS 1 subscription state
// across restarts.
func NewMQTT(cfg *Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(false).
		SetAutoAckDisabled(true).
		SetOrderMatters(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
