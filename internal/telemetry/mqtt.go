package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTTransport publishes records as JSON on one topic.
type MQTTTransport struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTTransport publishes on topic through an already connected client.
func NewMQTTTransport(client mqtt.Client, topic string) *MQTTTransport {
	return &MQTTTransport{client: client, topic: topic, timeout: 250 * time.Millisecond}
}

// Publish sends the record at QoS 0 and waits at most the transport timeout.
func (t *MQTTTransport) Publish(r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", r.Seq, err)
	}
	token := t.client.Publish(t.topic, 0, false, payload)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("mqtt publish %s: timeout after %v", t.topic, t.timeout)
	}
	return token.Error()
}
