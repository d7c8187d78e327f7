package receiver

import (
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSource receives pilot packets published as raw binary payloads, e.g.
// by a ground-station bridge reading the hand controller.
type MQTTSource struct {
	Slot
	client mqtt.Client
	topic  string
}

// SubscribeMQTT subscribes to topic on a connected client.
func SubscribeMQTT(client mqtt.Client, topic string) (*MQTTSource, error) {
	s := &MQTTSource{client: client, topic: topic}
	token := client.Subscribe(topic, 0, s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("receiver: subscribe %s: %w", topic, err)
	}
	log.Printf("receiver: subscribed to %s", topic)
	return s, nil
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if msg.Retained() {
		// a retained packet is stale by definition
		return
	}
	s.Put(msg.Payload())
}

// Close unsubscribes.
func (s *MQTTSource) Close() error {
	token := s.client.Unsubscribe(s.topic)
	token.Wait()
	return token.Error()
}
