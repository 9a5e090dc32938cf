package mirror

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 2 * time.Second

// MQTTSink publishes each frame on topic <prefix>/<mediaID> with QoS 0.
type MQTTSink struct {
	client mqtt.Client
	prefix string
}

func NewMQTTSink(broker, clientID, prefix string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	return &MQTTSink{client: client, prefix: prefix}, nil
}

func MQTTTopic(prefix string, mediaID uint16) string {
	return fmt.Sprintf("%s/%d", prefix, mediaID)
}

func (s *MQTTSink) Publish(mediaID uint16, frame []byte) error {
	token := s.client.Publish(MQTTTopic(s.prefix, mediaID), 0, false, Record(mediaID, frame))
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("publish media %d: timeout", mediaID)
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
