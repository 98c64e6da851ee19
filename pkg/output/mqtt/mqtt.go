// Package mqtt publishes readings to an MQTT broker as JSON.
package mqtt

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/gosck/pkg/config"
	"github.com/itohio/gosck/pkg/output"
	"github.com/itohio/gosck/pkg/sample"
)

const (
	DefaultTopic    = "sck/readings"
	DefaultClientID = "gosck"
	disconnectQuiet = 250 // ms
)

type MQTTOutput struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// Payload is the published message.
type Payload struct {
	Timestamp string             `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Raw       map[string]int32   `json:"raw"`
}

func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newOutput(client, cfg.Topic, cfg.QoS), nil
}

func newOutput(client mqtt.Client, topic string, qos byte) *MQTTOutput {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTOutput{client: client, topic: topic, qos: qos}
}

// NewPayload builds the message for r.
func NewPayload(r sample.Reading) Payload {
	p := Payload{
		Timestamp: r.Time,
		Values:    output.Values(r),
		Raw:       make(map[string]int32, sample.NumChannels),
	}
	for c := sample.Channel(0); c < sample.NumChannels; c++ {
		p.Raw[c.String()] = r.Get(c)
	}
	return p
}

func (m *MQTTOutput) Publish(r sample.Reading) error {
	b, err := json.Marshal(NewPayload(r))
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, m.qos, false, b)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", token.Error())
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
	}
	return nil
}
