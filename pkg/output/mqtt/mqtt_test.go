package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/gosck/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient records publishes. Methods not overridden panic.
type fakeClient struct {
	mqtt.Client
	messages     []message
	err          error
	disconnected uint
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, message{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = quiesce
}

func TestPublish(t *testing.T) {
	client := &fakeClient{}
	out := newOutput(client, "", 1)

	r := sample.Reading{Time: "2026-10-19 10:00:00"}.Set(sample.Temperature, 215).Set(sample.NO2, 1250)
	require.NoError(t, out.Publish(r))
	require.Len(t, client.messages, 1)

	msg := client.messages[0]
	assert.Equal(t, DefaultTopic, msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retain)

	var got Payload
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "2026-10-19 10:00:00", got.Timestamp)
	assert.InDelta(t, 21.5, got.Values["temp"], 1e-9)
	assert.InDelta(t, 1.25, got.Values["no2"], 1e-9)
	assert.Equal(t, int32(1250), got.Raw["no2"])
	assert.Len(t, got.Raw, sample.NumChannels)
}

func TestPublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	out := newOutput(client, "kit/1", 0)

	err := out.Publish(sample.Reading{})
	assert.ErrorContains(t, err, "not connected")
	assert.Equal(t, "kit/1", client.messages[0].topic)
}

func TestClose(t *testing.T) {
	client := &fakeClient{}
	require.NoError(t, newOutput(client, "", 0).Close())
	assert.Equal(t, uint(disconnectQuiet), client.disconnected)
}
