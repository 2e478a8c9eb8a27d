package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/geminiplay/domain/entities"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []published
	err          error
	pending      bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte)})
	return newFakeToken(c.err, !c.pending)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{Topic: "geminiplay/test"}, zaptest.NewLogger(t))

	n := entities.NewNotification(entities.NotificationState, "connected")
	require.NoError(t, p.Publish(context.Background(), n))

	require.Len(t, client.messages, 1)
	assert.Equal(t, "geminiplay/test/state", client.messages[0].topic)

	var got entities.Notification
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &got))
	assert.Equal(t, entities.NotificationState, got.Type)
	assert.Equal(t, "connected", got.Message)

	p.Close()
	assert.True(t, client.disconnected)
}

func TestPublisher_ThrottlesVolume(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{Topic: "t", VolumeRate: 0.001}, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), entities.Notification{Type: entities.NotificationVolume, InputLevel: 0.5}))
	}
	// Other types are never throttled
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), entities.NewNotification(entities.NotificationLog, "line")))
	}

	assert.Len(t, client.messages, 4)
}

func TestPublisher_Errors(t *testing.T) {
	client := &fakeClient{err: errors.New("broker down")}
	p := newPublisher(client, Config{Topic: "t"}, zaptest.NewLogger(t))
	assert.Error(t, p.Publish(context.Background(), entities.NewNotification(entities.NotificationLog, "x")))

	client = &fakeClient{pending: true}
	p = newPublisher(client, Config{Topic: "t"}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, entities.NewNotification(entities.NotificationLog, "x")), context.Canceled)
}

func TestHasScheme(t *testing.T) {
	assert.True(t, hasScheme("tcp://localhost:1883"))
	assert.True(t, hasScheme("ws://broker/mqtt"))
	assert.False(t, hasScheme("localhost:1883"))
}
