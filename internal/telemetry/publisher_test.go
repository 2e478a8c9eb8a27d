package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/geminiplay/domain/entities"
)

type recordingPublisher struct {
	mu   sync.Mutex
	got  []entities.Notification
	err  error
	sent chan entities.Notification
}

func (r *recordingPublisher) Publish(_ context.Context, n entities.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	if r.sent != nil {
		r.sent <- n
	}
	return r.err
}

func TestFanout(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}

	f := NewFanout(zaptest.NewLogger(t), failing)
	f.Add(ok)
	f.Add(NewLogPublisher(zaptest.NewLogger(t)))

	n := entities.NewNotification(entities.NotificationLog, "Microphone started")
	require.NoError(t, f.Publish(context.Background(), n))

	assert.Len(t, failing.got, 1)
	require.Len(t, ok.got, 1)
	assert.Equal(t, "Microphone started", ok.got[0].Message)
}

func TestSampler(t *testing.T) {
	mock := clock.NewMock()
	pub := &recordingPublisher{sent: make(chan entities.Notification, 4)}

	var mu sync.Mutex
	in, out := 0.0, 0.0
	level := func(v *float64) LevelFunc {
		return func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return *v
		}
	}

	s := NewSampler(level(&in), level(&out), pub, mock, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the ticker to be registered before advancing the clock
	time.Sleep(10 * time.Millisecond)

	// Unchanged silence is not reported
	mock.Add(SampleInterval)
	select {
	case n := <-pub.sent:
		t.Fatalf("Unexpected notification %+v", n)
	case <-time.After(20 * time.Millisecond):
	}

	mu.Lock()
	in, out = 0.5, 0.25
	mu.Unlock()
	mock.Add(SampleInterval)

	select {
	case n := <-pub.sent:
		assert.Equal(t, entities.NotificationVolume, n.Type)
		assert.Equal(t, 0.5, n.InputLevel)
		assert.Equal(t, 0.25, n.OutputLevel)
	case <-time.After(time.Second):
		t.Fatal("Expected a volume notification")
	}

	cancel()
	require.NoError(t, <-done)
}
