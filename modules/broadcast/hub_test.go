package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames []Frame
	closed bool
	full   bool
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.full {
		return false
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscriber) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func TestHub_PublishReachesTopicSubscribersOnly(t *testing.T) {
	hub := NewHub(&mockLogger{})
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	hub.Subscribe("room-chat:1", a)
	hub.Subscribe("room-chat:2", b)

	hub.Publish("room-chat:1", "chat", map[string]string{"messageText": "hi"})

	require.Len(t, a.received(), 1)
	assert.Equal(t, "chat", a.received()[0].Type)
	assert.Equal(t, "room-chat:1", a.received()[0].Topic)
	assert.Empty(t, b.received())
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(&mockLogger{})
	hub.Publish("room-presence:empty", "presence", nil)

	published, dropped := hub.Stats()
	assert.Zero(t, published)
	assert.Zero(t, dropped)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(&mockLogger{})
	a := &fakeSubscriber{id: "a"}
	hub.Subscribe("t1", a)
	hub.Subscribe("t2", a)
	assert.Equal(t, 2, hub.TopicCount())

	hub.Unsubscribe("t1", "a")
	hub.Publish("t1", "x", 1)
	hub.Publish("t2", "x", 2)

	require.Len(t, a.received(), 1)
	assert.Equal(t, "t2", a.received()[0].Topic)
	assert.Equal(t, 0, hub.SubscriberCount("t1"))
	assert.Equal(t, 1, hub.TopicCount())
}

func TestHub_UnsubscribeAllKeepsRegistration(t *testing.T) {
	hub := NewHub(&mockLogger{})
	a := &fakeSubscriber{id: "a"}
	hub.Subscribe("t1", a)
	hub.Subscribe("t2", a)

	hub.UnsubscribeAll("a")

	assert.Equal(t, 0, hub.TopicCount())
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister("a")
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_FullSubscriberCountsDrop(t *testing.T) {
	hub := NewHub(&mockLogger{})
	ok := &fakeSubscriber{id: "ok"}
	full := &fakeSubscriber{id: "full", full: true}
	hub.Subscribe("t", ok)
	hub.Subscribe("t", full)

	hub.Publish("t", "x", nil)

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(1), dropped)
}

func TestHub_SequentialPublishesArriveInOrder(t *testing.T) {
	hub := NewHub(&mockLogger{})
	a := &fakeSubscriber{id: "a"}
	hub.Subscribe("t", a)

	for i := 0; i < 100; i++ {
		hub.Publish("t", "n", i)
	}

	frames := a.received()
	require.Len(t, frames, 100)
	for i, f := range frames {
		assert.Equal(t, float64(i), f.Data)
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(&mockLogger{})
	subs := []*fakeSubscriber{{id: "a"}, {id: "b"}}
	for _, s := range subs {
		hub.Subscribe("t", s)
	}

	hub.CloseAll()

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.SubscriberCount("t"))
	for _, s := range subs {
		assert.True(t, s.closed)
	}
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub(&mockLogger{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := &fakeSubscriber{id: fmt.Sprintf("s%d", i)}
			hub.Subscribe("t", s)
			hub.Unregister(s.id)
		}(i)
		go func() {
			defer wg.Done()
			hub.Publish("t", "x", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.ClientCount())
}

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	failOn  int
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn > 0 && len(c.written)+1 == c.failOn {
		return errors.New("broken pipe")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func TestClient_WritePumpDeliversInOrder(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c1", conn, 8)
	done := make(chan error, 1)
	go func() { done <- c.WritePump() }()

	for i := 0; i < 5; i++ {
		require.True(t, c.SendFrame("n", "t", i))
	}
	assert.Eventually(t, func() bool { return conn.count() == 5 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.NoError(t, <-done)
	assert.True(t, conn.closed)
	assert.False(t, c.Send([]byte("late")))
}

func TestClient_OverflowClosesSlowConsumer(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c1", conn, 2)

	assert.True(t, c.Send([]byte("1")))
	assert.True(t, c.Send([]byte("2")))
	assert.False(t, c.Send([]byte("3")))

	select {
	case <-c.Done():
	default:
		t.Fatal("client should be closed after overflow")
	}
	assert.True(t, conn.closed)
}

func TestClient_WriteErrorCloses(t *testing.T) {
	conn := &fakeConn{failOn: 1}
	c := NewClient("c1", conn, 4)
	require.True(t, c.SendJSON(map[string]string{"type": "connected"}))

	err := c.WritePump()
	assert.Error(t, err)
	assert.True(t, conn.closed)
}

func TestClient_CloseIdempotent(t *testing.T) {
	c := NewClient("c1", &fakeConn{}, 0)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
