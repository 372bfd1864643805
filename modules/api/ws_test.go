package api

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/metrics"
	"github.com/example/presence-chat/modules/presence"
	"github.com/example/presence-chat/modules/store"
)

// repoChat serves history straight from a repository.
type repoChat struct {
	repo *store.Repository
}

func (r *repoChat) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	return r.repo.Recent(ctx, roomID, limit)
}

func (r *repoChat) All(ctx context.Context, roomID string) ([]domain.Message, error) {
	return r.repo.AllByRoom(ctx, roomID)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(":memory:", false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// startServer runs the full websocket stack on a random port.
func startServer(t *testing.T) (addr string, m *Module) {
	t.Helper()

	hub := broadcast.NewHub(&mockLogger{})
	pres := presence.NewModule(hub, &mockLogger{})
	recorder := metrics.NewRecorder()
	repo := store.NewRepository(openTestDB(t), recorder)
	pipeline := chat.NewPipeline(repo, hub, recorder, &mockLogger{}, chat.PipelineConfig{})

	m = NewModule(Config{MetricsInterval: 20 * time.Millisecond}, hub, pres.Bridge(), nil, recorder,
		metrics.NewSnapshotter(recorder, nil), &mockLogger{})
	m.chat = &repoChat{repo: repo}
	m.presence = &bridgePresence{bridge: pres.Bridge()}
	m.intake = pipeline
	m.app = m.newApp()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = m.app.Listener(ln) }()
	t.Cleanup(func() {
		_ = m.Stop(context.Background())
		pipeline.Wait()
	})
	return ln.Addr().String(), m
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, addr, username string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?username="+username, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// frame is the union of broadcast and reply frames.
type frame struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	SessionID string          `json:"sessionId"`
	RoomID    string          `json:"roomId"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// next reads frames until one of the given type arrives.
func (c *testClient) next(typ string) frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f), "waiting for %q", typ)
		if f.Type == typ {
			return f
		}
	}
}

func (c *testClient) roster() domain.Roster {
	c.t.Helper()
	var r domain.Roster
	require.NoError(c.t, json.Unmarshal(c.next(presence.KindPresence).Data, &r))
	return r
}

func TestWebSocket_JoinChatLeave(t *testing.T) {
	addr, _ := startServer(t)

	alice := dial(t, addr, "Alice")
	connected := alice.next(TypeConnected)
	assert.NotEmpty(t, connected.SessionID)

	alice.send(ClientFrame{Type: TypeJoin, RoomID: "room-a"})
	r := alice.roster()
	assert.Equal(t, "room-a", r.RoomID)
	assert.Equal(t, []string{"Alice"}, r.ActiveUsers)
	assert.Equal(t, 1, r.UserCount)
	alice.next(TypeJoined)

	bob := dial(t, addr, "Bob")
	bob.next(TypeConnected)
	bob.send(ClientFrame{Type: TypeJoin, RoomID: "room-a"})
	assert.Equal(t, 2, bob.roster().UserCount)
	r = alice.roster()
	assert.Equal(t, []string{"Alice", "Bob"}, r.ActiveUsers)

	alice.send(ClientFrame{Type: TypeMessage, MessageText: "hello"})
	for _, c := range []*testClient{alice, bob} {
		f := c.next(chat.KindChat)
		assert.Equal(t, "room-chat:room-a", f.Topic)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		assert.NotZero(t, msg.ID)
		assert.Equal(t, "Alice", msg.UserName)
		assert.Equal(t, "hello", msg.MessageText)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	require.NoError(t, bob.conn.Close())
	r = alice.roster()
	assert.Equal(t, []string{"Alice"}, r.ActiveUsers)
	assert.Equal(t, 1, r.UserCount)

	alice.send(ClientFrame{Type: TypeHistory})
	var history []domain.Message
	require.NoError(t, json.Unmarshal(alice.next(TypeHistory).Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].MessageText)

	alice.send(ClientFrame{Type: TypeLeave})
	assert.Equal(t, 0, alice.roster().UserCount)
	left := alice.next(TypeLeft)
	assert.Equal(t, "room-a", left.RoomID)
}

func TestWebSocket_SwitchRoomsStopsOldTraffic(t *testing.T) {
	addr, m := startServer(t)

	alice := dial(t, addr, "Alice")
	alice.next(TypeConnected)
	alice.send(ClientFrame{Type: TypeJoin, RoomID: "room-a"})
	alice.next(TypeJoined)

	alice.send(ClientFrame{Type: TypeJoin, RoomID: "room-b"})
	r := alice.roster()
	for r.RoomID != "room-b" {
		r = alice.roster()
	}
	assert.Equal(t, 1, r.UserCount)
	alice.next(TypeJoined)

	assert.Equal(t, 0, m.hub.SubscriberCount(domain.ChatTopic("room-a")))
	assert.Equal(t, 1, m.hub.SubscriberCount(domain.ChatTopic("room-b")))
}

func TestWebSocket_SubscribeWithoutJoining(t *testing.T) {
	addr, _ := startServer(t)

	watcher := dial(t, addr, "Watcher")
	watcher.next(TypeConnected)
	watcher.send(ClientFrame{Type: TypeSubscribe, RoomID: "room-a"})
	watcher.next(TypeSubscribed)

	alice := dial(t, addr, "Alice")
	alice.next(TypeConnected)
	alice.send(ClientFrame{Type: TypeJoin, RoomID: "room-a"})

	r := watcher.roster()
	assert.Equal(t, []string{"Alice"}, r.ActiveUsers)

	watcher.send(ClientFrame{Type: TypeUsers, RoomID: "room-a"})
	var users UsersResponse
	require.NoError(t, json.Unmarshal(watcher.next(TypeUsers).Data, &users))
	assert.Equal(t, 1, users.UserCount)

	watcher.send(ClientFrame{Type: TypeUnsubscribe, RoomID: "room-a"})
	watcher.next(TypeUnsubscribed)
}

func TestWebSocket_Validation(t *testing.T) {
	addr, _ := startServer(t)

	anon := dial(t, addr, "")
	anon.next(TypeConnected)

	tests := []struct {
		name  string
		frame any
	}{
		{name: "join without name", frame: ClientFrame{Type: TypeJoin, RoomID: "room-a"}},
		{name: "message without room", frame: ClientFrame{Type: TypeMessage, UserName: "A", MessageText: "hi"}},
		{name: "empty message", frame: ClientFrame{Type: TypeMessage, RoomID: "r", UserName: "A"}},
		{name: "leave while not joined", frame: ClientFrame{Type: TypeLeave}},
		{name: "unknown type", frame: ClientFrame{Type: "dance"}},
		{name: "history limit", frame: ClientFrame{Type: TypeHistory, RoomID: "r", Limit: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anon.send(tt.frame)
			assert.NotEmpty(t, anon.next(TypeError).Error)
		})
	}

	require.NoError(t, anon.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "Invalid message format", anon.next(TypeError).Error)
}

func TestWebSocket_DisconnectWithoutJoin(t *testing.T) {
	addr, m := startServer(t)

	c := dial(t, addr, "Alice")
	c.next(TypeConnected)
	assert.Eventually(t, func() bool { return m.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool { return m.hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocket_MetricsStream(t *testing.T) {
	addr, _ := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/metrics", nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 2; i++ {
		var snap metrics.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		assert.NotZero(t, snap.Timestamp)
	}
}

func TestWebSocket_ConcurrentJoinsCountUp(t *testing.T) {
	addr, m := startServer(t)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?username=user", nil)
			if !assert.NoError(t, err) {
				return
			}
			t.Cleanup(func() { _ = conn.Close() })
			assert.NoError(t, conn.WriteJSON(ClientFrame{Type: TypeJoin, RoomID: "busy"}))
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return m.presence.(*bridgePresence).bridge.Roster("busy").UserCount == n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStop_WaitsForWebSocketHandlers(t *testing.T) {
	addr, m := startServer(t)
	bridge := m.presence.(*bridgePresence).bridge

	alice := dial(t, addr, "Alice")
	alice.next(TypeConnected)
	alice.send(ClientFrame{Type: TypeJoin, RoomID: "room-a"})
	alice.next(TypeJoined)

	stream, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/metrics", nil)
	require.NoError(t, err)
	defer stream.Close()
	var snap metrics.Snapshot
	require.NoError(t, stream.ReadJSON(&snap))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	// Every handler finished its cleanup before Stop returned.
	assert.Equal(t, 0, bridge.Roster("room-a").UserCount)
	assert.Equal(t, 0, m.hub.ClientCount())
	assert.False(t, m.enterHandler(), "no handler may start after Stop")
	assert.NoError(t, m.waitHandlers(ctx))
}
