package presence

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBridge_JoinAndDisconnectScenario(t *testing.T) {
	b, pub := newTestBridge()
	topic := "room-presence:room-a"

	require.NoError(t, b.OnJoin("s1", "room-a", "Alice"))
	require.NoError(t, b.OnJoin("s2", "room-a", "Bob"))

	r := b.Roster("room-a")
	assert.Equal(t, []string{"Alice", "Bob"}, r.ActiveUsers)
	assert.Equal(t, 2, r.UserCount)

	b.OnDisconnect("s1")
	r = b.Roster("room-a")
	assert.Equal(t, []string{"Bob"}, r.ActiveUsers)
	assert.Equal(t, 1, r.UserCount)

	b.OnDisconnect("s2")
	assert.False(t, b.index.Has("room-a"), "room entry should be pruned")
	assert.Equal(t, 0, b.index.Count("room-a"))

	// One emission per membership change, in order.
	rosters := pub.forTopic(topic)
	require.Len(t, rosters, 4)
	counts := []int{rosters[0].UserCount, rosters[1].UserCount, rosters[2].UserCount, rosters[3].UserCount}
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
	assert.Equal(t, []string{"Bob"}, rosters[2].ActiveUsers)
}

func TestBridge_DisconnectUnknownSessionIsNoop(t *testing.T) {
	b, pub := newTestBridge()

	b.OnDisconnect("ghost")
	b.OnLeave("ghost")

	assert.Empty(t, pub.all(), "no broadcast for unknown sessions")
	assert.Equal(t, 0, b.registry.Count())
}

func TestBridge_DuplicateDisconnect(t *testing.T) {
	b, pub := newTestBridge()

	require.NoError(t, b.OnJoin("s1", "room-a", "Alice"))
	b.OnDisconnect("s1")
	b.OnDisconnect("s1")

	assert.Len(t, pub.forTopic("room-presence:room-a"), 2, "second disconnect must not broadcast")
}

func TestBridge_JoinMovesSessionBetweenRooms(t *testing.T) {
	b, pub := newTestBridge()

	require.NoError(t, b.OnJoin("s1", "room-a", "Alice"))
	require.NoError(t, b.OnJoin("s2", "room-a", "Bob"))
	require.NoError(t, b.OnJoin("s1", "room-b", "Alice"))

	assert.ElementsMatch(t, []string{"s2"}, b.index.Members("room-a"))
	assert.ElementsMatch(t, []string{"s1"}, b.index.Members("room-b"))

	p, ok := b.registry.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "room-b", p.RoomID)

	last, ok := pub.last("room-presence:room-a")
	require.True(t, ok)
	assert.Equal(t, []string{"Bob"}, last.ActiveUsers)

	last, ok = pub.last("room-presence:room-b")
	require.True(t, ok)
	assert.Equal(t, []string{"Alice"}, last.ActiveUsers)
}

func TestBridge_RejoinSameRoomRenames(t *testing.T) {
	b, _ := newTestBridge()

	require.NoError(t, b.OnJoin("s1", "room-a", "Alice"))
	require.NoError(t, b.OnJoin("s1", "room-a", "Alicia"))

	r := b.Roster("room-a")
	assert.Equal(t, []string{"Alicia"}, r.ActiveUsers)
	assert.Equal(t, 1, r.UserCount)
}

func TestBridge_LeaveKeepsConnection(t *testing.T) {
	b, _ := newTestBridge()

	require.NoError(t, b.OnConnect("s1"))
	require.NoError(t, b.OnJoin("s1", "room-a", "Alice"))
	b.OnLeave("s1")

	assert.Equal(t, 1, b.Connections())
	assert.Equal(t, 0, b.index.Count("room-a"))

	b.OnDisconnect("s1")
	assert.Equal(t, 0, b.Connections())
}

func TestBridge_InvalidJoin(t *testing.T) {
	b, pub := newTestBridge()

	tests := []struct {
		name      string
		sessionID string
		roomID    string
		display   string
	}{
		{name: "missing session", sessionID: "", roomID: "room-a", display: "Alice"},
		{name: "missing room", sessionID: "s1", roomID: "", display: "Alice"},
		{name: "missing display name", sessionID: "s1", roomID: "room-a", display: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.OnJoin(tt.sessionID, tt.roomID, tt.display)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	assert.Empty(t, pub.all())
	assert.Equal(t, 0, b.registry.Count())
}

func TestBridge_Handle(t *testing.T) {
	b, _ := newTestBridge()
	ctx := context.Background()

	require.NoError(t, b.Handle(ctx, ConnectionEstablished{SessionID: "s1"}))
	require.NoError(t, b.Handle(ctx, JoinRequested{SessionID: "s1", RoomID: "room-a", DisplayName: "Alice"}))
	assert.Equal(t, 1, b.Roster("room-a").UserCount)

	require.NoError(t, b.Handle(ctx, LeaveRequested{SessionID: "s1"}))
	assert.Equal(t, 0, b.Roster("room-a").UserCount)
	assert.Equal(t, 1, b.Connections())

	require.NoError(t, b.Handle(ctx, ConnectionClosed{SessionID: "s1"}))
	assert.Equal(t, 0, b.Connections())

	err := b.Handle(ctx, JoinRequested{SessionID: "s1", RoomID: "room-a"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = b.Handle(canceled, JoinRequested{SessionID: "s2", RoomID: "room-a", DisplayName: "Bob"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Roster("room-a").UserCount)
}

func TestBridge_ConcurrentJoinsSameRoom(t *testing.T) {
	b, pub := newTestBridge()
	const n = 100

	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		g.Go(func() error {
			return b.OnJoin(id, "room-a", "user-"+id)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, n, b.index.Count("room-a"), "no lost joins")
	assert.Equal(t, n, b.Roster("room-a").UserCount)

	// Every join staged a snapshot under the room lock, so counts arrive as 1..n.
	rosters := pub.forTopic("room-presence:room-a")
	require.Len(t, rosters, n)
	for i, r := range rosters {
		assert.Equal(t, i+1, r.UserCount)
	}
}

func TestBridge_RoomsDoNotShareEmissions(t *testing.T) {
	b, pub := newTestBridge()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("s%d", i)
		room := fmt.Sprintf("room-%d", i%5)
		g.Go(func() error {
			return b.OnJoin(id, room, id)
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 5; i++ {
		room := fmt.Sprintf("room-%d", i)
		rosters := pub.forTopic("room-presence:" + room)
		require.Len(t, rosters, 10)
		for _, r := range rosters {
			assert.Equal(t, room, r.RoomID)
		}
		assert.Equal(t, 10, b.Roster(room).UserCount)
	}
}

// After any interleaving of joins, moves and disconnects, the registry and the
// index agree, and a session is indexed iff its last event was a join.
func TestBridge_RegistryAndIndexStayConsistent(t *testing.T) {
	b, _ := newTestBridge()
	const (
		sessions = 20
		rooms    = 4
		rounds   = 50
	)

	var (
		mu   sync.Mutex
		last = make(map[string]string) // session -> room, "" when gone
	)

	var g errgroup.Group
	for s := 0; s < sessions; s++ {
		sessionID := fmt.Sprintf("s%d", s)
		rng := rand.New(rand.NewSource(int64(s)))
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				if rng.Intn(3) == 0 {
					b.OnDisconnect(sessionID)
					mu.Lock()
					last[sessionID] = ""
					mu.Unlock()
					continue
				}
				room := fmt.Sprintf("room-%d", rng.Intn(rooms))
				if err := b.OnJoin(sessionID, room, sessionID); err != nil {
					return err
				}
				mu.Lock()
				last[sessionID] = room
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for sessionID, room := range last {
		p, ok := b.registry.Get(sessionID)
		if room == "" {
			assert.False(t, ok, "%s was disconnected last", sessionID)
			for r := 0; r < rooms; r++ {
				assert.NotContains(t, b.index.Members(fmt.Sprintf("room-%d", r)), sessionID)
			}
			continue
		}
		require.True(t, ok, "%s joined last", sessionID)
		assert.Equal(t, room, p.RoomID)
		for r := 0; r < rooms; r++ {
			roomID := fmt.Sprintf("room-%d", r)
			if roomID == room {
				assert.Contains(t, b.index.Members(roomID), sessionID)
			} else {
				assert.NotContains(t, b.index.Members(roomID), sessionID)
			}
		}
	}

	total := 0
	for r := 0; r < rooms; r++ {
		roomID := fmt.Sprintf("room-%d", r)
		total += b.index.Count(roomID)
		assert.Equal(t, b.index.Count(roomID), b.Roster(roomID).UserCount, "no stale ids in %s", roomID)
	}
	assert.Equal(t, b.registry.Count(), total)
	assert.Equal(t, 0, b.sessions.Len(), "session locks are released")
	assert.Equal(t, 0, b.rooms.Len(), "room locks are released")
}
