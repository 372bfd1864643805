package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/presence"
)

// session is the per-connection protocol state. It is only touched by the
// connection's read loop.
type session struct {
	m        *Module
	id       string
	client   *broadcast.Client
	userName string
	roomID   string
	watching map[string]struct{}
	limiter  *rate.Limiter
}

func (m *Module) newSession(id string, client *broadcast.Client, userName string) *session {
	return &session{
		m:        m,
		id:       id,
		client:   client,
		userName: userName,
		watching: make(map[string]struct{}),
		limiter:  rate.NewLimiter(rate.Limit(m.cfg.MessagesPerSecond), m.cfg.MessageBurst),
	}
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *Module) handleWebSocket(c *websocket.Conn) {
	if !m.enterHandler() {
		_ = c.Close()
		return
	}
	defer m.handlers.Done()

	id := uuid.New().String()
	client := broadcast.NewClient(id, c, m.cfg.SendQueueSize)
	s := m.newSession(id, client, c.Query("username"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.lifecycle.Handle(ctx, presence.ConnectionEstablished{SessionID: id}); err != nil {
		cancel()
		m.logger.Error("Failed to register connection", "sessionID", id, "error", err)
		return
	}
	m.hub.Register(client)
	if m.recorder != nil {
		m.recorder.ConnectionOpened()
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if err := client.WritePump(); err != nil {
			m.logger.Debug("WebSocket write failed", "sessionID", id, "error", err)
		}
	}()

	defer func() {
		cancel()
		m.hub.Unregister(id)
		if err := m.lifecycle.Handle(context.Background(), presence.ConnectionClosed{SessionID: id}); err != nil {
			m.logger.Warn("Failed to close session", "sessionID", id, "error", err)
		}
		_ = client.Close()
		<-pumpDone
		if m.recorder != nil {
			m.recorder.ConnectionClosed()
		}
		m.logger.Info("WebSocket client disconnected", "sessionID", id)
	}()

	// A client registered after Stop's CloseAll would never be closed.
	select {
	case <-m.stop:
		return
	default:
	}

	m.logger.Info("WebSocket client connected", "sessionID", id, "username", s.userName)
	client.SendJSON(ServerFrame{Type: TypeConnected, SessionID: id})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("WebSocket read error", "sessionID", id, "error", err)
			}
			return
		}
		s.handle(ctx, raw)
	}
}

// handle dispatches one client frame.
func (s *session) handle(ctx context.Context, raw []byte) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.sendError("Invalid message format")
		return
	}

	switch f.Type {
	case TypeJoin:
		s.join(ctx, f)
	case TypeLeave:
		s.leave(ctx)
	case TypeMessage:
		s.message(ctx, f)
	case TypeSubscribe:
		s.subscribe(f)
	case TypeUnsubscribe:
		s.unsubscribe(f)
	case TypeHistory:
		s.history(ctx, f)
	case TypeUsers:
		s.users(ctx, f)
	default:
		s.sendError("Unknown message type: " + f.Type)
	}
}

// join enters a room. The socket is subscribed to the room topics before the
// join is recorded so the joiner receives its own presence snapshot.
func (s *session) join(ctx context.Context, f ClientFrame) {
	name := f.UserName
	if name == "" {
		name = s.userName
	}
	if err := chat.ValidateUserName(name); err != nil {
		s.sendError(err.Error())
		return
	}
	if err := chat.ValidateRoomID(f.RoomID); err != nil {
		s.sendError(err.Error())
		return
	}

	prev := s.roomID
	s.subscribeTopics(f.RoomID)
	if err := s.m.lifecycle.Handle(ctx, presence.JoinRequested{
		SessionID:   s.id,
		RoomID:      f.RoomID,
		DisplayName: name,
	}); err != nil {
		if f.RoomID != prev {
			s.releaseTopics(f.RoomID)
		}
		s.sendError("Failed to join room: " + err.Error())
		return
	}
	if prev != "" && prev != f.RoomID {
		s.roomID = ""
		s.releaseTopics(prev)
	}

	s.roomID = f.RoomID
	s.userName = name
	s.client.SendJSON(ServerFrame{Type: TypeJoined, SessionID: s.id, RoomID: f.RoomID, UserName: name})
}

func (s *session) leave(ctx context.Context) {
	if s.roomID == "" {
		s.sendError("Not in a room")
		return
	}
	if err := s.m.lifecycle.Handle(ctx, presence.LeaveRequested{SessionID: s.id}); err != nil {
		s.sendError("Failed to leave room: " + err.Error())
		return
	}

	roomID := s.roomID
	s.roomID = ""
	s.releaseTopics(roomID)
	s.client.SendJSON(ServerFrame{Type: TypeLeft, SessionID: s.id, RoomID: roomID})
}

// message hands a chat message to the pipeline. The sender only hears back
// if the message is dropped; success arrives as the room broadcast.
func (s *session) message(ctx context.Context, f ClientFrame) {
	roomID := f.RoomID
	if roomID == "" {
		roomID = s.roomID
	}
	name := f.UserName
	if name == "" {
		name = s.userName
	}

	if err := chat.ValidateRoomID(roomID); err != nil {
		s.sendError(err.Error())
		return
	}
	if err := chat.ValidateUserName(name); err != nil {
		s.sendError(err.Error())
		return
	}
	if err := chat.ValidateMessage(f.MessageText); err != nil {
		s.sendError(err.Error())
		return
	}
	if !s.limiter.Allow() {
		s.sendError("Rate limit exceeded")
		return
	}

	out := s.m.intake.HandleIncoming(ctx, roomID, chat.Inbound{UserName: name, MessageText: f.MessageText})
	client := s.client
	go func() {
		if o, ok := <-out; ok && o.State == chat.StateDropped {
			client.SendJSON(ServerFrame{Type: TypeError, RoomID: roomID, Error: "Message could not be saved"})
		}
	}()
}

// subscribe watches a room's chat and presence without joining it.
func (s *session) subscribe(f ClientFrame) {
	if err := chat.ValidateRoomID(f.RoomID); err != nil {
		s.sendError(err.Error())
		return
	}
	s.watching[f.RoomID] = struct{}{}
	s.subscribeTopics(f.RoomID)
	s.client.SendJSON(ServerFrame{Type: TypeSubscribed, RoomID: f.RoomID})
}

func (s *session) unsubscribe(f ClientFrame) {
	if _, ok := s.watching[f.RoomID]; !ok {
		s.sendError("Not subscribed to room")
		return
	}
	delete(s.watching, f.RoomID)
	s.releaseTopics(f.RoomID)
	s.client.SendJSON(ServerFrame{Type: TypeUnsubscribed, RoomID: f.RoomID})
}

func (s *session) history(ctx context.Context, f ClientFrame) {
	roomID := f.RoomID
	if roomID == "" {
		roomID = s.roomID
	}
	if err := chat.ValidateRoomID(roomID); err != nil {
		s.sendError(err.Error())
		return
	}
	limit := f.Limit
	if limit == 0 {
		limit = s.m.cfg.HistoryDefaultLimit
	}
	if limit < 1 || limit > chat.MaxHistoryLimit {
		s.sendError("limit must be between 1 and 1000")
		return
	}

	messages, err := s.m.chat.Recent(ctx, roomID, limit)
	if err != nil {
		s.m.logger.Error("Failed to load history", "roomID", roomID, "error", err)
		s.sendError("Failed to get history")
		return
	}
	s.client.SendJSON(ServerFrame{Type: TypeHistory, RoomID: roomID, Data: chronological(messages)})
}

func (s *session) users(ctx context.Context, f ClientFrame) {
	roomID := f.RoomID
	if roomID == "" {
		roomID = s.roomID
	}
	if err := chat.ValidateRoomID(roomID); err != nil {
		s.sendError(err.Error())
		return
	}

	roster, err := s.m.presence.Roster(ctx, roomID)
	if err != nil {
		s.m.logger.Error("Failed to load roster", "roomID", roomID, "error", err)
		s.sendError("Failed to get users")
		return
	}
	s.client.SendJSON(ServerFrame{Type: TypeUsers, RoomID: roomID, Data: usersResponse(roster)})
}

func (s *session) subscribeTopics(roomID string) {
	s.m.hub.Subscribe(domain.ChatTopic(roomID), s.client)
	s.m.hub.Subscribe(domain.PresenceTopic(roomID), s.client)
}

// releaseTopics unsubscribes from roomID unless the session still joins or watches it.
func (s *session) releaseTopics(roomID string) {
	if roomID == s.roomID {
		return
	}
	if _, ok := s.watching[roomID]; ok {
		return
	}
	s.m.hub.Unsubscribe(domain.ChatTopic(roomID), s.id)
	s.m.hub.Unsubscribe(domain.PresenceTopic(roomID), s.id)
}

func (s *session) sendError(message string) {
	s.client.SendJSON(ServerFrame{Type: TypeError, Error: message})
}

// handleMetricsStream pushes a metrics snapshot every interval until the client goes away.
func (m *Module) handleMetricsStream(c *websocket.Conn) {
	if !m.enterHandler() {
		_ = c.Close()
		return
	}
	defer m.handlers.Done()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = c.Close()
		<-closed
	}()

	if m.snapshotter == nil {
		return
	}

	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		snap, err := m.snapshotter.Snapshot()
		if err != nil {
			m.logger.Warn("Failed to gather metrics", "error", err)
		} else if err := c.WriteJSON(snap); err != nil {
			return
		}

		select {
		case <-closed:
			return
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}
