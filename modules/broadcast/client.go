package broadcast

import (
	"encoding/json"
	"sync"
)

// DefaultSendQueueSize is used when no queue size is configured.
const DefaultSendQueueSize = 64

// textMessage matches websocket.TextMessage.
const textMessage = 1

// Conn is the part of a websocket connection a Client writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a websocket connection with a bounded send queue.
// All writes go through the queue so the connection has a single writer.
// A client whose queue overflows is closed.
type Client struct {
	id   string
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient creates a Client for conn.
func NewClient(id string, conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

// Send queues an encoded frame. It returns false if the client is closed or
// its queue is full.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		// slow consumer
		_ = c.Close()
		return false
	}
}

// SendFrame encodes and queues a frame addressed to this client only.
func (c *Client) SendFrame(kind, topic string, payload any) bool {
	data, err := json.Marshal(Frame{Type: kind, Topic: topic, Data: payload})
	if err != nil {
		return false
	}
	return c.Send(data)
}

// SendJSON queues v encoded as-is, without a frame envelope.
func (c *Client) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Send(data)
}

// WritePump writes queued frames until the client is closed or a write fails.
func (c *Client) WritePump() error {
	for {
		select {
		case <-c.done:
			return nil
		case frame := <-c.send:
			if err := c.conn.WriteMessage(textMessage, frame); err != nil {
				_ = c.Close()
				return err
			}
		}
	}
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the client and its connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
