package meeting

import (
	"context"
	"log"
	"sync"
	"time"

	"meeting-relay/internal/middleware"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers are large.
	maxFrameSize = 64 * 1024

	outboxSize = 256
)

// Client is one participant's connection session. The registry references
// it through the Peer interface; the websocket itself is owned here and
// touched only by the two pumps.
type Client struct {
	Conn          *websocket.Conn
	RoomID        string
	ParticipantID string
	Router        *Router
	Limiter       *middleware.RateLimiter

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	lastWarning time.Time
}

func NewClient(conn *websocket.Conn, roomID, participantID string, router *Router, limiter *middleware.RateLimiter) *Client {
	return &Client{
		Conn:          conn,
		RoomID:        roomID,
		ParticipantID: participantID,
		Router:        router,
		Limiter:       limiter,
		send:          make(chan []byte, outboxSize),
		done:          make(chan struct{}),
	}
}

// Enqueue implements Peer. It never blocks: a full outbox or a finished
// session counts as a failed delivery and the router evicts us.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// finish marks the session dead and wakes the write pump. Safe to call
// from any exit path, any number of times.
func (c *Client) finish() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WritePump pumps queued frames to the websocket connection. It is the
// only writer on the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.finish()
		c.Conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ReadPump reads frames and hands them to the router. It returns when the
// transport closes, the peer misbehaves, or a frame is malformed; the
// caller then runs the guaranteed teardown.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.finish()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SESSION] Unexpected close from %s: %v", c.ParticipantID, err)
			}
			return
		}

		if !c.Limiter.Allow() {
			if time.Since(c.lastWarning) > 3*time.Second {
				c.Enqueue(mustMarshal(rateLimitedNotice{
					Type:    KindRateLimited,
					Message: "Rate limit exceeded, frame dropped.",
				}))
				c.lastWarning = time.Now()
			}
			continue
		}

		if err := c.Router.Route(ctx, c.RoomID, c.ParticipantID, frame); err != nil {
			log.Printf("[SESSION] Closing %s in room %s: %v", c.ParticipantID, c.RoomID, err)
			return
		}
	}
}
