package push

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
)

const maxInboundMessageSize = 512

// Conn is one client websocket. Frames are queued on a bounded buffer and
// written by a single writer goroutine.
type Conn struct {
	Subscription model.PushSubscription

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(sub model.PushSubscription, ws *websocket.Conn, buffer int) *Conn {
	return &Conn{
		Subscription: sub,
		ws:           ws,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It returns the drop reason, or
// "" when the frame was queued.
func (c *Conn) enqueue(frame []byte) string {
	select {
	case <-c.done:
		return metrics.DropClosed
	default:
	}

	select {
	case c.send <- frame:
		return ""
	default:
		return metrics.DropBufferFull
	}
}

// Close signals the writer to send a close frame and stop. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// connOptions are the timings the pumps run with.
type connOptions struct {
	writeTimeout time.Duration
	pingInterval time.Duration
}

// serve runs the connection until the client goes away or Close is called.
// The connection is in the hub for exactly that long.
func (c *Conn) serve(hub *Hub, opts connOptions, recorder metrics.Recorder, logger *slog.Logger) {
	hub.Register(c)
	defer hub.Unregister(c)

	c.enqueue(encodeWelcome(c.Subscription.ConnectionID))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(opts, recorder, logger)
	}()

	c.readPump(opts.pingInterval * 2)
	c.Close()
	<-writerDone
}

// readPump discards client messages; it exists to process control frames
// and detect a dead peer through the pong deadline.
func (c *Conn) readPump(pongWait time.Duration) {
	c.ws.SetReadLimit(maxInboundMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Conn) writePump(opts connOptions, recorder metrics.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(opts.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(opts.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				recorder.IncPushDropped(frameType(frame), metrics.DropWriteError)
				if !isExpectedClose(err) {
					logger.Warn("push write failed",
						"connection_id", c.Subscription.ConnectionID,
						"error", err,
					)
				}
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(opts.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(opts.writeTimeout),
			)
			return
		}
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
