package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/pullquiz/pullquiz/pkg/models"
)

// outboundQueueSize bounds the per-connection send queue. A client that
// cannot drain this many events is closed rather than allowed to stall
// the fan-out.
const outboundQueueSize = 64

// Conn is one live client connection bound to a session. The identity
// fields are written once by the HELLO handler on the engine goroutine
// and read by the broadcaster on the same goroutine; the writer goroutine
// only consumes the outbound queue.
type Conn struct {
	ID string

	// Identity, set on successful HELLO.
	Authenticated bool
	UserID        string
	Role          models.Role
	TeamID        string
	Nickname      string

	ws      *websocket.Conn
	limiter *rate.Limiter
	out     chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(parentCtx context.Context, id string, ws *websocket.Conn, msgsPerSecond int) *Conn {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Conn{
		ID:      id,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(msgsPerSecond), msgsPerSecond),
		out:     make(chan []byte, outboundQueueSize),
		closed:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// allow applies the per-connection rolling rate limit.
func (c *Conn) allow() bool {
	return c.limiter.Allow()
}

// send queues an already-marshaled frame. A full queue means the client
// is too slow to keep the ordering contract; the connection is closed.
func (c *Conn) send(data []byte) {
	select {
	case <-c.closed:
	case c.out <- data:
	default:
		slog.Warn("Outbound queue overflow, dropping connection", "connection_id", c.ID)
		c.close(websocket.StatusCode(models.CloseInternalError), "send queue overflow")
	}
}

// sendEvent marshals and queues a server event.
func (c *Conn) sendEvent(evt models.ServerEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Failed to marshal server event", "connection_id", c.ID, "type", evt.Type, "error", err)
		return
	}
	c.send(data)
}

// sendError queues a protocol ERROR event.
func (c *Conn) sendError(code, message, clientMsgID string) {
	c.sendEvent(models.NewEvent(models.EventError, models.ErrorPayload{
		Code:        code,
		Message:     message,
		ClientMsgID: clientMsgID,
	}))
}

// close terminates the connection once. Closing cancels only this
// connection's outbound queue; in-flight state mutations are unaffected.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.ws.Close(code, reason)
	})
}

// writeLoop drains the outbound queue in order, one frame at a time,
// with a bounded write timeout per frame. Runs on its own goroutine.
func (c *Conn) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.out:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write failed", "connection_id", c.ID, "error", err)
				c.close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}
