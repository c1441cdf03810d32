package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed      = errors.New("websocket connection closed")
	ErrSendBufferFull  = errors.New("websocket send buffer full")
	defaultSendBuffer  = 256
	defaultMaxReadSize = int64(64 << 10)
)

// clientConn adapts a gorilla connection to relay.Sink. Sends are queued
// and written by a single writer goroutine so the router never blocks on
// a slow socket.
type clientConn struct {
	rawConn *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
}

func newClientConn(raw *websocket.Conn, buffer int) *clientConn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &clientConn{
		rawConn: raw,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

func (c *clientConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer; it flushes a close frame and drops the socket.
func (c *clientConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

// writer drains the send queue and keeps the socket alive with control
// pings. It owns closing the underlying connection.
func (c *clientConn) writer(connID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", connID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				zap.L().Debug("ws.ping", zap.String("conn", connID), zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			c.flush(connID)
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close.
func (c *clientConn) flush(connID string) {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				zap.L().Debug("ws.flush", zap.String("conn", connID), zap.Error(err))
				return
			}
		default:
			return
		}
	}
}
