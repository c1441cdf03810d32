package ws

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"syncrelay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second // must be < pongWait
)

// Options tune the websocket transport.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	MaxMessageSize int64
}

type WsServer struct {
	router   *relay.Router
	upgrader websocket.Upgrader
	opts     Options
}

func NewWsServer(router *relay.Router, opts Options) *WsServer {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxReadSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	s := &WsServer{router: router, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.opts.MaxMessageSize)

	conn := newClientConn(rawConn, s.opts.SendBuffer)
	rc, err := s.router.Connect(conn)
	if err != nil {
		zap.L().Error("ws.connect", zap.Error(err))
		_ = rawConn.Close()
		return
	}

	go conn.writer(rc.ID)
	go s.reader(rc.ID, conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) reader(connID string, conn *clientConn) {
	defer func() {
		s.router.Disconnect(connID)
		conn.Close()
	}()

	raw := conn.rawConn
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		s.router.Touch(connID)
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.L().Debug("ws.read", zap.String("conn", connID), zap.Error(err))
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}

		// errors are classified and counted by the router; the reader
		// only stops when the transport is gone
		_ = s.router.Handle(context.Background(), connID, data)

		select {
		case <-conn.done:
			return
		default:
		}
	}
}

// checkOrigin accepts requests without an Origin header, any origin when
// "*" is allowed, and otherwise an exact host or URL match.
func (s *WsServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(s.opts.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(o, u.Host)
	})
}
