package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"syncrelay/internal/http/roomhandler"
	"syncrelay/internal/metrics"
	"syncrelay/internal/ws"
)

const healthText = "Relay is healthy."

type Options struct {
	ListenPort uint16
	CorsAllow  []string
	StaticDir  string
	AccessLog  bool
	WsServer   *ws.WsServer
	Rooms      roomhandler.RoomSource
	Metrics    *metrics.Metrics
}

type httpServer struct {
	opts Options
	srv  http.Server
	ln   net.Listener
	ctx  context.Context
}

func NewHttpServer(ctx context.Context, opts Options) *httpServer {
	h := &httpServer{opts: opts, ctx: ctx}
	h.srv = http.Server{
		Handler:           h.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// handler builds the gin engine wrapped with CORS.
func (h *httpServer) handler() http.Handler {
	routerEngine := gin.New()

	if h.opts.AccessLog {
		routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	}
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	routerEngine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, healthText)
	})

	// websocket endpoint
	if h.opts.WsServer != nil {
		routerEngine.GET("/ws", h.opts.WsServer.Handle)
	}

	if h.opts.Metrics != nil {
		routerEngine.GET("/metrics", gin.WrapH(h.opts.Metrics.Handler()))
	}

	// introspection API
	if h.opts.Rooms != nil {
		roomhandler.New(h.opts.Rooms).Register(routerEngine)
	}

	// Static files for the demo client
	if h.opts.StaticDir != "" {
		dir := h.opts.StaticDir
		routerEngine.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet {
				c.Status(http.StatusNotFound)
				return
			}
			p := filepath.Join(dir, filepath.Clean("/"+c.Request.URL.Path))
			if st, err := os.Stat(p); err != nil || st.IsDir() {
				p = filepath.Join(dir, "index.html")
			}
			c.File(p)
		})
	}

	return cors.New(cors.Options{
		AllowedOrigins: h.opts.CorsAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}).Handler(routerEngine)
}

// Start binds the listener and serves until Dispose is called.
func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.opts.ListenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	zap.L().Info("http.listening", zap.String("addr", h.ln.Addr().String()))

	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}
