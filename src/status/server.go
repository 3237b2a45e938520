// Package status serves a read-only view of the watcher: channel state,
// tracked URLs, Prometheus metrics, and a WebSocket fan-out at /ws.
package status

import (
	"net"
	"net/http"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/crawlwatch/src/channel"
	"github.com/orchestra-mcp/crawlwatch/src/hub"
	"github.com/orchestra-mcp/crawlwatch/src/tracker"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// ChannelState reports realtime channel state.
type ChannelState interface {
	Snapshot() channel.Snapshot
}

// URLSource is the tracked URL table.
type URLSource interface {
	URLs() []types.URLData
	Get(id string) (types.URLData, bool)
	Stats() tracker.Stats
}

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server exposes the status routes on a fasthttp server.
type Server struct {
	app    *fiber.App
	ch     ChannelState
	urls   URLSource
	hub    *hub.Hub
	logger zerolog.Logger
	srv    *fasthttp.Server
}

// New builds the routes. hub and metrics may be nil to leave /ws and
// /metrics unregistered.
func New(ch ChannelState, urls URLSource, h *hub.Hub, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		app:    fiber.New(),
		ch:     ch,
		urls:   urls,
		hub:    h,
		logger: logger.With().Str("component", "status").Logger(),
	}
	s.app.Get("/status", s.handleStatus)
	s.app.Get("/urls", s.handleURLs)
	s.app.Get("/urls/:id", s.handleURL)
	if metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
	s.srv = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "crawlwatch",
	}
	return s
}

// App returns the fiber application serving the JSON routes.
func (s *Server) App() *fiber.App { return s.app }

type statusResponse struct {
	channel.Snapshot
	Watchers int `json:"watchers"`
}

func (s *Server) handleStatus(c fiber.Ctx) error {
	resp := statusResponse{Snapshot: s.ch.Snapshot()}
	if s.hub != nil {
		resp.Watchers = s.hub.ClientCount()
	}
	return c.JSON(resp)
}

func (s *Server) handleURLs(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"urls":  s.urls.URLs(),
		"stats": s.urls.Stats(),
	})
}

func (s *Server) handleURL(c fiber.Ctx) error {
	u, ok := s.urls.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "url not tracked",
		})
	}
	return c.JSON(u)
}

// Handler routes /ws to the fan-out hub and everything else to the fiber
// app. The upgrade needs the raw *fasthttp.RequestCtx, which fiber handlers
// do not expose.
func (s *Server) Handler() fasthttp.RequestHandler {
	appHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if s.hub != nil && string(ctx.Path()) == "/ws" {
			s.serveWS(ctx)
			return
		}
		appHandler(ctx)
	}
}

func (s *Server) serveWS(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	var urls []string
	for _, v := range ctx.QueryArgs().PeekMulti("url") {
		urls = append(urls, string(v))
	}
	clientID := uuid.New().String()
	h := s.hub

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(clientID, conn, h, urls...)
		h.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// ListenAndServe blocks serving on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("status server listening")
	return s.srv.ListenAndServe(addr)
}

// Serve blocks serving connections from ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
