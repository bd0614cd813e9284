package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type ServerOptions struct {
	AllowedOrigins    []string
	PingInterval      time.Duration
	MessagesPerSecond float64
	Burst             int
}

// Server upgrades HTTP requests to websocket sessions backed by the registry.
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	opts     ServerOptions
	logger   zerolog.Logger
}

func NewServer(registry *Registry, opts ServerOptions, logger zerolog.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	s := &Server{
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "realtime_server").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits requests without an Origin header (non-browser
// clients) and browser requests from the allowed list. "*" admits all.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("rejected websocket origin")
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := s.registry.Register(uuid.NewString())
	logger := s.logger.With().Str("connection_id", conn.ID()).Logger()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("client connected")

	go s.writeLoop(ws, conn, logger)

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		_, _ = s.registry.Authenticate(r.Context(), conn.ID(), token)
	}

	s.readLoop(r.Context(), ws, conn, logger)
	s.registry.Deregister(conn.ID())
	logger.Info().Msg("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection, logger zerolog.Logger) {
	defer ws.Close()

	pongWait := s.opts.PingInterval * 2
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			_ = s.registry.Send(conn.ID(), EventError, map[string]any{"message": "rate limit exceeded"})
			continue
		}
		if err := s.registry.HandleMessage(ctx, conn.ID(), payload); err != nil {
			logger.Debug().Err(err).Msg("stopping read loop")
			return
		}
	}
}

// writeLoop drains the outbound queue and keeps the peer alive with pings.
// It exits when the registry closes the queue or a write fails.
func (s *Server) writeLoop(ws *websocket.Conn, conn *Connection, logger zerolog.Logger) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}
