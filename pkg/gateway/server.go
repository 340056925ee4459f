package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/corvid-agent/corvid/internal/observability"
)

// Server serves the websocket event tap and the metrics endpoint.
type Server struct {
	broadcaster *Broadcaster
	logger      zerolog.Logger
	httpServer  *http.Server
	upgrader    websocket.Upgrader
}

// NewServer creates a gateway server listening on addr.
func NewServer(addr string, broadcaster *Broadcaster, logger zerolog.Logger) *Server {
	s := &Server{
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "gateway-server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/metrics", observability.MetricsHandler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Gateway server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id := uuid.New().String()
	s.broadcaster.Register(id, conn)

	// The tap is one-way; the read loop only detects disconnects.
	go func() {
		defer s.broadcaster.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
