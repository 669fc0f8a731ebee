package eventservice

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/soorma-ai/soorma/pkg/bus"
	"github.com/soorma-ai/soorma/pkg/config"
	"github.com/soorma-ai/soorma/pkg/httpx"
)

// Server terminates HTTP for agents: publish endpoint, SSE streams, and
// admin surfaces. All live streams are owned by the StreamManager.
type Server struct {
	cfg       *config.EventService
	adapter   bus.Adapter
	streams   *StreamManager
	validator SchemaValidator

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer wires handlers and middleware onto a fresh echo instance.
func NewServer(cfg *config.EventService, adapter bus.Adapter, streams *StreamManager) *Server {
	s := &Server{
		cfg:     cfg,
		adapter: adapter,
		streams: streams,
		echo:    echo.New(),
	}

	s.echo.Use(httpx.Recover())
	s.echo.Use(httpx.RequestLogger("/v1/events/stream"))
	s.echo.Use(httpx.CORS(cfg.CORSOrigins))

	s.echo.POST("/v1/events/publish", s.publishHandler)
	s.echo.GET("/v1/events/stream", s.streamHandler)
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/connections", s.connectionsHandler)

	return s
}

// SetValidator enables publish-side payload validation. Nil disables it.
func (s *Server) SetValidator(v SchemaValidator) {
	s.validator = v
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.echo,
		// SSE reads are unbounded; only bound the header read.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// StartWithListener serves on an existing listener (tests use this to
// grab an ephemeral port).
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown drains the HTTP server. Live SSE loops observe their request
// contexts being cancelled and tear down their subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
