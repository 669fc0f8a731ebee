package registry

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soorma-ai/soorma/pkg/config"
	"github.com/soorma-ai/soorma/pkg/httpx"
)

// Server exposes the registry over HTTP.
type Server struct {
	cfg     *config.Registry
	service *Service
	pool    *pgxpool.Pool

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer wires handlers and middleware onto a fresh echo instance.
func NewServer(cfg *config.Registry, service *Service, pool *pgxpool.Pool) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		pool:    pool,
		echo:    echo.New(),
	}

	s.echo.Use(httpx.Recover())
	s.echo.Use(httpx.RequestLogger())
	s.echo.Use(httpx.CORS(cfg.CORSOrigins))

	s.echo.POST("/v1/events", s.upsertEventHandler)
	s.echo.GET("/v1/events", s.listEventsHandler)

	s.echo.POST("/v1/agents", s.registerAgentHandler)
	s.echo.GET("/v1/agents", s.listAgentsHandler)
	s.echo.PUT("/v1/agents/:id/heartbeat", s.heartbeatHandler)
	s.echo.POST("/v1/agents/:id/heartbeat", s.heartbeatHandler)
	s.echo.DELETE("/v1/agents/:id", s.deleteAgentHandler)

	s.echo.GET("/health", s.healthHandler)

	return s
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// StartWithListener serves on an existing listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
