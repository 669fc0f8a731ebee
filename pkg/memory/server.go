package memory

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

// Server exposes the memory store over HTTP.
type Server struct {
	cfg     *config.Memory
	service *Service
	pool    *pgxpool.Pool

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer wires handlers and middleware onto a fresh echo instance.
func NewServer(cfg *config.Memory, service *Service, pool *pgxpool.Pool) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		pool:    pool,
		echo:    echo.New(),
	}

	s.echo.Use(httpx.Recover())
	s.echo.Use(httpx.RequestLogger())
	s.echo.Use(httpx.CORS(cfg.CORSOrigins))

	s.echo.PUT("/v1/memory/working/:plan_id/:key", s.putWorkingHandler)
	s.echo.GET("/v1/memory/working/:plan_id/:key", s.getWorkingHandler)
	s.echo.DELETE("/v1/memory/working/:plan_id/:key", s.deleteWorkingHandler)
	s.echo.DELETE("/v1/memory/working/:plan_id", s.deleteWorkingPlanHandler)

	s.echo.POST("/v1/memory/episodic", s.appendEpisodicHandler)
	s.echo.GET("/v1/memory/episodic/recent", s.recentEpisodicHandler)
	s.echo.GET("/v1/memory/episodic/search", s.searchEpisodicHandler)

	s.echo.POST("/v1/memory/semantic", s.upsertSemanticHandler)
	s.echo.POST("/v1/memory/semantic/search", s.searchSemanticHandler)

	s.echo.POST("/v1/memory/procedural", s.addProceduralHandler)
	s.echo.GET("/v1/memory/procedural", s.listProceduralHandler)
	s.echo.GET("/v1/memory/procedural/search", s.searchProceduralHandler)

	s.echo.POST("/v1/plans", s.createPlanHandler)
	s.echo.GET("/v1/plans", s.listPlansHandler)
	s.echo.GET("/v1/plans/by-correlation/:correlation_id", s.getPlanByCorrelationHandler)
	s.echo.GET("/v1/plans/:plan_id", s.getPlanHandler)
	s.echo.PUT("/v1/plans/:plan_id", s.updatePlanHandler)
	s.echo.DELETE("/v1/plans/:plan_id", s.deletePlanHandler)

	s.echo.POST("/v1/tasks", s.upsertTaskHandler)
	s.echo.GET("/v1/tasks/by-subtask/:sub_task_id", s.getTaskBySubtaskHandler)
	s.echo.GET("/v1/tasks/:task_id", s.getTaskHandler)
	s.echo.PUT("/v1/tasks/:task_id", s.updateTaskHandler)
	s.echo.DELETE("/v1/tasks/:task_id", s.deleteTaskHandler)

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
