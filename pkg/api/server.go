// Package api exposes the HTTP surface: task submission and status,
// the agent control socket, and service health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/browser"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/engine"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/task"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/version"
)

// Server is the HTTP server wiring handlers to the task registry, the
// worker pool, and the agent link.
type Server struct {
	registry *task.Registry
	pool     *engine.Pool
	link     *browser.Link
	httpSrv  *http.Server
}

// NewServer creates the server and its router.
func NewServer(registry *task.Registry, pool *engine.Pool, link *browser.Link, port int) *Server {
	s := &Server{
		registry: registry,
		pool:     pool,
		link:     link,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsForExtension(), securityHeaders())

	r.GET("/", s.ServiceInfo)
	r.GET("/healthz", s.Health)
	r.GET("/ws", s.AgentSocket)
	r.POST("/execute", s.ExecuteTask)
	r.GET("/status/:task_id", s.TaskStatus)
	r.DELETE("/task/:task_id", s.DeleteTask)
	r.POST("/cleanup", s.Cleanup)

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpSrv.Addr, "version", version.Full())
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
