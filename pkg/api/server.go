// Package api exposes the engine over HTTP: the WebSocket endpoint for
// game clients and the control endpoints the classroom backend calls.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pullquiz/pullquiz/pkg/database"
	"github.com/pullquiz/pullquiz/pkg/engine"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// TokenAuthenticator resolves opaque client tokens into identities.
type TokenAuthenticator interface {
	LookupToken(ctx context.Context, token string) (*storage.TokenIdentity, error)
}

// Server is the HTTP front of the session engine service.
type Server struct {
	echo     *echo.Echo
	httpSrv  *http.Server
	dbClient *database.Client
	auth     TokenAuthenticator
	manager  *engine.Manager
}

// NewServer wires routes onto a fresh echo instance.
func NewServer(dbClient *database.Client, auth TokenAuthenticator, manager *engine.Manager) *Server {
	s := &Server{
		echo:     echo.New(),
		dbClient: dbClient,
		auth:     auth,
		manager:  manager,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	e.GET("/api/v1/sessions/:id/ws", s.wsHandler)

	// Answer submission accepts student tokens, so it sits outside the
	// teacher-gated control group.
	e.POST("/api/v1/sessions/:id/engine/answers", s.submitAnswerHandler, s.requireSession)

	g := e.Group("/api/v1/sessions/:id/engine", s.requireTeacher)
	g.POST("/init", s.initHandler)
	g.POST("/next-question", s.nextQuestionHandler)
	g.POST("/pause", s.pauseHandler)
	g.POST("/resume", s.resumeHandler)
	g.POST("/end", s.endHandler)
	g.POST("/adjust", s.adjustHandler)
	g.POST("/kick", s.kickHandler)
	g.GET("/state", s.getStateHandler)
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains the HTTP server. Engine shutdown is the manager's job.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
