// Package server exposes the research API over HTTP: task submission,
// live SSE streaming of run events, cancellation and the finished-run
// archive.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/dispatch"
	"github.com/inquestai/inquest/internal/history"
	"github.com/inquestai/inquest/internal/relay"
)

// Server wires the HTTP surface to the dispatch and relay layers.
type Server struct {
	Dispatcher dispatch.Dispatcher
	Subscriber relay.Subscriber
	Store      checkpoint.Store
	Archive    *history.Archive
	Logger     *log.Logger

	// JWTSecret enables bearer-token auth on /api when non-empty.
	JWTSecret []byte

	echo *echo.Echo
}

// New assembles the Echo instance with all routes registered.
func New(s *Server) *Server {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))
	e.Use(requestMetrics())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if len(s.JWTSecret) > 0 {
		api.Use(AuthMiddleware(s.JWTSecret))
	}

	api.POST("/research", s.submitResearch)
	api.GET("/research/:task_id", s.researchStatus)
	api.GET("/research/stream/:task_id", s.streamResearch)
	api.DELETE("/research/:task_id", s.cancelResearch)

	api.GET("/history", s.listHistory)
	api.GET("/history/search", s.searchHistory)
	api.GET("/history/:task_id", s.getHistory)

	s.echo = e
	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
