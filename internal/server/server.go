// Package server exposes a small operational status endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Status is the payload returned by GET /status.
type Status struct {
	Uptime        string `json:"uptime"`
	Sessions      int    `json:"sessions"`
	FeedConnected bool   `json:"feed_connected"`
	FeedEnabled   bool   `json:"feed_enabled"`
}

// StatusSource reports the live state the endpoint publishes.
type StatusSource interface {
	SessionCount() int
	FeedConnected() (enabled, connected bool)
}

type Server struct {
	echo    *echo.Echo
	addr    string
	source  StatusSource
	started time.Time
}

func NewServer(addr string, source StatusSource) *Server {
	if addr == "" {
		addr = "127.0.0.1:8090"
	}

	s := &Server{
		addr:    addr,
		source:  source,
		started: time.Now(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/ping", s.ping)
	e.GET("/status", s.status)
	s.echo = e

	return s
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) status(c echo.Context) error {
	st := Status{
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.source != nil {
		st.Sessions = s.source.SessionCount()
		st.FeedEnabled, st.FeedConnected = s.source.FeedConnected()
	}
	return c.JSON(http.StatusOK, st)
}
