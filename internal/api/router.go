package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRouter() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	// Management endpoints for probes and scraping.
	management := e.Group("/-")
	management.GET("/healthy", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	management.GET("/ready", func(c echo.Context) error {
		if !s.Ready() {
			return c.String(http.StatusServiceUnavailable, "Not ready")
		}
		return c.String(http.StatusOK, "Ready")
	})
	management.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.POST("/sessions", s.postCreateSession)
	v1.GET("/sessions/:sessionID", s.getSession)
	v1.POST("/sessions/:sessionID/nonces", s.postNonceCommitment)
	v1.POST("/sessions/:sessionID/partial-signatures", s.postPartialSignature)
	v1.POST("/sessions/:sessionID/aggregate", s.postAggregate)
	v1.POST("/sessions/:sessionID/fail", s.postFail)

	s.Echo = e
}
