package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	bioecho "github.com/pilab-dev/biolock/api/echo"
	"github.com/pilab-dev/biolock/log"
	"github.com/prometheus/client_golang/prometheus"
)

// NewEcho builds the echo router serving the login API.
func NewEcho(app *App, appLogger log.Logger, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(bioecho.RequestLogger(appLogger))
	e.Use(bioecho.SecurityHeaders())
	e.Use(bioecho.DeviceCredential())

	bioecho.NewLoginAPI(app.Machine, gatherer).RegisterRoutes(e)

	return e
}

// NewHTTPServer wraps the router in an http.Server listening on the configured address.
func NewHTTPServer(app *App, appLogger log.Logger, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              app.Config.HTTPAddr,
		Handler:           NewEcho(app, appLogger, gatherer),
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       5 * time.Second,
		// Capability prompts can keep a request open.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
}
