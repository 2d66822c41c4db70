package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"homehub/internal/web/api"
	"homehub/internal/web/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Dependencies are the services the HTTP surface exposes.
type Dependencies struct {
	Auth         middleware.BearerVerifier
	Devices      api.DeviceDependencies
	Automations  api.AutomationStore
	Realtime     http.Handler
	RealtimePath string
	Health       map[string]api.HealthCheck
}

type WebServer struct {
	router *gin.Engine
	server *http.Server
	logger *logrus.Entry
}

func NewWebServer(addr string, deps Dependencies, logger *logrus.Entry) *WebServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	middlewareManager := middleware.NewMiddlewareManager(deps.Auth, logger)

	if deps.Devices.Logger == nil {
		deps.Devices.Logger = logger
	}
	api.RegisterDeviceRoutes(router, middlewareManager, deps.Devices)
	if deps.Automations != nil {
		api.RegisterAutomationRoutes(router, middlewareManager, deps.Automations, logger)
	}
	api.RegisterHealthRoutes(router, deps.Health)
	if deps.Realtime != nil {
		router.GET(deps.RealtimePath, gin.WrapH(deps.Realtime))
	}

	return &WebServer{
		router: router,
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called.
func (ws *WebServer) Start() error {
	ws.logger.WithField("addr", ws.server.Addr).Info("http server listening")
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return ws.server.Shutdown(ctx)
}
