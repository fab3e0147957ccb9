package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/autodm/notify"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type Config struct {
	Logger *slog.Logger
	Bind   string
	// admin routes and dashboard streams are not mounted when empty
	AdminPassword string
	// webhook requests are not authenticated when empty
	WebhookSecret string
}

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	engine *engine.Engine
	hub    *notify.Hub
	logger *slog.Logger
	config Config
}

func NewServer(eng *engine.Engine, hub *notify.Hub, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "autodm-http")

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:   e,
		engine: eng,
		hub:    hub,
		logger: logger,
		config: config,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("autodm"))
	e.Use(echoprometheus.NewMiddleware("autodm"))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	e.POST("/v1/webhooks/comment", srv.HandleCommentWebhook, srv.webhookAuthMiddleware)

	if config.AdminPassword != "" {
		admin := e.Group("/v1", middleware.BasicAuth(srv.checkAdminAuth))
		admin.GET("/creators/:creatorId/events", srv.HandleCreatorEvents)
		admin.POST("/admin/sweep", srv.HandleAdminSweep)
	} else {
		logger.Warn("no admin password configured; admin and dashboard routes are disabled")
	}

	return srv
}

// Serves until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.config.Bind)
	errc := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
		srv.logger.Info("received exit signal")
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
		return err
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("autodm-http-internal-error", "err", err)
		errorMessage = "internal server error"
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericError{Error: http.StatusText(code), Message: errorMessage}); err != nil {
		srv.logger.Error("writing error response", "err", err)
	}
}
