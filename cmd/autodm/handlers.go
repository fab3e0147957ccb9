package main

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/autodm/notify"

	"github.com/labstack/echo/v4"
)

const webhookSecretHeader = "X-Autodm-Secret"

type pinger interface {
	Ping(ctx context.Context) error
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if p, ok := srv.engine.Store.(pinger); ok {
		if err := p.Ping(c.Request().Context()); err != nil {
			srv.logger.Error("database ping failed", "err", err)
			return c.JSON(http.StatusInternalServerError, GenericStatus{Daemon: "autodm", Status: "error", Message: "database not available"})
		}
	}
	return c.JSON(http.StatusOK, GenericStatus{Daemon: "autodm", Status: "ok"})
}

func (srv *Server) webhookAuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.config.WebhookSecret == "" {
			return next(c)
		}
		got := c.Request().Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(srv.config.WebhookSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
		}
		return next(c)
	}
}

func (srv *Server) checkAdminAuth(username, password string, c echo.Context) (bool, error) {
	if username != "admin" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(srv.config.AdminPassword)) == 1, nil
}

// Accepts one comment event from the platform integration. Policy outcomes (including blocked
// and failed deliveries) are a 200 with the outcome body; a 500 means the event should be
// redelivered.
func (srv *Server) HandleCommentWebhook(c echo.Context) error {
	var evt engine.CommentEvent
	if err := c.Bind(&evt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid comment event body")
	}
	if err := evt.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out, err := srv.engine.ProcessCommentTrigger(c.Request().Context(), evt)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// Streams a creator's delivery notifications over a websocket.
func (srv *Server) HandleCreatorEvents(c echo.Context) error {
	creatorID := c.Param("creatorId")
	if creatorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing creatorId")
	}
	return srv.hub.ServeWebsocket(c.Request().Context(), c.Response(), c.Request(), notify.ChannelKey(creatorID))
}

// Runs one reconciliation sweep synchronously, for operators and cron-style schedulers.
func (srv *Server) HandleAdminSweep(c echo.Context) error {
	res, err := srv.engine.RunReconciliationSweep(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
