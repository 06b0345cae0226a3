package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	licenseErrors "licensor/internal/errors"
	"licensor/internal/license"
	customMiddleware "licensor/internal/middleware"
	ws "licensor/internal/websocket"
)

// InfoSource supplies the snapshot sent to a client when it connects
type InfoSource interface {
	Info() license.Info
}

// EventsHandler upgrades GET /license/events to a websocket that receives
// the current status on connect and every transition after that.
type EventsHandler struct {
	hub      *ws.Hub
	info     InfoSource
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewEventsHandler creates the websocket endpoint on hub
func NewEventsHandler(hub *ws.Hub, info InfoSource, logger *slog.Logger) *EventsHandler {
	h := &EventsHandler{
		hub:    hub,
		info:   info,
		logger: logger.With(slog.String("handler", "license_events")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.WarnContext(r.Context(), "websocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
			licenseErrors.WriteError(w, licenseErrors.WebSocketUpgradeError(status))
		},
	}
	return h
}

// ServeHTTP handles the upgrade and blocks until the client goes away
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request
		return
	}

	client := ws.NewClient(h.hub, ws.NewConnectionWrapper(conn), h.logger)
	if err := client.Queue(ws.TypeLicenseStatus, h.info.Info()); err != nil {
		h.logger.ErrorContext(ctx, "failed to queue initial status",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID))
	}

	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", reqID))

	client.Serve()
}

// checkOrigin accepts requests without an Origin and browser pages served
// from the local machine
func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if customMiddleware.IsLocalOrigin(origin) {
		return true
	}
	h.logger.WarnContext(r.Context(), "websocket origin rejected", slog.String("origin", origin))
	return false
}

// ForwardChanges broadcasts every status change on changes until ctx is done
// or the channel is closed
func ForwardChanges(ctx context.Context, changes <-chan license.StatusChange, hub *ws.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			hub.Broadcast(ws.TypeLicenseChange, change)
		}
	}
}
