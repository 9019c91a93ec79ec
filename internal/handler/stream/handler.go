// Package stream pushes job events to clients over Server-Sent Events and
// WebSocket.
package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/pkg/utils"
)

const (
	heartbeatInterval = 15 * time.Second
	pingInterval      = 54 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

// Events is the part of the job service the stream handlers need.
type Events interface {
	Get(ctx context.Context, id string) (job.Job, error)
	Subscribe(jobID string) (<-chan job.Event, func())
}

// Handler streams job events.
type Handler struct {
	jobs     Events
	upgrader websocket.Upgrader
}

// New creates a stream handler.
func New(jobs Events) *Handler {
	return &Handler{
		jobs: jobs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts /jobs/ws and /jobs/{id}/events.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/jobs/ws", h.handleFeed)
	r.Get("/jobs/{id}/events", h.handleEvents)
}

// handleEvents streams one job's events as SSE until it reaches a terminal
// state or the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// subscribe before reading the snapshot so no transition is missed
	events, unsubscribe := h.jobs.Subscribe(id)
	defer unsubscribe()

	current, err := h.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "job not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "", "snapshot", current); err != nil {
		return
	}
	if current.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("sse client left", zap.String("job", id))
			return
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "", "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, strconv.FormatUint(evt.Seq, 10), string(evt.Type), evt); err != nil {
				return
			}
			if evt.Job.Status.Terminal() {
				return
			}
		}
	}
}

// handleFeed upgrades to a WebSocket that receives every job event. An
// optional ?job= query narrows the feed to one job.
func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	// subscribe before the handshake completes so the client sees every
	// event after its dial returns
	events, unsubscribe := h.jobs.Subscribe(r.URL.Query().Get("job"))
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the reader only drains control frames and notices the client leaving
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
