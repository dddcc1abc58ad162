package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/store"
)

// EventsHandler streams an envelope's audit trail over a websocket. The
// back office uses it to show signing progress live.
type EventsHandler struct {
	store    store.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
	interval time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(st store.Store, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		store:  st,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The browser client is same-origin with the back office.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		interval: 2 * time.Second,
	}
}

// SetInterval overrides the poll interval. Intended for tests.
func (h *EventsHandler) SetInterval(d time.Duration) { h.interval = d }

// Stream upgrades the connection and pushes audit entries as they are
// appended. Existing entries are replayed first, oldest first.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	envelopeID := chi.URLParam(r, "envelopeID")

	env, err := h.store.Envelopes().Get(r.Context(), envelopeID)
	if err != nil {
		h.logger.Error("failed to load envelope", "error", err)
		WriteDomainError(w, r, err)
		return
	}
	if env == nil {
		WriteDomainError(w, r, envelope.ErrEnvelopeNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client never sends data, but reading is how we
	// notice the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		entries, err := h.store.Audit().ListByEnvelope(r.Context(), envelopeID)
		if err != nil {
			h.logger.Error("failed to list audit log", "envelope_id", envelopeID, "error", err)
			return
		}
		for ; sent < len(entries); sent++ {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(entries[sent]); err != nil {
				return
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
