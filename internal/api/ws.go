package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"bandaid/internal/logging"
	"bandaid/internal/services"
	"bandaid/internal/statusfeed"
)

var wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handlePosterFeed streams a poster's status feed over a WebSocket. New
// statuses arrive as status.update frames; a status.history.request control
// message is answered with the full history, oldest first.
func (s *Server) handlePosterFeed(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	agent, err := s.registry.GetPoster(r.Context(), slug)
	if err != nil {
		if services.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "poster not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.String(logging.FieldSlug, slug), logging.Error(err))
		return
	}
	defer conn.Close()

	sub := agent.Subscribe()
	defer sub.Cancel()

	histories := make(chan []string, 4)
	done := make(chan struct{})
	defer close(done)

	// All frames leave through this goroutine; gorilla connections allow a
	// single concurrent writer. Whenever the writer exits it closes the
	// connection and writerDone, so the read loop below can never stay
	// blocked on a dead writer.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		for {
			select {
			case status, ok := <-sub.Updates():
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "poster removed"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				frame := statusfeed.StatusUpdate{Event: statusfeed.EventStatusUpdate, Status: status}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case history := <-histories:
				frame := statusfeed.StatusHistory{Event: statusfeed.EventStatusHistory, History: history}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var msg statusfeed.ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Event != statusfeed.EventHistoryRequest {
			continue
		}
		history, err := agent.StatusHistory(r.Context())
		if err != nil {
			s.logger.Warn("status history fetch failed", logging.String(logging.FieldSlug, slug), logging.Error(err))
			continue
		}
		if history == nil {
			history = []string{}
		}
		select {
		case histories <- history:
		case <-writerDone:
			return
		}
	}
}
