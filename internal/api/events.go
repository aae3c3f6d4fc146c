package api

import (
	"net/http"

	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/session"
)

// handleEvents pushes session events over a websocket. The current
// snapshot is sent first as a "state" event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.session.Subscribe()
	defer s.session.Unsubscribe(updates)

	if err := conn.WriteJSON(session.Event{Type: session.EventState, Snapshot: s.session.Snapshot()}); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	// Drain client frames so a close is noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}
