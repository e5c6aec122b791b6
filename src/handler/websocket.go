package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const wsWriteTimeout = 10 * time.Second

// handleBacktestStream streams live status updates for one backtest over a
// websocket. The connection closes once the job reaches a terminal state.
func (a *ApiHandler) handleBacktestStream(w http.ResponseWriter, r *http.Request) {
	user, found := userFromContext(r.Context())
	if !found {
		setErrorResponse("handleBacktestStream: unauthorized", http.StatusUnauthorized, fmt.Errorf("no user in context"), w)
		return
	}

	backtestID := mux.Vars(r)["id"]

	// Authorize before upgrading so a plain HTTP error can still be written.
	if _, err := a.backtests.GetStatus(r.Context(), user, backtestID); err != nil {
		respondError("handleBacktestStream: failed to fetch status", err, w)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("handleBacktestStream: failed to upgrade connection: %v", err)
		return
	}

	defer conn.Close()

	updates, cancel := a.backtests.Subscribe(backtestID)
	defer cancel()

	// Drain reads so client close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case status, open := <-updates:
			if !open {
				message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "backtest finished")
				conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(wsWriteTimeout))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(status); err != nil {
				log.Debugf("handleBacktestStream: write failed for %s: %v", backtestID, err)
				return
			}
		case <-clientGone:
			return
		}
	}
}
