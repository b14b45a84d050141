package management

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWriteWait = 10 * time.Second
	watchReadLimit = 512
)

// handleWatch streams registry events as JSON text frames until the client
// goes away or the registry closes the subscription.
func (api *API) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := api.registry.Subscribe(api.config.WatchBuffer)
	defer cancel()

	if api.metrics != nil {
		api.metrics.WatchSubscribers.Inc()
		defer api.metrics.WatchSubscribers.Dec()
	}
	api.logger.Debug("Watch subscriber connected", "remote", r.RemoteAddr)

	// Clients only send control frames; reading drives pong handling and
	// notices disconnects.
	pongWait := 2 * api.config.PingPeriod
	conn.SetReadLimit(watchReadLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(api.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			api.logger.Debug("Watch subscriber disconnected", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "registry closed"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				api.logger.Debug("Failed to write watch event", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
