package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steamfleet/shepherd/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler returns an HTTP handler that upgrades the connection to a
// websocket and streams broker events to it as JSON until the observer
// disconnects.
func Handler(broker *Broker) http.HandlerFunc {
	logger := log.WithComponent("broadcast")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)

		// The reader only services control frames; observers never send data.
		go func() {
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					_ = conn.Close()
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		defer conn.Close()

		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
