package httprouter

import (
	"log/slog"
	"net/http"
	"time"

	"mediagrab/internal/consts"
	"mediagrab/internal/events"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Listeners only receive; anything they send is read and dropped
	maxMessageSize = 512
)

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe() (string, <-chan events.Event)
	Unsubscribe(id string)
	Subscribers() int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// nil CheckOrigin: browsers must come from the same host, native clients send no Origin
}

// Events streams every progress event as a JSON text frame until the peer goes away.
func (ro *Router) Events(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "Events")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), consts.RespEventsUpgradeFail, slog.Any("error", err))

		return
	}

	id, ch := ro.events.Subscribe()
	ro.reportSubscribers()

	log = log.With(slog.String("subscriber_id", id))
	log.InfoContext(r.Context(), "events listener connected")

	go ro.writePump(conn, ch, log)

	ro.readPump(conn, log)

	ro.events.Unsubscribe(id)
	ro.reportSubscribers()

	log.InfoContext(r.Context(), "events listener disconnected")
}

// readPump blocks until the connection fails or the peer closes it.
func (ro *Router) readPump(conn *websocket.Conn, log *slog.Logger) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:wrapcheck // handler contract
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("events read", slog.Any("error", err))
			}

			return
		}
	}
}

// writePump forwards events until ch is closed by Unsubscribe or a write fails.
func (ro *Router) writePump(conn *websocket.Conn, ch <-chan events.Event, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := conn.WriteJSON(e); err != nil {
				log.Debug("events write", slog.Any("error", err))

				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("events ping", slog.Any("error", err))

				return
			}
		}
	}
}

func (ro *Router) reportSubscribers() {
	if ro.metrics != nil {
		ro.metrics.SetEventSubscribers(ro.events.Subscribers())
	}
}
