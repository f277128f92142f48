package stream

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/screenrec/internal/fanout"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + writeWait
)

// WSHandler pushes every value published on a broadcaster to websocket
// clients as JSON. Hello, when set, produces the first message of each
// connection.
type WSHandler[T any] struct {
	events   *fanout.Broadcaster[T]
	hello    func() any
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWSHandler creates a websocket feed. Browsers are only accepted from
// origins; requests without an Origin header (non-browser clients) are
// always accepted.
func NewWSHandler[T any](events *fanout.Broadcaster[T], hello func() any, origins []string, logger zerolog.Logger) *WSHandler[T] {
	h := &WSHandler[T]{
		events: events,
		hello:  hello,
		log:    logger.With().Str("context", "ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(origins, r.Header.Get("Origin")) },
	}
	return h
}

func originAllowed(origins []string, origin string) bool {
	return origin == "" || slices.Contains(origins, origin)
}

func (h *WSHandler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("upgrade_failed")
		return
	}
	defer conn.Close()

	listener := h.events.Subscribe()
	defer h.events.Unsubscribe(listener)

	h.log.Debug().Str("remote", r.RemoteAddr).Int("clients", h.events.ListenerCount()).Msg("client_connected")
	defer h.log.Debug().Str("remote", r.RemoteAddr).Msg("client_disconnected")

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if h.hello != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.hello()); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-listener.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case v := <-listener.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				h.log.Debug().Err(err).Msg("write_failed")
				return
			}
		}
	}
}
