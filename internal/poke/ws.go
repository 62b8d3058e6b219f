package poke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/syncreducer/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin, matching the CORS policy of the HTTP endpoints.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket and streams the pokes of
// spaceID to it as JSON text messages until the peer disconnects, the
// request context ends or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, spaceID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(mt int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(mt, data)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unsubscribe := h.Subscribe(spaceID, func(msg protocol.PokeMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("encode poke", "space", spaceID, "err", err)
			return
		}
		if err := write(websocket.TextMessage, data); err != nil {
			h.logger.Debug("write poke", "space", spaceID, "err", err)
			cancel()
		}
	})
	defer unsubscribe()

	// The read loop only services control frames and notices disconnects.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-h.done:
			cancel()
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			writeMu.Unlock()
			return nil
		case <-ctx.Done():
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			writeMu.Unlock()
			return nil
		}
	}
}

// Subscription is a client-side WebSocket poke stream.
type Subscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
	err  error
}

// Dial connects to a poke endpoint and calls fn for every poke received.
// fn is called sequentially from a single goroutine.
func Dial(ctx context.Context, url string, fn Handler) (*Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	s := &Subscription{conn: conn, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				s.err = err
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var msg protocol.PokeMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type != protocol.PokeTypeActions {
				continue
			}
			fn(msg)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Done is closed when the stream ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the stream. Valid after Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close ends the stream.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}
