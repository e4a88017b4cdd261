package events

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket timings.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Stream sends the hub's backlog after since and then every live event to
// conn as JSON text frames. It returns when ctx ends, the client goes away,
// or the hub drops the subscription, and always closes conn.
func Stream(ctx context.Context, conn *websocket.Conn, hub *Hub, since uint64) error {
	defer conn.Close()

	backlog, live, cancel := hub.Subscribe(since)
	defer cancel()

	// Client frames are only read to process pongs and notice a close.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, event := range backlog {
		if err := writeEvent(conn, event); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return nil
		case <-clientGone:
			return nil
		case event, ok := <-live:
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure, "stream ended")
				return nil
			}
			if err := writeEvent(conn, event); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write event %d: %w", event.Seq, err)
	}
	return nil
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
