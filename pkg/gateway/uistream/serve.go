package uistream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const maxInboundBytes = 4096

// Serve streams hub events to an upgraded connection until either side
// ends it. snapshot, when non-nil, is sent first. The connection is closed
// on return.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, snapshot any) error {
	sub, err := h.Subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return err
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if snapshot != nil {
		if err := h.writeSnapshot(conn, snapshot); err != nil {
			_ = conn.Close()
			return err
		}
	}

	// Clients only send control frames; reading is what surfaces their close.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		conn.SetReadLimit(maxInboundBytes)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	w := outboundWriter{
		ws:           conn,
		ctx:          ctx,
		frames:       sub.Frames(),
		pingInterval: h.cfg.PingInterval,
		writeTimeout: h.cfg.WriteTimeout,
	}
	err = w.Run()
	<-readDone
	return err
}

func (h *Hub) writeSnapshot(conn *websocket.Conn, snapshot any) error {
	h.mu.Lock()
	seq := h.seq
	h.mu.Unlock()
	frame, err := json.Marshal(Event{Seq: seq, Type: EventSnapshot, At: h.now().UTC(), Data: snapshot})
	if err != nil {
		return fmt.Errorf("uistream: encode snapshot: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}
