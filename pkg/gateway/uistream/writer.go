package uistream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	frames       <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
}

// Run writes frames until the context ends or the frame channel closes,
// pinging on an interval. It always closes the socket.
func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}
	defer w.ws.Close()

	pingTicker := time.NewTicker(w.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.closeFrame(websocket.CloseNormalClosure, "")
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame, ok := <-w.frames:
			if !ok {
				w.closeFrame(websocket.CloseGoingAway, "stream ended")
				return nil
			}
			if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
				return err
			}
			if err := w.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) closeFrame(code int, reason string) {
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(w.writeTimeout))
}
