package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tavla-games/gammon-server/internal/msgcat"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// WS pushes frames to the gateway over a single websocket. The connection is
// dialed lazily and re-dialed once per failed write; anything beyond that is
// dropped, per the fire-and-forget contract.
type WS struct {
	url string
	cat *msgcat.Catalog

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWS(url string, cat *msgcat.Catalog) *WS {
	return &WS{url: url, cat: cat}
}

func (w *WS) Notify(ctx context.Context, event gammondto.Event, payload any, target gammondto.Target) {
	frame := Frame{
		Event:   event,
		Target:  target,
		Payload: payload,
		Text:    renderText(w.cat, event, payload),
		SentAt:  time.Now().UTC(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(ctx, &frame); err != nil {
		// one reconnect attempt, then give up on this frame
		w.drop()
		if err := w.write(ctx, &frame); err != nil {
			obslog.L().Warn("push_deliver_failed",
				zap.String("event", string(event)),
				zap.String("target_id", target.ID),
				zap.Error(err),
			)
		}
	}
}

func (w *WS) write(ctx context.Context, frame *Frame) error {
	if w.conn == nil {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		conn, _, err := websocket.Dial(dialCtx, w.url, &websocket.DialOptions{
			CompressionMode: websocket.CompressionNoContextTakeover,
		})
		if err != nil {
			return err
		}
		w.conn = conn
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, w.conn, frame)
}

func (w *WS) drop() {
	if w.conn != nil {
		_ = w.conn.Close(websocket.StatusGoingAway, "redial")
		w.conn = nil
	}
}

// Close shuts the gateway connection down cleanly.
func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(websocket.StatusNormalClosure, "shutdown")
	w.conn = nil
	return err
}
