// Package push delivers core events to the real-time gateway. Delivery is
// fire-and-forget: a failed push is logged and dropped, it never rolls back
// the transition that produced it.
package push

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/msgcat"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// Notifier is the only outward seam the core calls for client delivery.
type Notifier interface {
	Notify(ctx context.Context, event gammondto.Event, payload any, target gammondto.Target)
}

// Frame is the wire shape handed to the gateway. Text is the rendered
// human-readable line for clients that show plain notifications.
type Frame struct {
	Event   gammondto.Event  `json:"event"`
	Target  gammondto.Target `json:"target"`
	Payload any              `json:"payload,omitempty"`
	Text    string           `json:"text,omitempty"`
	SentAt  time.Time        `json:"sent_at"`
}

// renderText looks the event's template up in the catalog. A missing or
// failing template degrades to no text, never to a dropped frame.
func renderText(cat *msgcat.Catalog, event gammondto.Event, payload any) string {
	if cat == nil {
		return ""
	}
	key := "events." + string(event)
	if !cat.Has(key) {
		return ""
	}
	text, err := cat.Render(key, payload)
	if err != nil {
		return ""
	}
	return text
}

// Nop drops everything; used in tests.
type Nop struct{}

func (Nop) Notify(context.Context, gammondto.Event, any, gammondto.Target) {}

// Log writes events to the structured log instead of a gateway; the default
// for local development.
type Log struct {
	Catalog *msgcat.Catalog
}

func (l Log) Notify(_ context.Context, event gammondto.Event, payload any, target gammondto.Target) {
	obslog.L().Info("push_event",
		zap.String("event", string(event)),
		zap.String("target_kind", string(target.Kind)),
		zap.String("target_id", target.ID),
		zap.String("text", renderText(l.Catalog, event, payload)),
	)
}

// New selects a notifier by mode: ws | log | none.
func New(mode, wsURL string, cat *msgcat.Catalog) Notifier {
	switch mode {
	case "ws":
		return NewWS(wsURL, cat)
	case "none":
		return Nop{}
	default:
		return Log{Catalog: cat}
	}
}
