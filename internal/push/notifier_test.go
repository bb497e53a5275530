package push

import (
	"strings"
	"testing"

	"github.com/tavla-games/gammon-server/internal/msgcat"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

func TestRenderTextFromCatalog(t *testing.T) {
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}

	text := renderText(cat, gammondto.EventMatchFound, map[string]any{
		"match_id": "m-1", "mode": "currency", "stake": int64(250),
	})
	if !strings.Contains(text, "250") {
		t.Fatalf("rendered %q", text)
	}

	// Constant templates render against any payload shape.
	if got := renderText(cat, gammondto.EventMatchStarted, struct{}{}); got == "" {
		t.Fatal("constant template produced no text")
	}

	// Unknown events and missing fields degrade to empty, never error.
	if got := renderText(cat, gammondto.Event("no_such_event"), nil); got != "" {
		t.Fatalf("unknown event rendered %q", got)
	}
	if got := renderText(cat, gammondto.EventMatchFound, map[string]any{}); got != "" {
		t.Fatalf("missing fields rendered %q", got)
	}
	if got := renderText(nil, gammondto.EventMatchFound, nil); got != "" {
		t.Fatalf("nil catalog rendered %q", got)
	}
}
