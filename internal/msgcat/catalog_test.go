package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaultsRender(t *testing.T) {
	cat, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := cat.Render("events.match_found", map[string]any{"stake": 500, "mode": "currency"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(text, "500") || !strings.Contains(text, "currency") {
		t.Fatalf("rendered %q", text)
	}
	if !cat.Has("events.match_completed") {
		t.Fatal("embedded key missing")
	}
	if cat.Has("events.nonsense") {
		t.Fatal("phantom key reported")
	}
}

func TestRenderMissingFieldFails(t *testing.T) {
	cat, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cat.Render("events.match_found", map[string]any{}); err == nil {
		t.Fatal("missing template field accepted")
	}
	if _, err := cat.Render("no.such.key", nil); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestOverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	override := "events:\n  match_started: \"custom start line\"\n"
	if err := os.WriteFile(filepath.Join(dir, "10-custom.yaml"), []byte(override), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}

	cat, err := New(dir)
	if err != nil {
		t.Fatalf("New with overrides: %v", err)
	}
	text, err := cat.Render("events.match_started", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if text != "custom start line" {
		t.Fatalf("override not applied: %q", text)
	}
	// untouched keys keep their defaults
	if !cat.Has("events.match_found") {
		t.Fatal("default lost after override")
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("events:\n  move_made: \"x\"\n"), 0o600); err != nil {
			t.Fatalf("write override: %v", err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("duplicate override keys accepted")
	}
}
