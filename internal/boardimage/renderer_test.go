package boardimage

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"

	"github.com/tavla-games/gammon-server/internal/engine"
)

func TestRenderPNGOpeningPosition(t *testing.T) {
	r := NewRenderer()
	s := engine.NewGame(engine.White)
	s.Dice = []engine.Die{{Value: 3}, {Value: 5}}

	data, err := r.RenderPNG(context.Background(), s)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != boardWidth || bounds.Dy() != boardHeight {
		t.Fatalf("image is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), boardWidth, boardHeight)
	}
}

func TestRenderPNGCancelledContext(t *testing.T) {
	r := NewRenderer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.RenderPNG(ctx, engine.NewGame(engine.White)); err == nil {
		t.Fatal("cancelled context must fail the render")
	}
}

func TestComposeSVGShowsBarAndTray(t *testing.T) {
	var s engine.GameState
	s.Turn = engine.Black
	s.BarWhite = 2
	s.OffBlack = 3
	s.Points[5] = engine.Point{Count: 7, Owner: engine.Black}

	svg := composeSVG(&s)
	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("malformed document: %.40q...", svg)
	}
	// 2 bar checkers + 7 stacked + turn marker circles, plus off counters.
	if n := strings.Count(svg, "<circle"); n < 10 {
		t.Fatalf("only %d circles in document", n)
	}
	if n := strings.Count(svg, "<rect"); n < 5 {
		t.Fatalf("only %d rects in document", n)
	}
	if n := strings.Count(svg, "<polygon"); n != 24 {
		t.Fatalf("%d point polygons, want 24", n)
	}
}
