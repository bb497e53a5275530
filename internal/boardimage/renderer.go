// Package boardimage renders a game state to a PNG for push delivery. The
// board is composed as an SVG document and rasterized, so layout stays
// resolution-independent.
package boardimage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/tavla-games/gammon-server/internal/engine"
)

const (
	margin      = 20
	pointWidth  = 56
	pointHeight = 236
	barWidth    = 60
	trayWidth   = 60

	boardWidth  = margin*2 + pointWidth*12 + barWidth + trayWidth
	boardHeight = 600

	checkerRadius = pointWidth/2 - 4
)

var (
	feltColor       = color.RGBA{0x1f, 0x4d, 0x2e, 0xff}
	pointDarkFill   = "#8a5a2b"
	pointLightFill  = "#d9b380"
	barFill         = "#5c3a1e"
	trayFill        = "#3b2a16"
	whiteChecker    = "#f2ead9"
	whiteCheckerRim = "#b8ab8f"
	blackChecker    = "#2b2420"
	blackCheckerRim = "#6e5f4f"
	dieFill         = "#fffbe8"
	diePip          = "#1c1712"
	usedDieFill     = "#b9b2a0"
)

type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderPNG rasterizes the state. Safe for concurrent use; every call builds
// its own document and canvas.
func (r *Renderer) RenderPNG(ctx context.Context, s engine.GameState) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(composeSVG(&s)))
	if err != nil {
		return nil, fmt.Errorf("parse board svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(boardWidth), float64(boardHeight))

	img := image.NewRGBA(image.Rect(0, 0, boardWidth, boardHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(feltColor), image.Point{}, imagedraw.Src)

	scanner := rasterx.NewScannerGV(boardWidth, boardHeight, img, img.Bounds())
	raster := rasterx.NewDasher(boardWidth, boardHeight, scanner)
	icon.Draw(raster, 1.0)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode board png: %w", err)
	}
	return buf.Bytes(), nil
}

func composeSVG(s *engine.GameState) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		boardWidth, boardHeight, boardWidth, boardHeight)

	writeFrame(&b)
	for i := 0; i < 24; i++ {
		writePoint(&b, i)
		writePointCheckers(&b, s, i)
	}
	writeBarCheckers(&b, s)
	writeTrays(&b, s)
	writeDice(&b, s)
	writeTurnMarker(&b, s)

	b.WriteString(`</svg>`)
	return b.String()
}

// columnX returns the left edge of a point column, jumping the bar after the
// sixth column.
func columnX(col int) int {
	x := margin + col*pointWidth
	if col >= 6 {
		x += barWidth
	}
	return x
}

// geometry maps a point index to its column and row. The top row shows
// points 12..23 left to right, the bottom row 11..0, matching the direction
// of white's travel around the horseshoe.
func geometry(idx int) (col int, top bool) {
	if idx >= 12 {
		return idx - 12, true
	}
	return 11 - idx, false
}

func writeFrame(b *strings.Builder) {
	barX := margin + 6*pointWidth
	fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`,
		barX, margin, barWidth, boardHeight-2*margin, barFill)
	trayX := margin + 12*pointWidth + barWidth
	fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`,
		trayX, margin, trayWidth, boardHeight-2*margin, trayFill)
}

func writePoint(b *strings.Builder, idx int) {
	col, top := geometry(idx)
	x := columnX(col)
	fill := pointDarkFill
	if idx%2 == 0 {
		fill = pointLightFill
	}
	if top {
		fmt.Fprintf(b, `<polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`,
			x, margin, x+pointWidth, margin, x+pointWidth/2, margin+pointHeight, fill)
	} else {
		base := boardHeight - margin
		fmt.Fprintf(b, `<polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`,
			x, base, x+pointWidth, base, x+pointWidth/2, base-pointHeight, fill)
	}
}

func writePointCheckers(b *strings.Builder, s *engine.GameState, idx int) {
	p := s.Points[idx]
	if p.Count == 0 {
		return
	}
	col, top := geometry(idx)
	cx := columnX(col) + pointWidth/2
	writeStack(b, p.Owner, p.Count, cx, top)
}

// writeStack draws count checkers from the board edge toward the middle,
// compressing the spacing once a clean stack would overflow the point.
func writeStack(b *strings.Builder, owner engine.Color, count, cx int, top bool) {
	step := 2 * checkerRadius
	maxClean := pointHeight / step
	if count > maxClean && count > 1 {
		step = (pointHeight - 2*checkerRadius) / (count - 1)
	}
	for k := 0; k < count; k++ {
		var cy int
		if top {
			cy = margin + checkerRadius + k*step
		} else {
			cy = boardHeight - margin - checkerRadius - k*step
		}
		writeChecker(b, owner, cx, cy)
	}
}

func writeChecker(b *strings.Builder, owner engine.Color, cx, cy int) {
	fill, rim := whiteChecker, whiteCheckerRim
	if owner == engine.Black {
		fill, rim = blackChecker, blackCheckerRim
	}
	fmt.Fprintf(b, `<circle cx="%d" cy="%d" r="%d" fill="%s" stroke="%s" stroke-width="2"/>`,
		cx, cy, checkerRadius, fill, rim)
}

func writeBarCheckers(b *strings.Builder, s *engine.GameState) {
	cx := margin + 6*pointWidth + barWidth/2
	for k := 0; k < s.BarWhite; k++ {
		writeChecker(b, engine.White, cx, boardHeight/2-checkerRadius-2-k*(checkerRadius+6))
	}
	for k := 0; k < s.BarBlack; k++ {
		writeChecker(b, engine.Black, cx, boardHeight/2+checkerRadius+2+k*(checkerRadius+6))
	}
}

// writeTrays draws borne-off checkers as flat counters in the side tray,
// white filling from the top and black from the bottom.
func writeTrays(b *strings.Builder, s *engine.GameState) {
	x := margin + 12*pointWidth + barWidth + 6
	w := trayWidth - 12
	const h = 12
	for k := 0; k < s.OffWhite; k++ {
		fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" rx="3" fill="%s" stroke="%s"/>`,
			x, margin+4+k*(h+3), w, h, whiteChecker, whiteCheckerRim)
	}
	for k := 0; k < s.OffBlack; k++ {
		fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" rx="3" fill="%s" stroke="%s"/>`,
			x, boardHeight-margin-4-h-k*(h+3), w, h, blackChecker, blackCheckerRim)
	}
}

func writeDice(b *strings.Builder, s *engine.GameState) {
	const size = 40
	n := len(s.Dice)
	if n == 0 {
		return
	}
	totalW := n*size + (n-1)*10
	// centered over the right half of the board
	x := margin + 6*pointWidth + barWidth + (6*pointWidth)/2 - totalW/2
	y := boardHeight/2 - size/2
	for i, d := range s.Dice {
		fill := dieFill
		if d.Used {
			fill = usedDieFill
		}
		dx := x + i*(size+10)
		fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" rx="6" fill="%s" stroke="%s" stroke-width="2"/>`,
			dx, y, size, size, fill, diePip)
		writePips(b, d.Value, dx, y, size)
	}
}

// writePips places the pip pattern for one die face.
func writePips(b *strings.Builder, value, x, y, size int) {
	c := size / 2
	q := size / 4
	var centers [][2]int
	switch value {
	case 1:
		centers = [][2]int{{c, c}}
	case 2:
		centers = [][2]int{{q, q}, {size - q, size - q}}
	case 3:
		centers = [][2]int{{q, q}, {c, c}, {size - q, size - q}}
	case 4:
		centers = [][2]int{{q, q}, {size - q, q}, {q, size - q}, {size - q, size - q}}
	case 5:
		centers = [][2]int{{q, q}, {size - q, q}, {c, c}, {q, size - q}, {size - q, size - q}}
	case 6:
		centers = [][2]int{{q, q}, {size - q, q}, {q, c}, {size - q, c}, {q, size - q}, {size - q, size - q}}
	}
	for _, p := range centers {
		fmt.Fprintf(b, `<circle cx="%d" cy="%d" r="4" fill="%s"/>`, x+p[0], y+p[1], diePip)
	}
}

// writeTurnMarker puts a small dot of the mover's color on their side of the
// bar.
func writeTurnMarker(b *strings.Builder, s *engine.GameState) {
	if s.Turn == "" {
		return
	}
	cx := margin + 6*pointWidth + barWidth/2
	cy := margin / 2
	fill, rim := whiteChecker, whiteCheckerRim
	if s.Turn == engine.Black {
		cy = boardHeight - margin/2
		fill, rim = blackChecker, blackCheckerRim
	}
	fmt.Fprintf(b, `<circle cx="%d" cy="%d" r="7" fill="%s" stroke="%s" stroke-width="2"/>`, cx, cy, fill, rim)
}
