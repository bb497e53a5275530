package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/engine"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// BoardRenderer turns a game state into a PNG for push delivery. Optional:
// a nil renderer means snapshots go out without images.
type BoardRenderer interface {
	RenderPNG(ctx context.Context, s engine.GameState) ([]byte, error)
}

func boardDTO(s *engine.GameState) *gammondto.BoardState {
	if s == nil {
		return nil
	}
	out := &gammondto.BoardState{
		BarWhite:  s.BarWhite,
		BarBlack:  s.BarBlack,
		OffWhite:  s.OffWhite,
		OffBlack:  s.OffBlack,
		Turn:      string(s.Turn),
		CubeValue: s.Cube.Value,
		CubeOwner: string(s.Cube.Owner),
	}
	for i, p := range s.Points {
		out.Points[i] = gammondto.PointState{Count: p.Count, Owner: string(p.Owner)}
	}
	for _, d := range s.Dice {
		out.Dice = append(out.Dice, gammondto.DieState{Value: d.Value, Used: d.Used})
	}
	return out
}

// ToSnapshot builds the client-facing view of a match, rendering a board
// image when a renderer is attached. Render failures degrade to a plain
// snapshot; they never fail the calling transition.
func (mgr *Manager) ToSnapshot(ctx context.Context, m *Match) *gammondto.MatchSnapshot {
	if m == nil {
		return nil
	}
	snap := &gammondto.MatchSnapshot{
		ID:           m.ID,
		Mode:         string(m.Mode),
		Stake:        m.Stake,
		PlayerWhite:  m.PlayerWhite,
		PlayerBlack:  m.PlayerBlack,
		Status:       string(m.Status),
		Board:        boardDTO(m.State),
		Winner:       m.Winner,
		WinType:      string(m.WinType),
		TurnDeadline: m.TurnDeadline,
	}
	if mgr.renderer != nil && m.State != nil {
		png, err := mgr.renderer.RenderPNG(ctx, *m.State)
		if err != nil {
			obslog.L().Warn("board_render_failed", zap.String("match_id", m.ID), zap.Error(err))
		} else {
			snap.BoardImage = png
		}
	}
	return snap
}

func movesFromInput(in []gammondto.MoveInput) []engine.Move {
	out := make([]engine.Move, 0, len(in))
	for _, m := range in {
		out = append(out, engine.Move{From: m.From, To: m.To})
	}
	return out
}
