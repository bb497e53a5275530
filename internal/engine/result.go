package engine

import "fmt"

// GameOver reports whether either side has borne off all fifteen checkers.
func GameOver(s GameState) bool {
	return s.OffWhite == 15 || s.OffBlack == 15
}

// GameResult is the engine's terminal classification.
type GameResult struct {
	Winner     Color
	WinType    WinType
	Multiplier int
}

// Result classifies a finished game. Backgammon: the loser still has a checker
// on the bar or inside the winner's home board. Gammon: the loser bore off
// nothing. Valid only once GameOver holds.
func Result(s GameState) (GameResult, error) {
	var winner Color
	switch {
	case s.OffWhite == 15:
		winner = White
	case s.OffBlack == 15:
		winner = Black
	default:
		return GameResult{}, fmt.Errorf("engine: game is not over")
	}
	loser := winner.Opponent()

	wt := WinNormal
	switch {
	case s.bar(loser) > 0 || loserInWinnerHome(&s, winner, loser):
		wt = WinBackgammon
	case s.off(loser) == 0:
		wt = WinGammon
	}
	return GameResult{Winner: winner, WinType: wt, Multiplier: wt.Multiplier()}, nil
}

func loserInWinnerHome(s *GameState, winner, loser Color) bool {
	lo, hi := homeRange(winner)
	for i := lo; i <= hi; i++ {
		if s.Points[i].Count > 0 && s.Points[i].Owner == loser {
			return true
		}
	}
	return false
}
