package engine

// NewGame places the standard opening position and hands the first turn to
// the given color. Bar, off and dice start empty; the cube starts centered at 1.
func NewGame(first Color) GameState {
	var s GameState
	s.Turn = first
	s.Cube = Cube{Value: 1, Owner: CubeCenter}

	// White runs 0→23: two on the opponent's 1-point, five on the mid-point,
	// three and five inside its outer/home boards. Black mirrors.
	place := func(c Color, idx, n int) {
		s.Points[idx] = Point{Count: n, Owner: c}
	}
	place(White, 0, 2)
	place(White, 11, 5)
	place(White, 16, 3)
	place(White, 18, 5)
	place(Black, 23, 2)
	place(Black, 12, 5)
	place(Black, 7, 3)
	place(Black, 5, 5)
	return s
}

// CheckerCount sums a color's checkers across points, bar and off. A reachable
// state always yields 15.
func (s *GameState) CheckerCount(c Color) int {
	total := s.bar(c) + s.off(c)
	for _, p := range s.Points {
		if p.Count > 0 && p.Owner == c {
			total += p.Count
		}
	}
	return total
}

// UnusedDice returns how many dice remain playable this turn.
func (s *GameState) UnusedDice() int {
	n := 0
	for _, d := range s.Dice {
		if !d.Used {
			n++
		}
	}
	return n
}
