package engine

import (
	"math/rand"
	"testing"
)

func dice(vals ...int) []Die {
	out := make([]Die, 0, len(vals))
	for _, v := range vals {
		out = append(out, Die{Value: v})
	}
	return out
}

func checkConservation(t *testing.T, s GameState) {
	t.Helper()
	for _, c := range []Color{White, Black} {
		if got := s.CheckerCount(c); got != 15 {
			t.Fatalf("conservation broken for %s: %d checkers", c, got)
		}
	}
	for i, p := range s.Points {
		if p.Count < 0 {
			t.Fatalf("negative count at point %d", i)
		}
	}
}

func TestOpeningLegalMoves(t *testing.T) {
	s := NewGame(White)
	s.Dice = dice(3, 5)

	moves := LegalMoves(s)
	if len(moves) == 0 {
		t.Fatalf("expected legal moves from the opening position")
	}
	// the 2-stack on point 0 can advance 3, the mid-point 5-stack can advance 5
	if !containsMove(moves, Move{From: 0, To: 3}) {
		t.Fatalf("missing 0->3 in %v", moves)
	}
	if !containsMove(moves, Move{From: 11, To: 16}) {
		t.Fatalf("missing 11->16 in %v", moves)
	}
	for _, m := range moves {
		if m.From == BarIndex {
			t.Fatalf("bar-entry move %v with an empty bar", m)
		}
	}
}

func TestBarPriority(t *testing.T) {
	s := NewGame(White)
	s.BarWhite = 1
	s.Points[0].Count = 1 // keep conservation while a checker sits on the bar
	s.Dice = dice(2, 4)

	moves := LegalMoves(s)
	if len(moves) == 0 {
		t.Fatalf("expected entry moves")
	}
	for _, m := range moves {
		if m.From != BarIndex {
			t.Fatalf("non-entry move %v while on the bar", m)
		}
	}
}

func TestForcedBarEntryBlocked(t *testing.T) {
	s := NewGame(White)
	s.BarWhite = 1
	s.Points[0].Count = 1
	// block white's entry point for a 2 (index 1) with two black checkers
	s.Points[1] = Point{Count: 2, Owner: Black}
	s.Points[23].Count = 0 // moved the two black checkers from their anchor
	s.Dice = dice(2, 2, 2, 2)

	if moves := LegalMoves(s); len(moves) != 0 {
		t.Fatalf("expected no legal moves, got %v", moves)
	}
}

func TestNoBearOffWithCheckerOutside(t *testing.T) {
	var s GameState
	s.Turn = White
	s.Cube = Cube{Value: 1, Owner: CubeCenter}
	s.Points[20] = Point{Count: 13, Owner: White}
	s.Points[10] = Point{Count: 2, Owner: White} // outside the home board
	s.Points[0] = Point{Count: 15, Owner: Black}
	s.Dice = dice(4, 6)

	for _, m := range LegalMoves(s) {
		if m.To == OffIndex {
			t.Fatalf("bear-off %v offered with a checker outside home", m)
		}
	}
}

func TestBearOffExactAndOvershoot(t *testing.T) {
	var s GameState
	s.Turn = White
	s.Cube = Cube{Value: 1, Owner: CubeCenter}
	s.OffWhite = 12
	s.Points[21] = Point{Count: 2, Owner: White} // needs a 3 exactly
	s.Points[23] = Point{Count: 1, Owner: White} // needs a 1, overshoot ok only if 21 empties
	s.Points[0] = Point{Count: 15, Owner: Black}
	s.Dice = dice(3, 6)

	moves := LegalMoves(s)
	if !containsMove(moves, Move{From: 21, To: OffIndex}) {
		t.Fatalf("exact bear-off from 21 missing: %v", moves)
	}
	// overshoot with the 6 from 23 is illegal while the deeper 21-point is occupied
	for _, m := range moves {
		if m.From == 23 && m.To == OffIndex {
			t.Fatalf("overshoot bear-off offered with deeper checker present")
		}
	}

	// once 21 is empty the 6 may over-bear from 23
	s.Points[21].Count = 0
	s.Points[21].Owner = ""
	s.OffWhite = 14
	moves = LegalMoves(s)
	if !containsMove(moves, Move{From: 23, To: OffIndex}) {
		t.Fatalf("overshoot bear-off from 23 missing: %v", moves)
	}
	next, err := Apply(s, Move{From: 23, To: OffIndex})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.OffWhite != 15 {
		t.Fatalf("off count = %d, want 15", next.OffWhite)
	}
	// overshoot burns the smallest die above the exact pip count
	used := 0
	for _, d := range next.Dice {
		if d.Used {
			used++
			if d.Value != 3 {
				t.Fatalf("consumed die %d, want 3", d.Value)
			}
		}
	}
	if used != 1 {
		t.Fatalf("consumed %d dice, want 1", used)
	}
}

func TestBlotHit(t *testing.T) {
	s := NewGame(White)
	s.Points[3] = Point{Count: 1, Owner: Black}
	s.Points[5].Count = 4 // keep black at 15
	s.Dice = dice(3, 5)

	next, err := Apply(s, Move{From: 0, To: 3})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.BarBlack != 1 {
		t.Fatalf("black bar = %d, want 1", next.BarBlack)
	}
	if p := next.Points[3]; p.Count != 1 || p.Owner != White {
		t.Fatalf("point 3 = %+v, want one white checker", p)
	}
	checkConservation(t, next)
	// the input state must be untouched
	if s.BarBlack != 0 || s.Points[3].Owner != Black {
		t.Fatalf("Apply mutated its input state")
	}
}

func TestApplyRejectsIllegalMove(t *testing.T) {
	s := NewGame(White)
	s.Dice = dice(3, 5)

	// point 5 holds five black checkers: blocked
	if _, err := Apply(s, Move{From: 0, To: 5}); err == nil {
		t.Fatalf("expected error applying a blocked move")
	}
	// a move no die supports
	if _, err := Apply(s, Move{From: 0, To: 2}); err == nil {
		t.Fatalf("expected error applying an unsupported distance")
	}
}

func TestDoublesDeduplicated(t *testing.T) {
	s := NewGame(White)
	s.Dice = dice(4, 4, 4, 4)

	moves := LegalMoves(s)
	seen := map[Move]bool{}
	for _, m := range moves {
		if seen[m] {
			t.Fatalf("duplicate move %v enumerated for doubles", m)
		}
		seen[m] = true
	}
	// four applications still consume four separate dice
	cur := s
	for i := 0; i < 4; i++ {
		ms := LegalMoves(cur)
		if len(ms) == 0 {
			t.Fatalf("ran out of moves after %d applications", i)
		}
		next, err := Apply(cur, ms[0])
		if err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
		cur = next
	}
	if cur.UnusedDice() != 0 {
		t.Fatalf("unused dice remain after four moves: %d", cur.UnusedDice())
	}
}

// TestLegalityClosure plays many dice-limited turns applying arbitrary legal
// moves and verifies every reachable state conserves checkers.
func TestLegalityClosure(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for game := 0; game < 50; game++ {
		first := White
		if rng.Intn(2) == 1 {
			first = Black
		}
		s := NewGame(first)
		for turn := 0; turn < 200 && !GameOver(s); turn++ {
			a, b := rng.Intn(6)+1, rng.Intn(6)+1
			if a == b {
				s.Dice = dice(a, a, a, a)
			} else {
				s.Dice = dice(a, b)
			}
			for {
				moves := LegalMoves(s)
				if len(moves) == 0 {
					break
				}
				next, err := Apply(s, moves[rng.Intn(len(moves))])
				if err != nil {
					t.Fatalf("closure violated: %v", err)
				}
				checkConservation(t, next)
				s = next
				if GameOver(s) {
					break
				}
			}
			s.Dice = nil
			s.Turn = s.Turn.Opponent()
		}
	}
}
