package engine

import "fmt"

// open reports whether mover may land on point idx: empty, own color, or a
// lone enemy blot.
func open(s *GameState, idx int, mover Color) bool {
	p := s.Points[idx]
	return p.Count == 0 || p.Owner == mover || p.Count == 1
}

// entryPoint maps a die value to the bar re-entry point inside the opponent's
// home board.
func entryPoint(c Color, die int) int {
	if c == White {
		return die - 1
	}
	return 24 - die
}

// distinctUnused collapses the unused dice to distinct values so doubles never
// enumerate the same candidate move four times.
func distinctUnused(dice []Die) []int {
	var seen [7]bool
	var out []int
	for _, d := range dice {
		if d.Used || seen[d.Value] {
			continue
		}
		seen[d.Value] = true
		out = append(out, d.Value)
	}
	return out
}

// allInHome reports whether every on-board checker of c sits inside its home
// quadrant. A checker on the bar counts as outside.
func allInHome(s *GameState, c Color) bool {
	if s.bar(c) > 0 {
		return false
	}
	lo, hi := homeRange(c)
	for i, p := range s.Points {
		if p.Count > 0 && p.Owner == c && (i < lo || i > hi) {
			return false
		}
	}
	return true
}

// bearOffPips is the exact die value that bears a checker off from idx.
func bearOffPips(c Color, idx int) int {
	if c == White {
		return 24 - idx
	}
	return idx + 1
}

// hasDeeperChecker reports whether c owns a home-board checker strictly
// farther from bearing off than idx. Gates the overshoot rule.
func hasDeeperChecker(s *GameState, c Color, idx int) bool {
	lo, hi := homeRange(c)
	if c == White {
		for i := lo; i < idx; i++ {
			if s.Points[i].Count > 0 && s.Points[i].Owner == c {
				return true
			}
		}
		return false
	}
	for i := idx + 1; i <= hi; i++ {
		if s.Points[i].Count > 0 && s.Points[i].Owner == c {
			return true
		}
	}
	return false
}

func containsMove(moves []Move, m Move) bool {
	for _, x := range moves {
		if x == m {
			return true
		}
	}
	return false
}

// LegalMoves enumerates every single-checker move the current player can make
// with the unused dice. With a checker on the bar only entry moves are
// returned; an empty result means the turn is over, not an error.
func LegalMoves(s GameState) []Move {
	mover := s.Turn
	vals := distinctUnused(s.Dice)
	if len(vals) == 0 {
		return nil
	}

	var moves []Move
	if s.bar(mover) > 0 {
		for _, d := range vals {
			e := entryPoint(mover, d)
			if open(&s, e, mover) {
				moves = append(moves, Move{From: BarIndex, To: e})
			}
		}
		return moves
	}

	dir := direction(mover)
	canBearOff := allInHome(&s, mover)
	for i, p := range s.Points {
		if p.Count == 0 || p.Owner != mover {
			continue
		}
		for _, d := range vals {
			dest := i + dir*d
			if dest >= 0 && dest <= 23 {
				if open(&s, dest, mover) {
					moves = append(moves, Move{From: i, To: dest})
				}
				continue
			}
			if !canBearOff {
				continue
			}
			exact := bearOffPips(mover, i)
			if d == exact || (d > exact && !hasDeeperChecker(&s, mover, i)) {
				mv := Move{From: i, To: OffIndex}
				// exact and overshoot dice collapse to one bear-off candidate
				if !containsMove(moves, mv) {
					moves = append(moves, mv)
				}
			}
		}
	}
	return moves
}

// pipsFor is the exact pip distance a move covers.
func pipsFor(c Color, m Move) int {
	switch {
	case m.From == BarIndex:
		if c == White {
			return m.To + 1
		}
		return 24 - m.To
	case m.To == OffIndex:
		return bearOffPips(c, m.From)
	default:
		return (m.To - m.From) * direction(c)
	}
}

func consumeDie(s *GameState, value int) bool {
	for i := range s.Dice {
		if !s.Dice[i].Used && s.Dice[i].Value == value {
			s.Dice[i].Used = true
			return true
		}
	}
	return false
}

// consumeSmallestAbove burns the smallest unused die greater than value; only
// an overshoot bear-off ever needs this.
func consumeSmallestAbove(s *GameState, value int) bool {
	best := -1
	for i := range s.Dice {
		d := s.Dice[i]
		if d.Used || d.Value <= value {
			continue
		}
		if best == -1 || d.Value < s.Dice[best].Value {
			best = i
		}
	}
	if best == -1 {
		return false
	}
	s.Dice[best].Used = true
	return true
}

// Apply plays one move and returns the successor state. The input state is
// never mutated. Apply re-derives legality itself, so a caller handing it a
// stale or fabricated move gets an error and an unchanged board.
func Apply(s GameState, m Move) (GameState, error) {
	if !containsMove(LegalMoves(s), m) {
		return s, fmt.Errorf("engine: move %d->%d is not legal in this position", m.From, m.To)
	}
	next := s.clone()
	mover := next.Turn

	exact := pipsFor(mover, m)
	if !consumeDie(&next, exact) {
		if m.To != OffIndex || !consumeSmallestAbove(&next, exact) {
			return s, fmt.Errorf("engine: no usable die for move %d->%d", m.From, m.To)
		}
	}

	// lift the checker off its origin
	if m.From == BarIndex {
		next.addBar(mover, -1)
	} else {
		src := &next.Points[m.From]
		src.Count--
		if src.Count == 0 {
			src.Owner = ""
		}
	}

	if m.To == OffIndex {
		next.addOff(mover, 1)
		return next, nil
	}

	dst := &next.Points[m.To]
	if dst.Count == 1 && dst.Owner != mover {
		// blot hit: the lone enemy checker goes to its bar
		next.addBar(mover.Opponent(), 1)
		dst.Count = 0
	}
	dst.Count++
	dst.Owner = mover
	return next, nil
}
