package engine

// Color identifies a backgammon side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Point is one of the 24 board points. Owner is meaningless when Count is 0.
type Point struct {
	Count int   `json:"count"`
	Owner Color `json:"owner,omitempty"`
}

// Die is a single rollable die. Doubles expand to four entries.
type Die struct {
	Value int  `json:"value"`
	Used  bool `json:"used"`
}

// CubeOwner is the doubling-cube holder; CubeCenter means nobody doubled yet.
type CubeOwner string

const (
	CubeCenter CubeOwner = "center"
	CubeWhite  CubeOwner = "white"
	CubeBlack  CubeOwner = "black"
)

// Cube carries the stake multiplier. The current action set never changes it;
// it is tracked so settlement can honour a carried-forward value.
type Cube struct {
	Value int       `json:"value"`
	Owner CubeOwner `json:"owner"`
}

// Move is one checker move. From == BarIndex means entering from the bar,
// To == OffIndex means bearing off.
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

const (
	BarIndex = -1
	OffIndex = -1
)

// WinType classifies a finished game for stake multiplication.
type WinType string

const (
	WinNormal     WinType = "normal"
	WinGammon     WinType = "gammon"
	WinBackgammon WinType = "backgammon"
)

func (w WinType) Multiplier() int {
	switch w {
	case WinGammon:
		return 2
	case WinBackgammon:
		return 3
	default:
		return 1
	}
}

// GameState is a whole-value snapshot of a game. Engine functions never mutate
// a received state; they return a fresh copy so callers can treat states as
// immutable values.
type GameState struct {
	Points   [24]Point `json:"points"`
	BarWhite int       `json:"bar_white"`
	BarBlack int       `json:"bar_black"`
	OffWhite int       `json:"off_white"`
	OffBlack int       `json:"off_black"`
	Turn     Color     `json:"turn"`
	Dice     []Die     `json:"dice"`
	Cube     Cube      `json:"cube"`
}

// direction of travel along the point indices: white plays 0→23, black 23→0.
func direction(c Color) int {
	if c == White {
		return 1
	}
	return -1
}

// homeStart/homeEnd bound the home quadrant (inclusive).
func homeRange(c Color) (int, int) {
	if c == White {
		return 18, 23
	}
	return 0, 5
}

func (s *GameState) bar(c Color) int {
	if c == White {
		return s.BarWhite
	}
	return s.BarBlack
}

func (s *GameState) addBar(c Color, n int) {
	if c == White {
		s.BarWhite += n
	} else {
		s.BarBlack += n
	}
}

func (s *GameState) off(c Color) int {
	if c == White {
		return s.OffWhite
	}
	return s.OffBlack
}

func (s *GameState) addOff(c Color, n int) {
	if c == White {
		s.OffWhite += n
	} else {
		s.OffBlack += n
	}
}

// clone returns a deep copy; Dice is the only reference-typed field.
func (s GameState) clone() GameState {
	out := s
	out.Dice = make([]Die, len(s.Dice))
	copy(out.Dice, s.Dice)
	return out
}
