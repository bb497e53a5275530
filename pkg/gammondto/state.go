package gammondto

import "time"

// PointState mirrors one board point for clients. Owner is "" when empty.
type PointState struct {
	Count int    `json:"count"`
	Owner string `json:"owner,omitempty"`
}

type DieState struct {
	Value int  `json:"value"`
	Used  bool `json:"used"`
}

// BoardState is the client-facing snapshot of a game in progress.
// Point indices run 0..23; -1 denotes the bar as an origin and bear-off as a
// destination in MoveInput.
type BoardState struct {
	Points    [24]PointState `json:"points"`
	BarWhite  int            `json:"bar_white"`
	BarBlack  int            `json:"bar_black"`
	OffWhite  int            `json:"off_white"`
	OffBlack  int            `json:"off_black"`
	Turn      string         `json:"turn"`
	Dice      []DieState     `json:"dice"`
	CubeValue int            `json:"cube_value"`
	CubeOwner string         `json:"cube_owner"`
}

// MoveInput is one submitted checker move.
type MoveInput struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type MatchSnapshot struct {
	ID           string      `json:"id"`
	Mode         string      `json:"mode"`
	Stake        int64       `json:"stake"`
	PlayerWhite  string      `json:"player_white"`
	PlayerBlack  string      `json:"player_black"`
	Status       string      `json:"status"`
	Board        *BoardState `json:"board,omitempty"`
	Winner       string      `json:"winner,omitempty"`
	WinType      string      `json:"win_type,omitempty"`
	TurnDeadline *time.Time  `json:"turn_deadline,omitempty"`
	BoardImage   []byte      `json:"board_image,omitempty"`
}

type QueueStatus struct {
	EntryID       string        `json:"entry_id"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}
