package match

import (
	"time"

	"github.com/tavla-games/gammon-server/internal/engine"
)

// Mode selects which balance a match settles against.
type Mode string

const (
	ModeCurrency Mode = "currency"
	ModeClub     Mode = "club"
)

// Status is the match lifecycle state. Terminal states have no transitions.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Match is the persisted record of one staked game. The live copy is JSON in
// Redis under match:<id>; terminal records land in Postgres. The embedded
// GameState is owned exclusively by this match and replaced wholesale on every
// engine call.
type Match struct {
	ID    string `json:"id"`
	Mode  Mode   `json:"mode"`
	Stake int64  `json:"stake"`
	// ClubScope is the club id for club-mode matches, empty otherwise.
	ClubScope string `json:"club_scope,omitempty"`

	PlayerWhite string `json:"player_white"`
	PlayerBlack string `json:"player_black,omitempty"`
	WhiteReady  bool   `json:"white_ready"`
	BlackReady  bool   `json:"black_ready"`

	Status Status            `json:"status"`
	State  *engine.GameState `json:"state,omitempty"`

	Winner      string         `json:"winner,omitempty"`
	WinType     engine.WinType `json:"win_type,omitempty"`
	FinalCube   int            `json:"final_cube,omitempty"`
	Payout      int64          `json:"payout,omitempty"`
	ForfeitedBy string         `json:"forfeited_by,omitempty"`

	TurnDeadline *time.Time `json:"turn_deadline,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ColorOf returns the side a user plays, or "" for non-participants.
func (m *Match) ColorOf(userID string) engine.Color {
	switch userID {
	case "":
		return ""
	case m.PlayerWhite:
		return engine.White
	case m.PlayerBlack:
		return engine.Black
	default:
		return ""
	}
}

// PlayerFor maps a color back to its user id.
func (m *Match) PlayerFor(c engine.Color) string {
	if c == engine.White {
		return m.PlayerWhite
	}
	return m.PlayerBlack
}

// Opponent returns the other participant's user id.
func (m *Match) Opponent(userID string) string {
	switch userID {
	case m.PlayerWhite:
		return m.PlayerBlack
	case m.PlayerBlack:
		return m.PlayerWhite
	default:
		return ""
	}
}

// CreateParams describe a match being opened by matchmaking.
type CreateParams struct {
	Mode      Mode
	Stake     int64
	ClubScope string
	// PlayerWhite is required; PlayerBlack may be empty for an open seat,
	// leaving the match in waiting until someone joins.
	PlayerWhite string
	PlayerBlack string
}
