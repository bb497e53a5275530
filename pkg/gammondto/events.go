package gammondto

// Event names pushed through the notifier. The transport layer forwards these
// verbatim to connected clients.
type Event string

const (
	EventQueueUpdate    Event = "queue_update"
	EventMatchFound     Event = "match_found"
	EventMatchStarted   Event = "match_started"
	EventDiceRolled     Event = "dice_rolled"
	EventMoveMade       Event = "move_made"
	EventMatchCompleted Event = "match_completed"
	EventMatchAbandoned Event = "match_abandoned"
)

// TargetKind selects who receives a notification.
type TargetKind string

const (
	TargetUser      TargetKind = "user"
	TargetMatchRoom TargetKind = "match_room"
)

type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func UserTarget(userID string) Target   { return Target{Kind: TargetUser, ID: userID} }
func MatchTarget(matchID string) Target { return Target{Kind: TargetMatchRoom, ID: matchID} }
