package rooms

import "github.com/Seednode/elements/elements"

// Event is a message delivered to every member of a session.
type Event interface {
	Kind() string
}

// RosterUpdated lists the players in join order and which of them have
// submitted a choice this round. Choices stay hidden until the round
// resolves.
type RosterUpdated struct {
	Players []string        `json:"players"`
	Choices map[string]bool `json:"choices"`
}

type RoundStarted struct {
	Round int `json:"round"`
}

// ResultReady reveals every choice together with the round's outcome and
// the running scores. Champions is set when the round finished the match.
type ResultReady struct {
	Result    elements.Result             `json:"result"`
	Choices   map[string]elements.Element `json:"choices"`
	Round     int                         `json:"round"`
	Scores    map[string]int              `json:"scores"`
	Champions []string                    `json:"champions,omitempty"`
}

type GameReset struct{}

func (RosterUpdated) Kind() string { return "roster_updated" }
func (RoundStarted) Kind() string  { return "round_started" }
func (ResultReady) Kind() string   { return "result_ready" }
func (GameReset) Kind() string     { return "game_reset" }

// Broadcaster delivers events to the members of a session.
type Broadcaster interface {
	Broadcast(sessionID string, ev Event)
}

// BroadcasterFunc adapts a function to a Broadcaster.
type BroadcasterFunc func(sessionID string, ev Event)

func (f BroadcasterFunc) Broadcast(sessionID string, ev Event) { f(sessionID, ev) }
