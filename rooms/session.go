package rooms

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/elements/elements"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusResult  Status = "result"
	// StatusFinished means a player reached the target score. Only a reset
	// starts a new match.
	StatusFinished Status = "finished"
)

type trigger int

const (
	triggerFill trigger = iota
	triggerResolve
	triggerFinish
	triggerAdvance
	triggerResetFull
	triggerResetShort
	triggerLeave
)

var anyStatus = []Status{StatusWaiting, StatusPlaying, StatusResult, StatusFinished}

// transitions is the complete state machine; a status change that is not
// listed here is rejected with ErrWrongStatus.
var transitions = map[trigger]struct {
	from []Status
	to   Status
}{
	triggerFill:       {from: []Status{StatusWaiting}, to: StatusPlaying},
	triggerResolve:    {from: []Status{StatusPlaying}, to: StatusResult},
	triggerFinish:     {from: []Status{StatusPlaying}, to: StatusFinished},
	triggerAdvance:    {from: []Status{StatusResult}, to: StatusPlaying},
	triggerResetFull:  {from: anyStatus, to: StatusPlaying},
	triggerResetShort: {from: anyStatus, to: StatusWaiting},
	triggerLeave:      {from: anyStatus, to: StatusWaiting},
}

// Player is a member of a session. Conn is an opaque key identifying the
// transport connection the player joined from; the session never owns it.
type Player struct {
	Name string `json:"name"`
	Conn string `json:"-"`
}

// Session is one game room. All methods are safe for concurrent use; each
// session has its own lock.
type Session struct {
	mu sync.Mutex

	id       string
	capacity int
	target   int
	rules    *elements.Rules
	out      Broadcaster
	now      func() time.Time

	players    []Player
	choices    map[string]elements.Element
	scores     map[string]int
	round      int
	status     Status
	last       *elements.Result
	createdAt  time.Time
	lastActive time.Time
}

func newSession(id string, capacity, target int, rules *elements.Rules, out Broadcaster, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:         id,
		capacity:   capacity,
		target:     target,
		rules:      rules,
		out:        out,
		now:        now,
		choices:    make(map[string]elements.Element),
		scores:     make(map[string]int),
		round:      1,
		status:     StatusWaiting,
		createdAt:  t,
		lastActive: t,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Capacity() int { return s.capacity }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActive is the time of the last accepted operation.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Join adds a player. When the roster reaches capacity the first round
// starts.
func (s *Session) Join(name, conn string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(name) >= 0 {
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	if len(s.players) >= s.capacity {
		return ErrSessionFull
	}

	s.players = append(s.players, Player{Name: name, Conn: conn})
	s.touchLocked()
	s.emitLocked(s.rosterLocked())

	if len(s.players) == s.capacity {
		if err := s.transitionLocked(triggerFill); err != nil {
			return err
		}
		s.emitLocked(RoundStarted{Round: s.round})
	}
	return nil
}

// SubmitChoice records a player's element for the current round. The last
// submission before the round closes wins. The final missing choice
// resolves the round, credits a point to each winner and, once someone
// reaches the target score, finishes the match.
func (s *Session) SubmitChoice(name, element string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return fmt.Errorf("%w: cannot choose while %s", ErrWrongStatus, s.status)
	}
	if s.indexLocked(name) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownPlayer, name)
	}
	e, err := s.rules.Parse(element)
	if err != nil {
		return err
	}

	choices := maps.Clone(s.choices)
	choices[name] = e

	if len(choices) < len(s.players) {
		s.choices = choices
		s.touchLocked()
		s.emitLocked(s.rosterLocked())
		return nil
	}

	res, err := s.rules.Resolve(choices, s.namesLocked())
	if err != nil {
		return fmt.Errorf("resolving round %d: %w", s.round, err)
	}

	scores := maps.Clone(s.scores)
	if res.Outcome == elements.Win {
		for _, w := range res.Winners {
			scores[w]++
		}
	}
	champions := s.championsLocked(scores)

	tr := triggerResolve
	if len(champions) > 0 {
		tr = triggerFinish
	}
	if err := s.transitionLocked(tr); err != nil {
		return err
	}

	s.choices = choices
	s.scores = scores
	s.last = &res
	s.touchLocked()
	s.emitLocked(s.rosterLocked())
	s.emitLocked(ResultReady{
		Result:    res,
		Choices:   maps.Clone(choices),
		Round:     s.round,
		Scores:    s.scoreboardLocked(),
		Champions: champions,
	})
	return nil
}

// AdvanceRound starts the next round after a result.
func (s *Session) AdvanceRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(triggerAdvance); err != nil {
		return err
	}
	s.round++
	clear(s.choices)
	s.touchLocked()
	s.emitLocked(RoundStarted{Round: s.round})
	s.emitLocked(s.rosterLocked())
	return nil
}

// ResetGame keeps the roster and starts over at round 1. A full roster goes
// straight back to playing; otherwise the session waits for players.
func (s *Session) ResetGame() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := triggerResetShort
	if len(s.players) == s.capacity {
		tr = triggerResetFull
	}
	if err := s.transitionLocked(tr); err != nil {
		return err
	}

	s.round = 1
	s.last = nil
	clear(s.choices)
	clear(s.scores)
	s.touchLocked()

	s.emitLocked(GameReset{})
	s.emitLocked(s.rosterLocked())
	if s.status == StatusPlaying {
		s.emitLocked(RoundStarted{Round: s.round})
	}
	return nil
}

// Leave removes the player bound to conn. The round in progress is
// abandoned and the session waits for the seat to be filled again. It
// reports whether a player was removed.
func (s *Session) Leave(conn string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.players, func(p Player) bool { return p.Conn == conn })
	if i < 0 {
		return "", false
	}

	name := s.players[i].Name
	s.players = slices.Delete(s.players, i, i+1)
	delete(s.scores, name)
	clear(s.choices)
	s.last = nil
	// leave is allowed from every status
	_ = s.transitionLocked(triggerLeave)
	s.touchLocked()
	s.emitLocked(s.rosterLocked())
	return name, true
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string           `json:"id"`
	Capacity   int              `json:"capacity"`
	Status     Status           `json:"status"`
	Round      int              `json:"round"`
	Players    []string         `json:"players"`
	Submitted  map[string]bool  `json:"submitted"`
	Scores     map[string]int   `json:"scores"`
	Target     int              `json:"target_score,omitempty"`
	Champions  []string         `json:"champions,omitempty"`
	LastResult *elements.Result `json:"last_result,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastActive time.Time        `json:"last_active"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Observe calls fn with the current snapshot while holding the session
// lock. No event is emitted until fn returns, so anything fn registers
// sees every event that follows the snapshot and none that precede it.
func (s *Session) Observe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	roster := s.rosterLocked()
	snap := Snapshot{
		ID:         s.id,
		Capacity:   s.capacity,
		Status:     s.status,
		Round:      s.round,
		Players:    roster.Players,
		Submitted:  roster.Choices,
		Scores:     s.scoreboardLocked(),
		Target:     s.target,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
	if s.status == StatusFinished {
		snap.Champions = s.championsLocked(s.scores)
	}
	if s.last != nil {
		res := *s.last
		snap.LastResult = &res
	}
	return snap
}

func (s *Session) transitionLocked(tr trigger) error {
	t := transitions[tr]
	if !slices.Contains(t.from, s.status) {
		return fmt.Errorf("%w: %s", ErrWrongStatus, s.status)
	}
	s.status = t.to
	return nil
}

func (s *Session) indexLocked(name string) int {
	return slices.IndexFunc(s.players, func(p Player) bool { return p.Name == name })
}

func (s *Session) namesLocked() []string {
	names := make([]string, len(s.players))
	for i, p := range s.players {
		names[i] = p.Name
	}
	return names
}

func (s *Session) rosterLocked() RosterUpdated {
	submitted := make(map[string]bool, len(s.players))
	for _, p := range s.players {
		_, ok := s.choices[p.Name]
		submitted[p.Name] = ok
	}
	return RosterUpdated{Players: s.namesLocked(), Choices: submitted}
}

// scoreboardLocked lists every player in the roster, including those who
// have not scored yet.
func (s *Session) scoreboardLocked() map[string]int {
	board := make(map[string]int, len(s.players))
	for _, p := range s.players {
		board[p.Name] = s.scores[p.Name]
	}
	return board
}

// championsLocked returns the players at or above the target score, in
// roster order. A target of zero never finishes a match.
func (s *Session) championsLocked(scores map[string]int) []string {
	if s.target <= 0 {
		return nil
	}

	var champions []string
	for _, p := range s.players {
		if scores[p.Name] >= s.target {
			champions = append(champions, p.Name)
		}
	}
	return champions
}

func (s *Session) touchLocked() {
	s.lastActive = s.now()
}

func (s *Session) emitLocked(ev Event) {
	if s.out != nil {
		s.out.Broadcast(s.id, ev)
	}
}
