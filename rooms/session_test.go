package rooms

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/elements/elements"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func count[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T, capacity int, names ...string) (*Session, *recorder) {
	t.Helper()

	rec := &recorder{}
	reg := NewRegistry(rec)
	s, err := reg.Create(capacity)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	for _, name := range names {
		if err := s.Join(name, "conn-"+name); err != nil {
			t.Fatalf("Join(%q) returned error: %v", name, err)
		}
	}
	rec.take()
	return s, rec
}

func TestJoinFillsSessionAndStartsRound(t *testing.T) {
	s, rec := newTestSession(t, 2)

	if err := s.Join("alice", "c1"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if s.Status() != StatusWaiting {
		t.Errorf("expected waiting after first join, got %s", s.Status())
	}

	if err := s.Join("bob", "c2"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if s.Status() != StatusPlaying {
		t.Errorf("expected playing once full, got %s", s.Status())
	}

	events := rec.take()
	if got := count[RosterUpdated](events); got != 2 {
		t.Errorf("expected 2 roster updates, got %d", got)
	}
	if got := count[RoundStarted](events); got != 1 {
		t.Fatalf("expected exactly 1 round start, got %d", got)
	}
	last := events[len(events)-1]
	if rs, ok := last.(RoundStarted); !ok || rs.Round != 1 {
		t.Errorf("expected RoundStarted{1} last, got %#v", last)
	}

	roster := events[1].(RosterUpdated)
	if !reflect.DeepEqual(roster.Players, []string{"alice", "bob"}) {
		t.Errorf("unexpected roster order: %v", roster.Players)
	}
}

func TestJoinRejections(t *testing.T) {
	s, rec := newTestSession(t, 2, "alice")

	if err := s.Join("alice", "c9"); !errors.Is(err, ErrNameTaken) {
		t.Errorf("expected ErrNameTaken, got %v", err)
	}
	if err := s.Join("   ", "c9"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if err := s.Join("Alice", "c2"); err != nil {
		t.Fatalf("names are case-sensitive, got %v", err)
	}
	rec.take()

	if err := s.Join("carol", "c3"); !errors.Is(err, ErrSessionFull) {
		t.Errorf("expected ErrSessionFull, got %v", err)
	}

	if got := s.Snapshot().Players; !reflect.DeepEqual(got, []string{"alice", "Alice"}) {
		t.Errorf("roster changed by rejected joins: %v", got)
	}
	if events := rec.take(); len(events) != 0 {
		t.Errorf("rejected join must not broadcast, got %v", events)
	}
}

func TestSubmitChoiceResolvesRound(t *testing.T) {
	s, rec := newTestSession(t, 2, "A", "B")

	if err := s.SubmitChoice("A", "Water"); err != nil {
		t.Fatalf("SubmitChoice returned error: %v", err)
	}
	if err := s.SubmitChoice("A", "fire"); err != nil {
		t.Fatalf("resubmitting returned error: %v", err)
	}

	events := rec.take()
	if len(events) != 2 {
		t.Fatalf("expected 2 roster updates, got %d", len(events))
	}
	roster := events[1].(RosterUpdated)
	if !roster.Choices["A"] || roster.Choices["B"] {
		t.Errorf("unexpected submitted flags: %v", roster.Choices)
	}

	if err := s.SubmitChoice("B", "Earth"); err != nil {
		t.Fatalf("SubmitChoice returned error: %v", err)
	}
	if s.Status() != StatusResult {
		t.Fatalf("expected result status, got %s", s.Status())
	}

	events = rec.take()
	if got := count[ResultReady](events); got != 1 {
		t.Fatalf("expected exactly 1 result, got %d", got)
	}
	ready := events[len(events)-1].(ResultReady)
	if ready.Round != 1 {
		t.Errorf("expected round 1, got %d", ready.Round)
	}
	if ready.Result.Outcome != elements.Win || !reflect.DeepEqual(ready.Result.Winners, []string{"A"}) {
		t.Errorf("unexpected result: %+v", ready.Result)
	}
	if ready.Choices["A"] != elements.Fire || ready.Choices["B"] != elements.Earth {
		t.Errorf("unexpected revealed choices: %v", ready.Choices)
	}

	if err := s.SubmitChoice("A", "Air"); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus after result, got %v", err)
	}
	if events := rec.take(); len(events) != 0 {
		t.Errorf("rejected choice must not broadcast, got %v", events)
	}

	snap := s.Snapshot()
	if snap.LastResult == nil || snap.LastResult.Outcome != elements.Win {
		t.Errorf("expected stored result, got %+v", snap.LastResult)
	}
}

func TestSubmitChoiceRejections(t *testing.T) {
	waiting, _ := newTestSession(t, 2, "A")
	if err := waiting.SubmitChoice("A", "Fire"); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus while waiting, got %v", err)
	}

	s, rec := newTestSession(t, 2, "A", "B")
	if err := s.SubmitChoice("Z", "Fire"); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}
	if err := s.SubmitChoice("A", "Lightning"); !errors.Is(err, ErrInvalidElement) {
		t.Errorf("expected ErrInvalidElement, got %v", err)
	}
	if events := rec.take(); len(events) != 0 {
		t.Errorf("rejected choices must not broadcast, got %v", events)
	}
	if sub := s.Snapshot().Submitted; sub["A"] || sub["B"] {
		t.Errorf("rejected choices must not be recorded: %v", sub)
	}
}

func TestAdvanceRound(t *testing.T) {
	s, rec := newTestSession(t, 2, "A", "B")

	if err := s.AdvanceRound(); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus while playing, got %v", err)
	}

	_ = s.SubmitChoice("A", "Fire")
	_ = s.SubmitChoice("B", "Fire")
	rec.take()

	if err := s.AdvanceRound(); err != nil {
		t.Fatalf("AdvanceRound returned error: %v", err)
	}

	snap := s.Snapshot()
	if snap.Status != StatusPlaying || snap.Round != 2 {
		t.Errorf("expected playing round 2, got %s round %d", snap.Status, snap.Round)
	}
	if snap.Submitted["A"] || snap.Submitted["B"] {
		t.Errorf("choices not cleared: %v", snap.Submitted)
	}

	events := rec.take()
	if rs, ok := events[0].(RoundStarted); !ok || rs.Round != 2 {
		t.Errorf("expected RoundStarted{2}, got %#v", events[0])
	}
	if count[RosterUpdated](events) != 1 {
		t.Errorf("expected a roster update with cleared choices, got %v", events)
	}

	_ = s.SubmitChoice("A", "Water")
	_ = s.SubmitChoice("B", "Fire")
	ready := rec.take()
	if r, ok := ready[len(ready)-1].(ResultReady); !ok || r.Round != 2 {
		t.Errorf("expected result for round 2, got %#v", ready[len(ready)-1])
	}
}

func TestResetGame(t *testing.T) {
	t.Run("full roster plays again", func(t *testing.T) {
		s, rec := newTestSession(t, 2, "A", "B")
		_ = s.SubmitChoice("A", "Fire")
		_ = s.SubmitChoice("B", "Air")
		_ = s.AdvanceRound()
		_ = s.SubmitChoice("A", "Fire")
		rec.take()

		if err := s.ResetGame(); err != nil {
			t.Fatalf("ResetGame returned error: %v", err)
		}

		snap := s.Snapshot()
		if snap.Status != StatusPlaying || snap.Round != 1 {
			t.Errorf("expected playing round 1, got %s round %d", snap.Status, snap.Round)
		}
		if snap.Submitted["A"] {
			t.Error("choices not cleared")
		}
		if !reflect.DeepEqual(snap.Players, []string{"A", "B"}) {
			t.Errorf("roster not kept: %v", snap.Players)
		}
		if snap.LastResult != nil {
			t.Error("last result not cleared")
		}

		events := rec.take()
		if _, ok := events[0].(GameReset); !ok {
			t.Errorf("expected GameReset first, got %#v", events[0])
		}
		if count[RoundStarted](events) != 1 {
			t.Errorf("expected a round start, got %v", events)
		}
	})

	t.Run("short roster waits", func(t *testing.T) {
		s, rec := newTestSession(t, 3, "A")

		if err := s.ResetGame(); err != nil {
			t.Fatalf("ResetGame returned error: %v", err)
		}
		if s.Status() != StatusWaiting {
			t.Errorf("expected waiting, got %s", s.Status())
		}

		events := rec.take()
		if count[GameReset](events) != 1 || count[RoundStarted](events) != 0 {
			t.Errorf("unexpected events: %v", events)
		}
	})
}

func TestLeaveReturnsToWaiting(t *testing.T) {
	s, rec := newTestSession(t, 2, "A", "B")
	_ = s.SubmitChoice("A", "Fire")
	rec.take()

	if _, ok := s.Leave("unknown"); ok {
		t.Error("unknown connection should not remove anyone")
	}

	name, ok := s.Leave("conn-B")
	if !ok || name != "B" {
		t.Fatalf("expected B to leave, got %q %v", name, ok)
	}

	snap := s.Snapshot()
	if snap.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", snap.Status)
	}
	if !reflect.DeepEqual(snap.Players, []string{"A"}) {
		t.Errorf("unexpected roster: %v", snap.Players)
	}
	if snap.Submitted["A"] {
		t.Error("choices not cleared")
	}
	if events := rec.take(); count[RosterUpdated](events) != 1 {
		t.Errorf("expected one roster update, got %v", events)
	}

	if err := s.Join("C", "conn-C"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if s.Status() != StatusPlaying {
		t.Errorf("expected playing after refill, got %s", s.Status())
	}
}

func TestConcurrentSubmissionsResolveOnce(t *testing.T) {
	names := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	s, rec := newTestSession(t, len(names), names...)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = s.SubmitChoice(name, "Ether")
		}(name)
	}
	wg.Wait()

	events := rec.take()
	if got := count[ResultReady](events); got != 1 {
		t.Fatalf("expected exactly 1 result, got %d", got)
	}
	if s.Status() != StatusResult {
		t.Errorf("expected result status, got %s", s.Status())
	}
}

func TestLastActiveTracksOperations(t *testing.T) {
	now := time.Unix(100, 0)
	reg := NewRegistry(nil, WithClock(func() time.Time { return now }))

	s, err := reg.Create(2)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !s.LastActive().Equal(time.Unix(100, 0)) {
		t.Errorf("unexpected creation time: %v", s.LastActive())
	}

	now = time.Unix(200, 0)
	_ = s.Join("A", "c1")
	if !s.LastActive().Equal(time.Unix(200, 0)) {
		t.Errorf("join did not update last active: %v", s.LastActive())
	}

	now = time.Unix(300, 0)
	_ = s.SubmitChoice("A", "Fire")
	if !s.LastActive().Equal(time.Unix(200, 0)) {
		t.Errorf("rejected choice updated last active: %v", s.LastActive())
	}
}

func TestSubmitChoiceIsAllOrNothing(t *testing.T) {
	s, rec := newTestSession(t, 2, "A", "B")

	// A stale entry makes the round look complete without B's choice, so
	// resolving fails.
	s.mu.Lock()
	s.choices["X"] = elements.Fire
	before := s.lastActive
	s.mu.Unlock()

	if err := s.SubmitChoice("A", "Water"); !errors.Is(err, elements.ErrIncompleteChoices) {
		t.Fatalf("expected ErrIncompleteChoices, got %v", err)
	}

	s.mu.Lock()
	_, recorded := s.choices["A"]
	last := s.lastActive
	s.mu.Unlock()

	if recorded {
		t.Error("failed resolution recorded the choice")
	}
	if !last.Equal(before) {
		t.Error("failed resolution updated last active")
	}
	if s.Status() != StatusPlaying {
		t.Errorf("expected playing, got %s", s.Status())
	}
	if events := rec.take(); len(events) != 0 {
		t.Errorf("failed resolution must not broadcast, got %v", events)
	}
}

func playRound(t *testing.T, s *Session, choices map[string]string) ResultReady {
	t.Helper()

	rec := s.out.(*recorder)
	rec.take()
	for _, name := range s.Snapshot().Players {
		if err := s.SubmitChoice(name, choices[name]); err != nil {
			t.Fatalf("SubmitChoice(%q) returned error: %v", name, err)
		}
	}

	events := rec.take()
	if len(events) == 0 {
		t.Fatal("expected a result")
	}
	ready, ok := events[len(events)-1].(ResultReady)
	if !ok {
		t.Fatalf("expected result last, got %v", events)
	}
	return ready
}

func TestScoresAccumulateAcrossRounds(t *testing.T) {
	s, _ := newTestSession(t, 2, "A", "B")

	rounds := []struct {
		choices map[string]string
		want    map[string]int
	}{
		{map[string]string{"A": "Fire", "B": "Earth"}, map[string]int{"A": 1, "B": 0}},
		{map[string]string{"A": "Air", "B": "Air"}, map[string]int{"A": 1, "B": 0}},
		{map[string]string{"A": "Earth", "B": "Water"}, map[string]int{"A": 1, "B": 0}},
		{map[string]string{"A": "Earth", "B": "Air"}, map[string]int{"A": 2, "B": 0}},
		{map[string]string{"A": "Fire", "B": "Water"}, map[string]int{"A": 2, "B": 1}},
	}

	for i, r := range rounds {
		if i > 0 {
			if err := s.AdvanceRound(); err != nil {
				t.Fatalf("AdvanceRound returned error: %v", err)
			}
		}

		ready := playRound(t, s, r.choices)
		if !reflect.DeepEqual(ready.Scores, r.want) {
			t.Errorf("round %d: scores = %v, want %v", i+1, ready.Scores, r.want)
		}
		if len(ready.Champions) != 0 {
			t.Errorf("round %d: no target, got champions %v", i+1, ready.Champions)
		}
	}

	if snap := s.Snapshot(); !reflect.DeepEqual(snap.Scores, map[string]int{"A": 2, "B": 1}) {
		t.Errorf("unexpected snapshot scores: %v", snap.Scores)
	}

	if err := s.ResetGame(); err != nil {
		t.Fatalf("ResetGame returned error: %v", err)
	}
	if snap := s.Snapshot(); !reflect.DeepEqual(snap.Scores, map[string]int{"A": 0, "B": 0}) {
		t.Errorf("reset did not clear scores: %v", snap.Scores)
	}
}

func TestTargetScoreFinishesMatch(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec, WithTargetScore(2))
	s, err := reg.Create(2)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	_ = s.Join("A", "c1")
	_ = s.Join("B", "c2")

	ready := playRound(t, s, map[string]string{"A": "Water", "B": "Fire"})
	if s.Status() != StatusResult || len(ready.Champions) != 0 {
		t.Fatalf("match ended early: %s %v", s.Status(), ready.Champions)
	}

	if err := s.AdvanceRound(); err != nil {
		t.Fatalf("AdvanceRound returned error: %v", err)
	}
	ready = playRound(t, s, map[string]string{"A": "Fire", "B": "Earth"})
	if !reflect.DeepEqual(ready.Champions, []string{"A"}) {
		t.Errorf("champions = %v, want [A]", ready.Champions)
	}
	if s.Status() != StatusFinished {
		t.Fatalf("expected finished, got %s", s.Status())
	}

	snap := s.Snapshot()
	if snap.Target != 2 || !reflect.DeepEqual(snap.Champions, []string{"A"}) {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if err := s.AdvanceRound(); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus after the match, got %v", err)
	}
	if err := s.SubmitChoice("B", "Fire"); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus after the match, got %v", err)
	}

	if err := s.ResetGame(); err != nil {
		t.Fatalf("ResetGame returned error: %v", err)
	}
	snap = s.Snapshot()
	if snap.Status != StatusPlaying || snap.Round != 1 || snap.Scores["A"] != 0 || len(snap.Champions) != 0 {
		t.Errorf("unexpected snapshot after reset: %+v", snap)
	}
}

func TestLeaveDropsScore(t *testing.T) {
	s, _ := newTestSession(t, 2, "A", "B")
	playRound(t, s, map[string]string{"A": "Water", "B": "Fire"})

	if _, ok := s.Leave("conn-A"); !ok {
		t.Fatal("expected A to leave")
	}
	if err := s.Join("A", "conn-A2"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	if scores := s.Snapshot().Scores; scores["A"] != 0 {
		t.Errorf("rejoining player kept the old score: %v", scores)
	}
}

func TestObserveHoldsEventsUntilDone(t *testing.T) {
	s, rec := newTestSession(t, 3, "A")

	joined := make(chan error, 1)
	s.Observe(func(snap Snapshot) {
		if !reflect.DeepEqual(snap.Players, []string{"A"}) {
			t.Errorf("unexpected snapshot roster: %v", snap.Players)
		}

		go func() { joined <- s.Join("B", "conn-B") }()

		select {
		case <-joined:
			t.Error("join completed while observing")
		case <-time.After(50 * time.Millisecond):
		}
		if events := rec.take(); len(events) != 0 {
			t.Errorf("event emitted while observing: %v", events)
		}
	})

	if err := <-joined; err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if events := rec.take(); count[RosterUpdated](events) != 1 {
		t.Errorf("expected the join to broadcast afterwards, got %v", events)
	}
}
