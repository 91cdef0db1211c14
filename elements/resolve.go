package elements

import (
	"errors"
	"fmt"
)

// Outcome classifies a resolved round.
type Outcome string

const (
	DrawAllSame  Outcome = "draw-all-same"
	DrawNoWinner Outcome = "draw-no-winner"
	DrawAllTied  Outcome = "draw-all-tied"
	Win          Outcome = "win"
)

var (
	ErrNoPlayers         = errors.New("no players")
	ErrIncompleteChoices = errors.New("choices do not match players")
)

const (
	explainAllSame  = "no one beats another since all selected the same element."
	explainNoWinner = "no element is unbeaten; each is countered by another."
	explainAllTied  = "no selected element beats another."
)

// Result is the outcome of one round.
type Result struct {
	Outcome      Outcome  `json:"outcome"`
	Winners      []string `json:"winners"`
	Explanations []string `json:"explanations"`
}

// Draw reports whether nobody won the round outright.
func (res Result) Draw() bool {
	return res.Outcome != Win
}

// Resolve computes the outcome of a round. choices must hold exactly one
// valid element for every name in players.
//
// A player wins when no other player's element beats theirs. Winners and
// explanations follow roster order; the set of winners does not depend on
// it.
func (r *Rules) Resolve(choices map[string]Element, players []string) (Result, error) {
	if len(players) == 0 {
		return Result{}, ErrNoPlayers
	}
	if len(choices) != len(players) {
		return Result{}, fmt.Errorf("%w: %d choices for %d players", ErrIncompleteChoices, len(choices), len(players))
	}

	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if seen[p] {
			return Result{}, fmt.Errorf("%w: duplicate player %q", ErrIncompleteChoices, p)
		}
		seen[p] = true

		e, ok := choices[p]
		if !ok {
			return Result{}, fmt.Errorf("%w: no choice for %q", ErrIncompleteChoices, p)
		}
		if !r.Valid(e) {
			return Result{}, fmt.Errorf("%w: %q chose %q", ErrInvalidElement, p, e)
		}
	}

	first := choices[players[0]]
	same := true
	for _, p := range players[1:] {
		if choices[p] != first {
			same = false
			break
		}
	}
	if same {
		return Result{
			Outcome:      DrawAllSame,
			Winners:      []string{},
			Explanations: []string{explainAllSame},
		}, nil
	}

	winners := make([]string, 0, len(players))
	for _, p := range players {
		if r.undefeated(p, choices, players) {
			winners = append(winners, p)
		}
	}

	switch len(winners) {
	case 0:
		return Result{
			Outcome:      DrawNoWinner,
			Winners:      winners,
			Explanations: []string{explainNoWinner},
		}, nil
	case len(players):
		return Result{
			Outcome:      DrawAllTied,
			Winners:      []string{},
			Explanations: []string{explainAllTied},
		}, nil
	}

	var lines []string
	for _, w := range winners {
		we := choices[w]
		for _, p := range players {
			if p == w {
				continue
			}
			pe := choices[p]
			verb, ok := r.Verb(we, pe)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s wins: %s %s %s (%s)", w, we, verb, pe, p))
		}
	}

	return Result{
		Outcome:      Win,
		Winners:      winners,
		Explanations: lines,
	}, nil
}

func (r *Rules) undefeated(p string, choices map[string]Element, players []string) bool {
	pe := choices[p]
	for _, q := range players {
		if q != p && r.Beats(choices[q], pe) {
			return false
		}
	}
	return true
}
