/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package elements holds the rules of the Game of Elements: the five
// elements, which element beats which, and how a round of simultaneous
// choices is resolved.
package elements

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Element is one of the symbolic game pieces.
type Element string

const (
	Fire  Element = "Fire"
	Water Element = "Water"
	Earth Element = "Earth"
	Air   Element = "Air"
	Ether Element = "Ether"
)

var ErrInvalidElement = errors.New("invalid element")

//go:embed rules.yaml
var rulesYAML []byte

// Standard is the rule set every game is played with.
var Standard = mustLoadRules(rulesYAML)

type rawRules struct {
	Elements []string                     `yaml:"elements"`
	Beats    map[string]map[string]string `yaml:"beats"`
}

// Rules is an immutable beats relation over a closed set of elements,
// with a descriptive verb for every edge.
type Rules struct {
	order []Element
	verbs map[Element]map[Element]string
}

func mustLoadRules(data []byte) *Rules {
	r, err := LoadRules(data)
	if err != nil {
		panic("elements: embedded rules: " + err.Error())
	}
	return r
}

// LoadRules parses and validates a YAML rule document. Every element must
// beat the same number of elements as every other element, and be beaten
// by that many in turn. Two elements may beat each other.
func LoadRules(data []byte) (*Rules, error) {
	var raw rawRules
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	n := len(raw.Elements)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 elements, got %d", n)
	}

	r := &Rules{
		order: make([]Element, 0, n),
		verbs: make(map[Element]map[Element]string, n),
	}

	for _, name := range raw.Elements {
		e := Element(name)
		if name == "" {
			return nil, errors.New("empty element name")
		}
		if _, dup := r.verbs[e]; dup {
			return nil, fmt.Errorf("duplicate element %q", name)
		}
		r.order = append(r.order, e)
		r.verbs[e] = make(map[Element]string)
	}

	for winner, edges := range raw.Beats {
		w := Element(winner)
		if _, ok := r.verbs[w]; !ok {
			return nil, fmt.Errorf("beats: unknown element %q", winner)
		}
		for loser, verb := range edges {
			l := Element(loser)
			if _, ok := r.verbs[l]; !ok {
				return nil, fmt.Errorf("beats: %s: unknown element %q", winner, loser)
			}
			if w == l {
				return nil, fmt.Errorf("beats: %s cannot beat itself", winner)
			}
			if strings.TrimSpace(verb) == "" {
				return nil, fmt.Errorf("beats: %s -> %s has no verb", winner, loser)
			}
			r.verbs[w][l] = verb
		}
	}

	want := len(r.verbs[r.order[0]])
	if want == 0 {
		return nil, fmt.Errorf("%s beats nothing", r.order[0])
	}
	beatenBy := make(map[Element]int, n)
	for _, w := range r.order {
		if got := len(r.verbs[w]); got != want {
			return nil, fmt.Errorf("%s beats %d elements, want %d", w, got, want)
		}
		for l := range r.verbs[w] {
			beatenBy[l]++
		}
	}
	for _, e := range r.order {
		if beatenBy[e] != want {
			return nil, fmt.Errorf("%s is beaten by %d elements, want %d", e, beatenBy[e], want)
		}
	}

	return r, nil
}

// Elements returns the elements in canonical order.
func (r *Rules) Elements() []Element {
	out := make([]Element, len(r.order))
	copy(out, r.order)
	return out
}

// Valid reports whether e belongs to the rule set.
func (r *Rules) Valid(e Element) bool {
	_, ok := r.verbs[e]
	return ok
}

// Parse maps client input to an element, ignoring case and surrounding
// whitespace.
func (r *Rules) Parse(s string) (Element, error) {
	s = strings.TrimSpace(s)
	for _, e := range r.order {
		if strings.EqualFold(string(e), s) {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidElement, s)
}

// Beats reports whether a beats b.
func (r *Rules) Beats(a, b Element) bool {
	_, ok := r.verbs[a][b]
	return ok
}

// Verb returns the word describing how a beats b, e.g. "burns".
func (r *Rules) Verb(a, b Element) (string, bool) {
	v, ok := r.verbs[a][b]
	return v, ok
}

// Beaten returns the elements e beats, in canonical order.
func (r *Rules) Beaten(e Element) []Element {
	var out []Element
	for _, x := range r.order {
		if r.Beats(e, x) {
			out = append(out, x)
		}
	}
	return out
}

// Describe renders the rule table as one sentence per element, e.g.
// "Fire burns Earth and purifies Ether".
func (r *Rules) Describe() []string {
	lines := make([]string, 0, len(r.order))
	for _, w := range r.order {
		var parts []string
		for _, l := range r.Beaten(w) {
			parts = append(parts, r.verbs[w][l]+" "+string(l))
		}
		lines = append(lines, string(w)+" "+strings.Join(parts, " and "))
	}
	return lines
}
