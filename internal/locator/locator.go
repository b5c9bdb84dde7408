// Package locator resolves form elements from ranked, declarative locator
// lists. A locator is a (strategy, pattern) pair; a ranked list is tried in
// order and the first locator that yields at least one element wins.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Strategy names how a pattern is matched against the page.
type Strategy string

const (
	ByName  Strategy = "name"
	ByID    Strategy = "id"
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// ErrNotFound is returned when no locator in a ranked list matched.
var ErrNotFound = errors.New("element not found")

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case ByName, ByID, ByCSS, ByXPath:
		return true
	}
	return false
}

// Locator describes one way of finding an element.
type Locator struct {
	By      Strategy `mapstructure:"by" json:"by"`
	Pattern string   `mapstructure:"pattern" json:"pattern"`
}

// String renders the locator as strategy=pattern.
func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Pattern)
}

// Ranked is an ordered list of locators, best first.
type Ranked []Locator

// Expand returns a copy of r with every {key} placeholder in the patterns
// replaced by vars[key].
func (r Ranked) Expand(vars map[string]string) Ranked {
	if len(vars) == 0 {
		return append(Ranked(nil), r...)
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)

	out := make(Ranked, len(r))
	for i, l := range r {
		out[i] = Locator{By: l.By, Pattern: replacer.Replace(l.Pattern)}
	}
	return out
}

// Validate checks that every locator has a known strategy and a pattern.
func (r Ranked) Validate() error {
	if len(r) == 0 {
		return errors.New("ranked locator list is empty")
	}
	for i, l := range r {
		if !l.By.Valid() {
			return fmt.Errorf("locator %d: unknown strategy %q", i, l.By)
		}
		if strings.TrimSpace(l.Pattern) == "" {
			return fmt.Errorf("locator %d: empty pattern", i)
		}
	}
	return nil
}

// Prober is the capability needed to evaluate a single locator against a
// live page. An error from Locate is treated as "no match".
type Prober[E any] interface {
	Locate(ctx context.Context, l Locator) ([]E, error)
}

// Match is a successful resolution.
type Match[E any] struct {
	Elements []E
	Locator  Locator
	Rank     int
}

// First returns the first matched element.
func (m Match[E]) First() E {
	return m.Elements[0]
}

// Resolve tries the ranked locators strictly in order and returns every
// element matched by the first locator that found at least one. Probe errors
// fall through to the next rank. A done context stops resolution.
func Resolve[E any](ctx context.Context, p Prober[E], ranked Ranked) (Match[E], error) {
	for rank, l := range ranked {
		if err := ctx.Err(); err != nil {
			return Match[E]{}, fmt.Errorf("resolve %s: %w", l, err)
		}

		elements, err := p.Locate(ctx, l)
		if err != nil || len(elements) == 0 {
			continue
		}
		return Match[E]{Elements: elements, Locator: l, Rank: rank}, nil
	}
	return Match[E]{}, ErrNotFound
}

// Exists reports whether any locator in ranked matches. Context errors are
// reported; all other probe errors count as absence.
func Exists[E any](ctx context.Context, p Prober[E], ranked Ranked) (bool, error) {
	_, err := Resolve(ctx, p, ranked)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
