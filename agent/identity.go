// Package agent defines the board's agent roster, mention parsing, and
// guardrail composition for spawned sessions.
package agent

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"

	"taskdeck/config"
)

// Identity describes one agent on the roster.
type Identity struct {
	Name         string // display name used on cards and in @mentions
	ID           string // execution identifier known to the gateway
	Profile      string // guardrail profile; "ux" permits localhost browser use
	SystemPrompt string
}

// Roster is the closed set of agents that can own or review tasks.
// Unknown agent names are rejected wherever they appear.
type Roster struct {
	agents  []Identity
	byFold  map[string]Identity
	ordered []Identity // agents sorted by folded-name length, longest first
	fold    cases.Caser
}

// NewRoster validates the configured agents and builds the roster.
// Duplicate or empty names and IDs fail immediately.
func NewRoster(cfgs []config.AgentConfig) (*Roster, error) {
	r := &Roster{
		byFold: make(map[string]Identity, len(cfgs)),
		fold:   cases.Fold(),
	}
	seenID := make(map[string]bool, len(cfgs))

	for _, c := range cfgs {
		if c.Name == "" {
			return nil, fmt.Errorf("agent with id %q has no name", c.ID)
		}
		if c.ID == "" {
			return nil, fmt.Errorf("agent %q has no execution id", c.Name)
		}
		folded := r.fold.String(c.Name)
		if _, dup := r.byFold[folded]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", c.Name)
		}
		if seenID[c.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", c.ID)
		}
		seenID[c.ID] = true

		id := Identity{Name: c.Name, ID: c.ID, Profile: c.Profile, SystemPrompt: c.SystemPrompt}
		r.agents = append(r.agents, id)
		r.byFold[folded] = id
	}
	if len(r.agents) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}

	r.ordered = make([]Identity, len(r.agents))
	copy(r.ordered, r.agents)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return len(r.fold.String(r.ordered[i].Name)) > len(r.fold.String(r.ordered[j].Name))
	})
	return r, nil
}

// Lookup resolves a display name, case-insensitively.
func (r *Roster) Lookup(name string) (Identity, bool) {
	id, ok := r.byFold[r.fold.String(name)]
	return id, ok
}

// Contains reports whether name belongs to the roster.
func (r *Roster) Contains(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// All returns the roster in configuration order.
func (r *Roster) All() []Identity {
	out := make([]Identity, len(r.agents))
	copy(out, r.agents)
	return out
}

// Names returns the display names in configuration order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.agents))
	for i, a := range r.agents {
		names[i] = a.Name
	}
	return names
}

// Lead returns the coordinating agent: the first with the "lead"
// profile, or the first configured agent.
func (r *Roster) Lead() Identity {
	for _, a := range r.agents {
		if a.Profile == "lead" {
			return a
		}
	}
	return r.agents[0]
}
