package agent

import (
	"testing"

	"taskdeck/config"
)

func testRoster(t *testing.T) *Roster {
	t.Helper()
	r, err := NewRoster([]config.AgentConfig{
		{Name: "Jarvis", ID: "main", Profile: "lead"},
		{Name: "Architect", ID: "architect"},
		{Name: "Security Auditor", ID: "security-auditor"},
		{Name: "Code Reviewer", ID: "code-reviewer"},
		{Name: "UX Manager", ID: "ux-manager", Profile: "ux"},
	})
	if err != nil {
		t.Fatalf("NewRoster: %v", err)
	}
	return r
}

func TestNewRosterValidation(t *testing.T) {
	cases := []struct {
		name string
		cfgs []config.AgentConfig
	}{
		{"empty roster", nil},
		{"missing name", []config.AgentConfig{{ID: "x"}}},
		{"missing id", []config.AgentConfig{{Name: "X"}}},
		{"duplicate id", []config.AgentConfig{{Name: "A", ID: "x"}, {Name: "B", ID: "x"}}},
		{"duplicate name ignoring case", []config.AgentConfig{{Name: "Architect", ID: "a"}, {Name: "ARCHITECT", ID: "b"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRoster(tc.cfgs); err == nil {
				t.Errorf("NewRoster(%v) succeeded, want error", tc.cfgs)
			}
		})
	}
}

func TestRosterLookup(t *testing.T) {
	r := testRoster(t)

	id, ok := r.Lookup("security auditor")
	if !ok {
		t.Fatal("Lookup(security auditor) not found")
	}
	if id.ID != "security-auditor" {
		t.Errorf("ID = %q, want %q", id.ID, "security-auditor")
	}
	if _, ok := r.Lookup("Nobody"); ok {
		t.Error("Lookup(Nobody) found, want miss")
	}
	if !r.Contains("JARVIS") {
		t.Error("Contains(JARVIS) = false")
	}
}

func TestRosterLead(t *testing.T) {
	r := testRoster(t)
	if lead := r.Lead(); lead.Name != "Jarvis" {
		t.Errorf("Lead = %q, want Jarvis", lead.Name)
	}

	noLead, err := NewRoster([]config.AgentConfig{{Name: "Solo", ID: "solo"}})
	if err != nil {
		t.Fatalf("NewRoster: %v", err)
	}
	if lead := noLead.Lead(); lead.Name != "Solo" {
		t.Errorf("Lead fallback = %q, want Solo", lead.Name)
	}
}
