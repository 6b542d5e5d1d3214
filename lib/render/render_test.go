package render

import (
	"strings"
	"testing"
	"time"

	"github.com/qphox/cryoswitch"
)

func TestDiagram(t *testing.T) {
	state := cryoswitch.PortState{
		"contact_1": 0,
		"contact_2": 0,
		"contact_3": 1,
		"contact_4": 0,
		"contact_5": 0,
		"contact_6": 0,
	}
	out := Diagram("A", state)

	for _, want := range []string{
		"Port A state",
		"3 ----\u2524",
		"1 -  -\u2502",
		"6 -  -\u2502",
		"      \u2514- COM",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Diagram missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "3 -  -") {
		t.Errorf("contact 3 drawn open:\n%s", out)
	}
}

func TestDiagramFirstContactClosed(t *testing.T) {
	state := cryoswitch.PortState{"contact_1": 1}
	out := Diagram("B", state)
	// The topmost closed contact takes the corner piece.
	if !strings.Contains(out, "1 ----\u2510") {
		t.Errorf("Diagram missing the corner join:\n%s", out)
	}
}

func TestHistory(t *testing.T) {
	events := []cryoswitch.PulseEvent{
		{Port: "A", Contact: 3, Polarity: 1, MaxCurrent: 96, Time: time.Unix(100, 0)},
		{Port: "A", Contact: 3, Polarity: 0, MaxCurrent: 39, Time: time.Unix(200, 0), LowCurrent: true},
	}
	out := History(events)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("History rendered %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "Connect") || !strings.Contains(lines[1], "Low current detected!") {
		t.Errorf("History output:\n%s", out)
	}
}
