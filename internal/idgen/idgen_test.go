package idgen

import (
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := New()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("expected 5 dash-separated groups, got %d (%q)", len(parts), id)
	}
	if len(id) != 36 {
		t.Errorf("expected 36 chars, got %d", len(id))
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("run_")
	if !strings.HasPrefix(id, "run_") {
		t.Errorf("missing prefix: %q", id)
	}
	if len(id) != len("run_")+24 {
		t.Errorf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("run_")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
