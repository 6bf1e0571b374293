package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNodeID(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		id := RandomNodeID()
		parsed, err := ParseNodeID(id.String())
		if err != nil {
			t.Fatalf("ParseNodeID() error = %v", err)
		}
		if parsed != id {
			t.Errorf("ParseNodeID(String()) = %v, want %v", parsed, id)
		}
	})

	t.Run("ParseInvalid", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"empty", ""},
			{"not base58", "0OIl"},
			{"too short", "3mJr7AoUXx2Wqd"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := ParseNodeID(tt.input); err == nil {
					t.Errorf("ParseNodeID(%q) expected error", tt.input)
				}
			})
		}
	})

	t.Run("ShortString", func(t *testing.T) {
		id := RandomNodeID()
		if len(id.ShortString()) != 8 {
			t.Errorf("ShortString() = %q, want 8 chars", id.ShortString())
		}
		if EmptyNodeID.String() != "" {
			t.Errorf("empty NodeID should render as empty string")
		}
	})

	t.Run("JSON", func(t *testing.T) {
		id := RandomNodeID()
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatal(err)
		}
		var back NodeID
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}
		if back != id {
			t.Errorf("JSON round trip mismatch")
		}
	})
}

func TestContentHash(t *testing.T) {
	var h ContentHash
	for i := range h {
		h[i] = byte(i)
	}

	s := h.String()
	if len(s) != 64 {
		t.Fatalf("String() length = %d, want 64", len(s))
	}

	parsed, err := ParseContentHash(strings.ToUpper(s))
	if err != nil {
		t.Fatalf("ParseContentHash(upper) error = %v", err)
	}
	if parsed != h {
		t.Errorf("ParseContentHash mismatch")
	}

	for _, bad := range []string{"", s[:63], s + "0", strings.Repeat("zz", 32)} {
		if _, err := ParseContentHash(bad); err == nil {
			t.Errorf("ParseContentHash(%q) expected error", bad)
		}
	}

	if h.Key() != NodeID(h) {
		t.Errorf("Key() should reuse the hash bytes")
	}
}
