package models

import (
	"encoding/json"
	"testing"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	if id.IsZero() {
		t.Fatal("NewULID returned zero ULID")
	}
	if len(id.String()) != 26 {
		t.Fatalf("ULID string length = %d, want 26", len(id.String()))
	}
}

func TestNewULID_Unique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		s := NewULID().String()
		if seen[s] {
			t.Fatalf("duplicate ULID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestNewULID_Monotonic(t *testing.T) {
	ids := make([]ULID, 100)
	for i := range ids {
		ids[i] = NewULID()
	}
	for i := 1; i < len(ids); i++ {
		if ids[i].Time().Before(ids[i-1].Time()) {
			t.Fatalf("ULID timestamps not monotonic at index %d", i)
		}
	}
}

func TestParseULID(t *testing.T) {
	original := NewULID()
	parsed, err := ParseULID(original.String())
	if err != nil {
		t.Fatalf("ParseULID(%q) error: %v", original.String(), err)
	}
	if parsed.String() != original.String() {
		t.Fatalf("ParseULID roundtrip: got %s, want %s", parsed, original)
	}
}

func TestParseULID_Invalid(t *testing.T) {
	for _, tc := range []string{"", "not-a-ulid", "123"} {
		if _, err := ParseULID(tc); err == nil {
			t.Errorf("ParseULID(%q) expected error, got nil", tc)
		}
	}
}

func TestULID_JSONRoundTrip(t *testing.T) {
	original := NewULID()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ULID
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.String() != original.String() {
		t.Fatalf("roundtrip: got %s, want %s", got, original)
	}
}

func TestULID_JSONEmptyString(t *testing.T) {
	var got ULID
	if err := json.Unmarshal([]byte(`""`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.IsZero() {
		t.Fatal("unmarshaling empty string should produce zero ULID")
	}
}
