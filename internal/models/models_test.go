package models

import (
	"encoding/json"
	"testing"
)

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if id == 0 {
		t.Fatal("NewID returned zero id, want nonzero per the 1..MaxUint64 invariant")
	}
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ID
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != id {
		t.Fatalf("roundtrip: got %d, want %d", got, id)
	}
}

func TestIDMarshalsAsString(t *testing.T) {
	id := ID(123456789012345)
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `"123456789012345"`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestIDUnmarshalFromBareNumber(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte("42"), &id); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if id != 42 {
		t.Fatalf("got %d, want 42", id)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[ID]bool, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %d", id)
		}
		seen[id] = true
	}
}

func TestMessageEncodesReplyTarget(t *testing.T) {
	reply := ID(7)
	msg := Message{ID: ID(9), Guild: ID(1), Channel: ID(2), Author: ID(3), Content: "hi", ReplyTo: &reply}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ReplyTo == nil || *got.ReplyTo != reply {
		t.Fatalf("got ReplyTo %v, want %v", got.ReplyTo, reply)
	}
}
