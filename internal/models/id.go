// Package models defines the shared entity types every other component
// reads and writes: Guild, Channel, Message, Role, Member, Invite,
// EmotePack, Session, and federation peer records.
package models

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
)

// ID is a 64-bit nonzero entity identifier (guild, channel, message, role).
// It marshals as a decimal string so JavaScript clients never lose
// precision the way a raw JSON number above 2^53 would.
type ID uint64

// maxID is math.MaxUint64 expressed as a big.Int bound for rand.Int, which
// only accepts values up to (but excluding) its max argument; subtracting 1
// keeps the generated range 1..MaxUint64 inclusive per the nonzero-id
// invariant.
var maxID = new(big.Int).SetUint64(^uint64(0))

// NewID draws a uniformly random, nonzero 64-bit id.
func NewID() (ID, error) {
	n, err := rand.Int(rand.Reader, maxID)
	if err != nil {
		return 0, fmt.Errorf("generating id: %w", err)
	}
	v := n.Uint64() + 1 // shift 0..max-1 to 1..max, keeping the nonzero invariant
	return ID(v), nil
}

func (id ID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// MarshalJSON encodes the id as a quoted decimal string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a quoted decimal string (or a bare JSON number, for
// leniency) into an ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		var v uint64
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return fmt.Errorf("unmarshaling id %q: %w", s, err)
		}
		*id = ID(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshaling id: %w", err)
	}
	*id = ID(v)
	return nil
}
