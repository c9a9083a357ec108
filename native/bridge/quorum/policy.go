package quorum

import (
	"fmt"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/message"
)

// Policy maps message types to the stake, in basis points of
// committee.TotalStake, needed to authorise them.
type Policy struct {
	TokenTransfer    uint64
	Blocklist        uint64
	UpdateLimit      uint64
	EmergencyPause   uint64
	EmergencyUnpause uint64
}

// DefaultPolicy returns the thresholds used when none are configured.
// Pausing is cheap so a small coalition can halt the bridge; unpausing needs a
// majority.
func DefaultPolicy() Policy {
	return Policy{
		TokenTransfer:    6667,
		Blocklist:        5001,
		UpdateLimit:      5001,
		EmergencyPause:   450,
		EmergencyUnpause: 5001,
	}
}

// Validate rejects thresholds that can never or trivially be met.
func (p Policy) Validate() error {
	checks := []struct {
		name  string
		value uint64
	}{
		{"token transfer", p.TokenTransfer},
		{"blocklist", p.Blocklist},
		{"update limit", p.UpdateLimit},
		{"emergency pause", p.EmergencyPause},
		{"emergency unpause", p.EmergencyUnpause},
	}
	for _, c := range checks {
		if c.value == 0 {
			return fmt.Errorf("quorum: %s threshold must be positive", c.name)
		}
		if c.value > committee.TotalStake {
			return fmt.Errorf("quorum: %s threshold %d exceeds %d", c.name, c.value, committee.TotalStake)
		}
	}
	return nil
}

// Required returns the stake needed to authorise a message of type t given
// the current pause state.
func (p Policy) Required(t message.Type, paused bool) (uint64, error) {
	switch t {
	case message.TypeTokenTransfer:
		return p.TokenTransfer, nil
	case message.TypeBlocklist:
		return p.Blocklist, nil
	case message.TypeUpdateLimit:
		return p.UpdateLimit, nil
	case message.TypeEmergencyOp:
		if paused {
			return p.EmergencyUnpause, nil
		}
		return p.EmergencyPause, nil
	default:
		return 0, fmt.Errorf("%w: no threshold for message type %d", bridgeerrors.ErrMalformedPayload, t)
	}
}
