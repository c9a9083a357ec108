// Package sequencer enforces strict in-order nonce consumption per message
// type and records which transfers have settled.
package sequencer

import (
	"errors"
	"fmt"
	"math"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/native/bridge/message"
)

type sequencerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type nonceRecord struct {
	Next uint64
}

func nonceKey(t message.Type) []byte {
	return []byte(fmt.Sprintf("bridge/nonce/%d", uint8(t)))
}

// Sequencer keeps one counter per message type. Counters start at zero and
// only ever advance by one.
type Sequencer struct {
	state sequencerState
}

// New constructs a sequencer over state.
func New(state sequencerState) *Sequencer {
	return &Sequencer{state: state}
}

func (s *Sequencer) withState() (sequencerState, error) {
	if s == nil || s.state == nil {
		return nil, errors.New("sequencer: state not configured")
	}
	return s.state, nil
}

// Expected returns the nonce the next message of type t must carry.
func (s *Sequencer) Expected(t message.Type) (uint64, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	if !t.Valid() {
		return 0, fmt.Errorf("sequencer: unknown message type %d", t)
	}
	var rec nonceRecord
	if _, err := state.KVGet(nonceKey(t), &rec); err != nil {
		return 0, fmt.Errorf("sequencer: load nonce: %w", err)
	}
	return rec.Next, nil
}

// ConsumeNext advances the counter for t when presented equals the expected
// nonce. Earlier and later nonces alike fail with ErrNonceMismatch.
func (s *Sequencer) ConsumeNext(t message.Type, presented uint64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	expected, err := s.Expected(t)
	if err != nil {
		return err
	}
	if presented != expected {
		return fmt.Errorf("%w: %s expected %d, got %d", bridgeerrors.ErrNonceMismatch, t, expected, presented)
	}
	if expected == math.MaxUint64 {
		return fmt.Errorf("sequencer: %s nonce space exhausted", t)
	}
	if err := state.KVPut(nonceKey(t), nonceRecord{Next: expected + 1}); err != nil {
		return fmt.Errorf("sequencer: persist nonce: %w", err)
	}
	return nil
}
