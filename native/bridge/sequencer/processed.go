package sequencer

import (
	"errors"
	"fmt"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/native/bridge/message"
)

type processedRecord struct {
	Processed bool
}

func processedKey(t message.Type, sourceChain uint8, nonce uint64) []byte {
	return []byte(fmt.Sprintf("bridge/processed/%d/%d/%d", uint8(t), sourceChain, nonce))
}

// ProcessedSet remembers settled instructions by (type, source chain, nonce).
// Entries are never cleared.
type ProcessedSet struct {
	state sequencerState
}

// NewProcessedSet constructs a processed set over state.
func NewProcessedSet(state sequencerState) *ProcessedSet {
	return &ProcessedSet{state: state}
}

// IsProcessed reports whether the instruction has settled.
func (p *ProcessedSet) IsProcessed(t message.Type, sourceChain uint8, nonce uint64) (bool, error) {
	if p == nil || p.state == nil {
		return false, errors.New("sequencer: processed set not configured")
	}
	var rec processedRecord
	ok, err := p.state.KVGet(processedKey(t, sourceChain, nonce), &rec)
	if err != nil {
		return false, fmt.Errorf("sequencer: load processed flag: %w", err)
	}
	return ok && rec.Processed, nil
}

// Check fails with ErrAlreadyProcessed when the instruction has settled.
func (p *ProcessedSet) Check(t message.Type, sourceChain uint8, nonce uint64) error {
	done, err := p.IsProcessed(t, sourceChain, nonce)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: %s from chain %d nonce %d", bridgeerrors.ErrAlreadyProcessed, t, sourceChain, nonce)
	}
	return nil
}

// MarkProcessed records the instruction as settled. Marking twice fails.
func (p *ProcessedSet) MarkProcessed(t message.Type, sourceChain uint8, nonce uint64) error {
	if err := p.Check(t, sourceChain, nonce); err != nil {
		return err
	}
	if err := p.state.KVPut(processedKey(t, sourceChain, nonce), processedRecord{Processed: true}); err != nil {
		return fmt.Errorf("sequencer: persist processed flag: %w", err)
	}
	return nil
}
