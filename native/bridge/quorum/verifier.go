// Package quorum authenticates committee-signed bridge messages by recovering
// signers and weighing their stake against a per-type threshold.
package quorum

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/crypto"
	"nhbbridge/native/bridge/message"
)

// Committee is the read-only stake view the verifier weighs signers against.
type Committee interface {
	StakeOf(addr common.Address) (uint64, error)
	IsBlocklisted(addr common.Address) (bool, error)
}

// PauseState reports whether the bridge is currently paused.
type PauseState interface {
	IsPaused() (bool, error)
}

// Tally describes how a signature batch was counted.
type Tally struct {
	Required uint64
	Approved uint64
	// Signers lists every recovered committee member in submission order,
	// blocklisted ones included.
	Signers     []common.Address
	Blocklisted []common.Address
	// Malformed counts signatures that could not be recovered and were skipped.
	Malformed int
}

// Verifier checks signature batches. It never mutates state and is safe to
// run speculatively.
type Verifier struct {
	committee Committee
	pause     PauseState
	policy    Policy
}

// NewVerifier wires a verifier. A nil pause view is treated as never paused.
func NewVerifier(c Committee, pause PauseState, policy Policy) *Verifier {
	return &Verifier{committee: c, pause: pause, policy: policy}
}

func (v *Verifier) paused() (bool, error) {
	if v.pause == nil {
		return false, nil
	}
	return v.pause.IsPaused()
}

// Verify authenticates sigs over msg. It succeeds when the unique,
// non-blocklisted committee signers hold at least the stake the policy
// requires for expected. The returned tally is populated as far as counting
// got, including on ErrInsufficientStake.
func (v *Verifier) Verify(sigs [][]byte, msg message.Message, expected message.Type) (Tally, error) {
	if v == nil || v.committee == nil {
		return Tally{}, errors.New("quorum: verifier not configured")
	}
	if msg.Type != expected {
		return Tally{}, fmt.Errorf("%w: got %s, want %s", bridgeerrors.ErrTypeMismatch, msg.Type, expected)
	}
	paused, err := v.paused()
	if err != nil {
		return Tally{}, fmt.Errorf("quorum: read pause state: %w", err)
	}
	required, err := v.policy.Required(msg.Type, paused)
	if err != nil {
		return Tally{}, err
	}
	tally := Tally{Required: required}
	digest := msg.Hash()

	seen := make(map[common.Address]int, len(sigs))
	for i, sig := range sigs {
		signer, err := crypto.Recover(digest.Bytes(), sig)
		if err != nil {
			tally.Malformed++
			continue
		}
		if first, dup := seen[signer]; dup {
			return tally, fmt.Errorf("%w: %s signed at positions %d and %d", bridgeerrors.ErrDuplicateSigner, signer.Hex(), first, i)
		}
		seen[signer] = i

		stake, err := v.committee.StakeOf(signer)
		if err != nil {
			return tally, err
		}
		if stake == 0 {
			return tally, fmt.Errorf("%w: %s", bridgeerrors.ErrUnknownSigner, signer.Hex())
		}
		tally.Signers = append(tally.Signers, signer)

		blocked, err := v.committee.IsBlocklisted(signer)
		if err != nil {
			return tally, err
		}
		if blocked {
			tally.Blocklisted = append(tally.Blocklisted, signer)
			continue
		}
		tally.Approved += stake
	}
	if tally.Approved < tally.Required {
		return tally, fmt.Errorf("%w: approved %d, required %d", bridgeerrors.ErrInsufficientStake, tally.Approved, tally.Required)
	}
	return tally, nil
}
