package bridge

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/events"
	"nhbbridge/native/bridge/message"
	"nhbbridge/native/bridge/quorum"
)

// Status is the position of an instruction in the processing pipeline.
type Status uint8

const (
	StatusPendingVerification Status = iota
	StatusVerified
	StatusSequenced
	StatusSettled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPendingVerification:
		return "pending_verification"
	case StatusVerified:
		return "verified"
	case StatusSequenced:
		return "sequenced"
	case StatusSettled:
		return "settled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRejected
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Receipt reports the outcome of one instruction. Trail lists every status
// the instruction passed through, ending in a terminal one.
type Receipt struct {
	Hash        common.Hash
	Type        message.Type
	Nonce       uint64
	SourceChain uint8
	Status      Status
	Trail       []Status
	Tally       quorum.Tally
	Events      []events.Event
	Err         error
}

func newReceipt(msg message.Message) *Receipt {
	return &Receipt{
		Hash:        msg.Hash(),
		Type:        msg.Type,
		Nonce:       msg.Nonce,
		SourceChain: msg.SourceChain,
		Status:      StatusPendingVerification,
		Trail:       []Status{StatusPendingVerification},
	}
}

func (r *Receipt) advance(s Status) {
	r.Status = s
	r.Trail = append(r.Trail, s)
}

func (r *Receipt) reject(err error) {
	r.Err = err
	r.advance(StatusRejected)
}

type receiptEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type receiptJSON struct {
	Hash        common.Hash    `json:"hash"`
	Type        string         `json:"type"`
	Nonce       uint64         `json:"nonce"`
	SourceChain uint8          `json:"sourceChain"`
	Status      Status         `json:"status"`
	Trail       []Status       `json:"trail"`
	Required    uint64         `json:"requiredStake"`
	Approved    uint64         `json:"approvedStake"`
	Signers     []string       `json:"signers,omitempty"`
	Blocklisted []string       `json:"blocklisted,omitempty"`
	Malformed   int            `json:"malformedSignatures,omitempty"`
	Events      []receiptEvent `json:"events,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func hexList(addrs []common.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

// MarshalJSON renders the receipt for RPC clients. Errors are flattened to
// their taxonomy kind and message.
func (r Receipt) MarshalJSON() ([]byte, error) {
	out := receiptJSON{
		Hash:        r.Hash,
		Type:        r.Type.String(),
		Nonce:       r.Nonce,
		SourceChain: r.SourceChain,
		Status:      r.Status,
		Trail:       r.Trail,
		Required:    r.Tally.Required,
		Approved:    r.Tally.Approved,
		Signers:     hexList(r.Tally.Signers),
		Blocklisted: hexList(r.Tally.Blocklisted),
		Malformed:   r.Tally.Malformed,
	}
	for _, evt := range r.Events {
		out.Events = append(out.Events, receiptEvent{Type: evt.EventType(), Attributes: evt.Attributes()})
	}
	if r.Err != nil {
		out.Kind = bridgeerrors.Kind(r.Err)
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
