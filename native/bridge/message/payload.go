package message

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	bridgeerrors "nhbbridge/core/errors"
)

// Payload is the closed set of instruction bodies. The unexported accept
// method keeps the set sealed to this package and forces every Handler to
// cover each kind.
type Payload interface {
	Type() Type
	Encode() ([]byte, error)
	accept(Handler) error
}

// Handler receives a decoded payload. Adding a payload kind adds a method here.
type Handler interface {
	HandleTokenTransfer(TokenTransfer) error
	HandleBlocklist(Blocklist) error
	HandleEmergencyOp(EmergencyOp) error
	HandleUpdateLimit(UpdateLimit) error
}

// Dispatch routes p to the matching Handler method.
func Dispatch(p Payload, h Handler) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", bridgeerrors.ErrMalformedPayload)
	}
	return p.accept(h)
}

// Boolean payload fields occupy one byte.
const (
	boolFalse byte = 0
	boolTrue  byte = 1
)

func encodeBool(v bool) byte {
	if v {
		return boolTrue
	}
	return boolFalse
}

func decodeBool(b byte) (bool, bool) {
	switch b {
	case boolFalse:
		return false, true
	case boolTrue:
		return true, true
	default:
		return false, false
	}
}

// TokenTransfer moves AssetID from Sender on the source chain to Target on
// TargetChain. Amount is expressed in the bridge's (foreign) precision.
type TokenTransfer struct {
	Sender      []byte
	TargetChain uint8
	Target      common.Address
	AssetID     uint8
	Amount      uint64
}

func (TokenTransfer) Type() Type { return TypeTokenTransfer }

func (p TokenTransfer) Encode() ([]byte, error) {
	if len(p.Sender) == 0 || len(p.Sender) > 255 {
		return nil, fmt.Errorf("%w: sender length %d", bridgeerrors.ErrMalformedPayload, len(p.Sender))
	}
	buf := make([]byte, 0, 1+len(p.Sender)+1+1+common.AddressLength+1+8)
	buf = append(buf, byte(len(p.Sender)))
	buf = append(buf, p.Sender...)
	buf = append(buf, p.TargetChain, common.AddressLength)
	buf = append(buf, p.Target.Bytes()...)
	buf = append(buf, p.AssetID)
	buf = binary.BigEndian.AppendUint64(buf, p.Amount)
	return buf, nil
}

func (p TokenTransfer) accept(h Handler) error { return h.HandleTokenTransfer(p) }

// DecodeTokenTransfer parses senderLen u8, sender, targetChain u8,
// targetLen u8 (20), target, assetId u8, amount u64.
func DecodeTokenTransfer(b []byte) (TokenTransfer, error) {
	r := reader{buf: b}
	senderLen := r.u8()
	if senderLen == 0 {
		return TokenTransfer{}, malformed("token transfer: empty sender")
	}
	sender := r.bytes(int(senderLen))
	targetChain := r.u8()
	targetLen := r.u8()
	if !r.failed && targetLen != common.AddressLength {
		return TokenTransfer{}, malformed("token transfer: target length %d", targetLen)
	}
	target := r.bytes(common.AddressLength)
	assetID := r.u8()
	amount := r.u64()
	if err := r.finish("token transfer"); err != nil {
		return TokenTransfer{}, err
	}
	return TokenTransfer{
		Sender:      append([]byte(nil), sender...),
		TargetChain: targetChain,
		Target:      common.BytesToAddress(target),
		AssetID:     assetID,
		Amount:      amount,
	}, nil
}

// Blocklist sets or clears the blocklist flag on committee members.
type Blocklist struct {
	Blocked bool
	Members []common.Address
}

func (Blocklist) Type() Type { return TypeBlocklist }

func (p Blocklist) Encode() ([]byte, error) {
	if len(p.Members) == 0 || len(p.Members) > 255 {
		return nil, fmt.Errorf("%w: blocklist member count %d", bridgeerrors.ErrMalformedPayload, len(p.Members))
	}
	buf := make([]byte, 0, 2+len(p.Members)*common.AddressLength)
	buf = append(buf, encodeBool(p.Blocked), byte(len(p.Members)))
	for _, m := range p.Members {
		buf = append(buf, m.Bytes()...)
	}
	return buf, nil
}

func (p Blocklist) accept(h Handler) error { return h.HandleBlocklist(p) }

// DecodeBlocklist parses blocked u8 (0 or 1), count u8, count x 20-byte
// addresses.
func DecodeBlocklist(b []byte) (Blocklist, error) {
	r := reader{buf: b}
	flag := r.u8()
	count := r.u8()
	if r.failed {
		return Blocklist{}, malformed("blocklist: truncated header")
	}
	blocked, ok := decodeBool(flag)
	if !ok {
		return Blocklist{}, malformed("blocklist: invalid blocked flag %d", flag)
	}
	if count == 0 {
		return Blocklist{}, malformed("blocklist: empty member list")
	}
	members := make([]common.Address, 0, count)
	for i := 0; i < int(count); i++ {
		members = append(members, common.BytesToAddress(r.bytes(common.AddressLength)))
	}
	if err := r.finish("blocklist"); err != nil {
		return Blocklist{}, err
	}
	return Blocklist{Blocked: blocked, Members: members}, nil
}

// EmergencyOp freezes or unfreezes the bridge.
type EmergencyOp struct {
	Freeze bool
}

func (EmergencyOp) Type() Type { return TypeEmergencyOp }

func (p EmergencyOp) Encode() ([]byte, error) {
	return []byte{encodeBool(p.Freeze)}, nil
}

func (p EmergencyOp) accept(h Handler) error { return h.HandleEmergencyOp(p) }

// DecodeEmergencyOp parses a single freeze byte (0 or 1).
func DecodeEmergencyOp(b []byte) (EmergencyOp, error) {
	r := reader{buf: b}
	flag := r.u8()
	if err := r.finish("emergency op"); err != nil {
		return EmergencyOp{}, err
	}
	freeze, ok := decodeBool(flag)
	if !ok {
		return EmergencyOp{}, malformed("emergency op: invalid freeze flag %d", flag)
	}
	return EmergencyOp{Freeze: freeze}, nil
}

// UpdateLimit replaces the per-window volume limit of an asset.
type UpdateLimit struct {
	AssetID uint8
	Limit   uint64
}

func (UpdateLimit) Type() Type { return TypeUpdateLimit }

func (p UpdateLimit) Encode() ([]byte, error) {
	buf := make([]byte, 0, 9)
	buf = append(buf, p.AssetID)
	return binary.BigEndian.AppendUint64(buf, p.Limit), nil
}

func (p UpdateLimit) accept(h Handler) error { return h.HandleUpdateLimit(p) }

// DecodeUpdateLimit parses assetId u8, limit u64.
func DecodeUpdateLimit(b []byte) (UpdateLimit, error) {
	r := reader{buf: b}
	assetID := r.u8()
	limit := r.u64()
	if err := r.finish("update limit"); err != nil {
		return UpdateLimit{}, err
	}
	return UpdateLimit{AssetID: assetID, Limit: limit}, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{bridgeerrors.ErrMalformedPayload}, args...)...)
}

// reader is a cursor over a fixed-layout payload. Reads past the end set
// failed instead of panicking; finish reports it together with trailing bytes.
type reader struct {
	buf    []byte
	off    int
	failed bool
}

func (r *reader) bytes(n int) []byte {
	if r.failed || r.off+n > len(r.buf) {
		r.failed = true
		return make([]byte, n)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() byte {
	return r.bytes(1)[0]
}

func (r *reader) u64() uint64 {
	return binary.BigEndian.Uint64(r.bytes(8))
}

func (r *reader) finish(what string) error {
	if r.failed {
		return malformed("%s: truncated payload", what)
	}
	if r.off != len(r.buf) {
		return malformed("%s: %d trailing bytes", what, len(r.buf)-r.off)
	}
	return nil
}
