// Package message defines the canonical, domain-separated encoding of bridge
// instructions and the typed payloads they carry.
package message

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	bridgeerrors "nhbbridge/core/errors"
)

// Type tags the payload schema carried by a message.
type Type uint8

const (
	TypeTokenTransfer Type = 0
	TypeBlocklist     Type = 1
	TypeEmergencyOp   Type = 2
	TypeUpdateLimit   Type = 3
)

// CurrentVersion is the only message version this codec accepts.
const CurrentVersion uint8 = 1

// DomainTag prefixes every signed encoding so bridge signatures cannot be
// replayed against another protocol's digests.
var DomainTag = []byte("NHB_BRIDGE_MESSAGE")

// headerLen covers type, version, nonce and source chain.
const headerLen = 1 + 1 + 8 + 1

var typeNames = map[Type]string{
	TypeTokenTransfer: "token_transfer",
	TypeBlocklist:     "blocklist",
	TypeEmergencyOp:   "emergency_op",
	TypeUpdateLimit:   "update_limit",
}

// Types lists every known message type in tag order.
func Types() []Type {
	return []Type{TypeTokenTransfer, TypeBlocklist, TypeEmergencyOp, TypeUpdateLimit}
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType accepts either the type's name or its numeric tag.
func ParseType(raw string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for t, name := range typeNames {
		if name == normalized {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(normalized, 10, 8)
	if err != nil || !Type(n).Valid() {
		return 0, fmt.Errorf("unknown message type %q", raw)
	}
	return Type(n), nil
}

// Message is a cross-chain instruction before signatures are attached.
type Message struct {
	Type        Type          `json:"type"`
	Version     uint8         `json:"version"`
	Nonce       uint64        `json:"nonce"`
	SourceChain uint8         `json:"sourceChain"`
	Payload     hexutil.Bytes `json:"payload"`
}

// New builds a current-version message around an encoded payload.
func New(nonce uint64, sourceChain uint8, payload Payload) (Message, error) {
	encoded, err := payload.Encode()
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:        payload.Type(),
		Version:     CurrentVersion,
		Nonce:       nonce,
		SourceChain: sourceChain,
		Payload:     encoded,
	}, nil
}

// EncodeForSigning returns DomainTag || type || version || nonce (u64 BE) ||
// sourceChain || payload. Every header field is fixed width and the payload is
// last, so distinct messages never share an encoding.
func (m Message) EncodeForSigning() []byte {
	buf := make([]byte, len(DomainTag)+headerLen+len(m.Payload))
	n := copy(buf, DomainTag)
	buf[n] = byte(m.Type)
	buf[n+1] = m.Version
	binary.BigEndian.PutUint64(buf[n+2:n+10], m.Nonce)
	buf[n+10] = m.SourceChain
	copy(buf[n+headerLen:], m.Payload)
	return buf
}

// Hash is the Keccak256 digest committee members sign.
func (m Message) Hash() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(m.EncodeForSigning()))
}

// Decode parses the message payload according to its type tag.
func (m Message) Decode() (Payload, error) {
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", bridgeerrors.ErrMalformedPayload, m.Version)
	}
	switch m.Type {
	case TypeTokenTransfer:
		return DecodeTokenTransfer(m.Payload)
	case TypeBlocklist:
		return DecodeBlocklist(m.Payload)
	case TypeEmergencyOp:
		return DecodeEmergencyOp(m.Payload)
	case TypeUpdateLimit:
		return DecodeUpdateLimit(m.Payload)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", bridgeerrors.ErrMalformedPayload, m.Type)
	}
}

// SignedInstruction is the wire form submitted to the bridge.
type SignedInstruction struct {
	Message    Message         `json:"message"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

// RawSignatures returns the signatures as plain byte slices.
func (s SignedInstruction) RawSignatures() [][]byte {
	out := make([][]byte, len(s.Signatures))
	for i, sig := range s.Signatures {
		out[i] = sig
	}
	return out
}
