package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	bridgeerrors "nhbbridge/core/errors"
)

func sampleTransfer() TokenTransfer {
	return TokenTransfer{
		Sender:      bytes.Repeat([]byte{0xab}, 32),
		TargetChain: 2,
		Target:      common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		AssetID:     2,
		Amount:      2_500_000_000,
	}
}

func mustMessage(t *testing.T, nonce uint64, chain uint8, p Payload) Message {
	t.Helper()
	msg, err := New(nonce, chain, p)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	return msg
}

func TestEncodeForSigningLayout(t *testing.T) {
	msg := mustMessage(t, 0x0102030405060708, 9, EmergencyOp{Freeze: true})
	enc := msg.EncodeForSigning()
	if !bytes.HasPrefix(enc, DomainTag) {
		t.Fatalf("encoding missing domain tag")
	}
	header := enc[len(DomainTag):]
	want := []byte{byte(TypeEmergencyOp), CurrentVersion, 1, 2, 3, 4, 5, 6, 7, 8, 9, boolTrue}
	if !bytes.Equal(header, want) {
		t.Fatalf("unexpected layout %x, want %x", header, want)
	}
	if !bytes.Equal(enc, msg.EncodeForSigning()) {
		t.Fatalf("encoding is not deterministic")
	}
	if msg.Hash() != msg.Hash() {
		t.Fatalf("hash is not deterministic")
	}
}

func TestHashSeparatesEveryField(t *testing.T) {
	base := mustMessage(t, 5, 1, EmergencyOp{Freeze: true})
	variants := []Message{
		{Type: TypeUpdateLimit, Version: base.Version, Nonce: base.Nonce, SourceChain: base.SourceChain, Payload: base.Payload},
		{Type: base.Type, Version: 2, Nonce: base.Nonce, SourceChain: base.SourceChain, Payload: base.Payload},
		{Type: base.Type, Version: base.Version, Nonce: 6, SourceChain: base.SourceChain, Payload: base.Payload},
		{Type: base.Type, Version: base.Version, Nonce: base.Nonce, SourceChain: 2, Payload: base.Payload},
		{Type: base.Type, Version: base.Version, Nonce: base.Nonce, SourceChain: base.SourceChain, Payload: []byte{boolFalse}},
		{Type: base.Type, Version: base.Version, Nonce: base.Nonce, SourceChain: base.SourceChain, Payload: append([]byte{boolTrue}, 0)},
	}
	seen := map[common.Hash]int{base.Hash(): -1}
	for i, v := range variants {
		h := v.Hash()
		if prev, dup := seen[h]; dup {
			t.Fatalf("variant %d collides with %d", i, prev)
		}
		seen[h] = i
	}
}

func TestTokenTransferRoundTrip(t *testing.T) {
	want := sampleTransfer()
	msg := mustMessage(t, 3, 1, want)
	decoded, err := msg.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(TokenTransfer)
	if !ok {
		t.Fatalf("decoded %T, want TokenTransfer", decoded)
	}
	if !bytes.Equal(got.Sender, want.Sender) || got.Target != want.Target || got.Amount != want.Amount ||
		got.AssetID != want.AssetID || got.TargetChain != want.TargetChain {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestBlocklistRoundTrip(t *testing.T) {
	members := []common.Address{{0x01}, {0x02}}
	msg := mustMessage(t, 0, 1, Blocklist{Blocked: true, Members: members})
	decoded, err := DecodeBlocklist(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Blocked || len(decoded.Members) != 2 || decoded.Members[1] != members[1] {
		t.Fatalf("unexpected blocklist %+v", decoded)
	}
}

func TestBooleanFieldsEncodeTrueAsOne(t *testing.T) {
	freeze, err := EmergencyOp{Freeze: true}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(freeze, []byte{1}) {
		t.Fatalf("freeze encoded as %x, want 01", freeze)
	}
	block, err := Blocklist{Blocked: true, Members: []common.Address{{0x01}}}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if block[0] != 1 {
		t.Fatalf("blocked flag encoded as %d, want 1", block[0])
	}

	op, err := DecodeEmergencyOp([]byte{1})
	if err != nil || !op.Freeze {
		t.Fatalf("0x01 decoded as %+v (%v), want freeze", op, err)
	}
	op, err = DecodeEmergencyOp([]byte{0})
	if err != nil || op.Freeze {
		t.Fatalf("0x00 decoded as %+v (%v), want unfreeze", op, err)
	}
	list, err := DecodeBlocklist(append([]byte{0, 1}, make([]byte, 20)...))
	if err != nil || list.Blocked {
		t.Fatalf("0x00 flag decoded as %+v (%v), want unblock", list, err)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	transfer, err := sampleTransfer().Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	badTargetLen := append([]byte(nil), transfer...)
	badTargetLen[1+32+1] = 19

	cases := []struct {
		name string
		msg  Message
	}{
		{"truncated transfer", Message{Type: TypeTokenTransfer, Version: CurrentVersion, Payload: transfer[:len(transfer)-1]}},
		{"trailing transfer", Message{Type: TypeTokenTransfer, Version: CurrentVersion, Payload: append(append([]byte(nil), transfer...), 0)}},
		{"bad target length", Message{Type: TypeTokenTransfer, Version: CurrentVersion, Payload: badTargetLen}},
		{"blocklist bad op", Message{Type: TypeBlocklist, Version: CurrentVersion, Payload: append([]byte{7, 1}, make([]byte, 20)...)}},
		{"blocklist empty", Message{Type: TypeBlocklist, Version: CurrentVersion, Payload: []byte{0, 0}}},
		{"blocklist short", Message{Type: TypeBlocklist, Version: CurrentVersion, Payload: append([]byte{0, 2}, make([]byte, 20)...)}},
		{"emergency bad op", Message{Type: TypeEmergencyOp, Version: CurrentVersion, Payload: []byte{2}}},
		{"emergency empty", Message{Type: TypeEmergencyOp, Version: CurrentVersion}},
		{"limit short", Message{Type: TypeUpdateLimit, Version: CurrentVersion, Payload: []byte{1, 0, 0}}},
		{"unknown type", Message{Type: Type(42), Version: CurrentVersion, Payload: []byte{0}}},
		{"unknown version", Message{Type: TypeEmergencyOp, Version: 9, Payload: []byte{0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.msg.Decode(); !errors.Is(err, bridgeerrors.ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

type recordingHandler struct {
	seen []Type
}

func (h *recordingHandler) HandleTokenTransfer(TokenTransfer) error {
	h.seen = append(h.seen, TypeTokenTransfer)
	return nil
}

func (h *recordingHandler) HandleBlocklist(Blocklist) error {
	h.seen = append(h.seen, TypeBlocklist)
	return nil
}

func (h *recordingHandler) HandleEmergencyOp(EmergencyOp) error {
	h.seen = append(h.seen, TypeEmergencyOp)
	return nil
}

func (h *recordingHandler) HandleUpdateLimit(UpdateLimit) error {
	h.seen = append(h.seen, TypeUpdateLimit)
	return nil
}

func TestDispatchRoutesEveryKind(t *testing.T) {
	h := &recordingHandler{}
	payloads := []Payload{sampleTransfer(), Blocklist{Members: []common.Address{{0x01}}}, EmergencyOp{}, UpdateLimit{AssetID: 1, Limit: 10}}
	for _, p := range payloads {
		if err := Dispatch(p, h); err != nil {
			t.Fatalf("dispatch %s: %v", p.Type(), err)
		}
	}
	for i, typ := range Types() {
		if h.seen[i] != typ {
			t.Fatalf("dispatch order mismatch at %d: %s", i, h.seen[i])
		}
	}
}

func TestSignedInstructionJSON(t *testing.T) {
	msg := mustMessage(t, 1, 1, UpdateLimit{AssetID: 2, Limit: 1000})
	inst := SignedInstruction{Message: msg, Signatures: []hexutil.Bytes{{0x01, 0x02}}}
	raw, err := json.Marshal(inst)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded SignedInstruction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Message.Hash() != msg.Hash() {
		t.Fatalf("hash changed across JSON")
	}
	if len(decoded.RawSignatures()) != 1 || !bytes.Equal(decoded.RawSignatures()[0], []byte{0x01, 0x02}) {
		t.Fatalf("signatures not preserved")
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType(typ.String())
		if err != nil || got != typ {
			t.Fatalf("parse %s: %v %v", typ, got, err)
		}
	}
	if got, err := ParseType("2"); err != nil || got != TypeEmergencyOp {
		t.Fatalf("numeric parse failed: %v %v", got, err)
	}
	if _, err := ParseType("9"); err == nil {
		t.Fatalf("expected unknown numeric type to fail")
	}
}
