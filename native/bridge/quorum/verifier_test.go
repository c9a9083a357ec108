package quorum

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/state"
	"nhbbridge/crypto"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/message"
	"nhbbridge/storage"
)

type staticPause bool

func (p staticPause) IsPaused() (bool, error) { return bool(p), nil }

type fixture struct {
	keys     []*crypto.PrivateKey
	registry *committee.Registry
}

// newFixture builds the five-member committee with stakes
// [1000, 1000, 1000, 2002, 4998].
func newFixture(t *testing.T) *fixture {
	t.Helper()
	stakes := []uint64{1000, 1000, 1000, 2002, 4998}
	f := &fixture{registry: committee.NewRegistry(state.NewManager(storage.NewMemDB()), nil)}
	members := make([]committee.Member, len(stakes))
	for i, stake := range stakes {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		f.keys = append(f.keys, key)
		members[i] = committee.Member{Address: key.PubKey().Address(), Stake: stake}
	}
	require.NoError(t, f.registry.Initialize(members))
	return f
}

func (f *fixture) sign(t *testing.T, msg message.Message, signers ...int) [][]byte {
	t.Helper()
	digest := msg.Hash()
	sigs := make([][]byte, 0, len(signers))
	for _, idx := range signers {
		sig, err := crypto.Sign(digest.Bytes(), f.keys[idx])
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}
	return sigs
}

func transferMessage(t *testing.T) message.Message {
	t.Helper()
	msg, err := message.New(0, 1, message.TokenTransfer{
		Sender:      []byte{0x01},
		TargetChain: 2,
		Target:      common.Address{0xaa},
		AssetID:     1,
		Amount:      100,
	})
	require.NoError(t, err)
	return msg
}

func TestVerifyQuorumOfLargeHolders(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, staticPause(false), DefaultPolicy())
	msg := transferMessage(t)

	tally, err := v.Verify(f.sign(t, msg, 3, 4), msg, message.TypeTokenTransfer)
	require.NoError(t, err)
	// 2002 + 4998 clears the 6667 transfer threshold.
	require.Equal(t, uint64(7000), tally.Approved)
	require.Equal(t, uint64(6667), tally.Required)
	require.Len(t, tally.Signers, 2)
}

func TestVerifyRejectsMinorityCoalition(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	tally, err := v.Verify(f.sign(t, msg, 0, 1, 2), msg, message.TypeTokenTransfer)
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientStake)
	require.Equal(t, uint64(3000), tally.Approved)
}

func TestVerifyOrderIndependent(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	forward, err := v.Verify(f.sign(t, msg, 0, 3, 4), msg, message.TypeTokenTransfer)
	require.NoError(t, err)
	reverse, err := v.Verify(f.sign(t, msg, 4, 3, 0), msg, message.TypeTokenTransfer)
	require.NoError(t, err)
	require.Equal(t, forward.Approved, reverse.Approved)
}

func TestVerifyRejectsDuplicateSigner(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	sigs := f.sign(t, msg, 3, 4, 4)
	_, err := v.Verify(sigs, msg, message.TypeTokenTransfer)
	require.ErrorIs(t, err, bridgeerrors.ErrDuplicateSigner)

	// The same key with the alternate recovery id encoding is still a duplicate.
	alt := append([]byte(nil), sigs[1]...)
	alt[crypto.SignatureLength-1] -= 27
	_, err = v.Verify([][]byte{sigs[0], sigs[1], alt}, msg, message.TypeTokenTransfer)
	require.ErrorIs(t, err, bridgeerrors.ErrDuplicateSigner)
}

func TestVerifyRejectsUnknownSigner(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	outsider, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	foreign, err := crypto.Sign(msg.Hash().Bytes(), outsider)
	require.NoError(t, err)

	sigs := append(f.sign(t, msg, 3, 4), foreign)
	_, err = v.Verify(sigs, msg, message.TypeTokenTransfer)
	require.ErrorIs(t, err, bridgeerrors.ErrUnknownSigner)
}

func TestVerifyToleratesMalformedSignatures(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	badV := make([]byte, crypto.SignatureLength)
	badV[crypto.SignatureLength-1] = 31
	sigs := append([][]byte{{0x01, 0x02}, badV}, f.sign(t, msg, 3, 4)...)

	tally, err := v.Verify(sigs, msg, message.TypeTokenTransfer)
	require.NoError(t, err)
	require.Equal(t, 2, tally.Malformed)
	// 2002 + 4998 clears the 6667 transfer threshold.
	require.Equal(t, uint64(7000), tally.Approved)
}

func TestVerifyExcludesBlocklistedStake(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)
	sigs := f.sign(t, msg, 3, 4)

	_, err := v.Verify(sigs, msg, message.TypeTokenTransfer)
	require.NoError(t, err)

	require.NoError(t, f.registry.SetBlocklist([]common.Address{f.keys[3].PubKey().Address()}, true))
	tally, err := v.Verify(sigs, msg, message.TypeTokenTransfer)
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientStake)
	require.Equal(t, uint64(4998), tally.Approved)
	require.Len(t, tally.Blocklisted, 1)

	stakes, err := f.registry.Stakes()
	require.NoError(t, err)
	require.Equal(t, committee.TotalStake, stakes.Total)
}

func TestVerifyTypeMismatch(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.registry, nil, DefaultPolicy())
	msg := transferMessage(t)

	_, err := v.Verify(f.sign(t, msg, 3, 4), msg, message.TypeBlocklist)
	require.True(t, errors.Is(err, bridgeerrors.ErrTypeMismatch), "got %v", err)
}

func TestEmergencyThresholdDependsOnPauseState(t *testing.T) {
	f := newFixture(t)
	msg, err := message.New(0, 1, message.EmergencyOp{Freeze: true})
	require.NoError(t, err)
	sigs := f.sign(t, msg, 0)

	_, err = NewVerifier(f.registry, staticPause(false), DefaultPolicy()).Verify(sigs, msg, message.TypeEmergencyOp)
	require.NoError(t, err)

	_, err = NewVerifier(f.registry, staticPause(true), DefaultPolicy()).Verify(sigs, msg, message.TypeEmergencyOp)
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientStake)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Blocklist = 10_001
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.EmergencyPause = 0
	require.Error(t, p.Validate())
}
