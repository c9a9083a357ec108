// Package committee persists bridge committee membership, stake weights and
// blocklist flags.
package committee

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/events"
)

// TotalStake is the fixed sum of all member stake weights, in basis points.
const TotalStake uint64 = 10_000

const (
	memberPrefix = "bridge/committee/member/"
	indexKey     = "bridge/committee/index"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Member is a committee identity together with its voting weight.
type Member struct {
	Address     common.Address
	Stake       uint64
	Blocklisted bool
}

type memberRecord struct {
	Stake       uint64
	Blocklisted bool
}

func memberKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", memberPrefix, addr.Bytes()))
}

// Registry reads and writes committee records through a KV view. Bind it to a
// staged transaction to make mutations part of a larger atomic unit.
type Registry struct {
	state   registryState
	emitter events.Emitter
}

// NewRegistry constructs a registry over state. A nil emitter discards
// blocklist notifications.
func NewRegistry(state registryState, emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Registry{state: state, emitter: emitter}
}

func (r *Registry) withState() (registryState, error) {
	if r == nil || r.state == nil {
		return nil, errors.New("committee: registry not configured")
	}
	return r.state, nil
}

// ValidateMembers checks a prospective committee without touching state:
// identities must be distinct, stakes positive and summing to TotalStake.
func ValidateMembers(members []Member) error {
	if len(members) == 0 {
		return fmt.Errorf("%w: empty committee", bridgeerrors.ErrStakeMismatch)
	}
	seen := make(map[common.Address]struct{}, len(members))
	var total uint64
	for _, m := range members {
		if _, dup := seen[m.Address]; dup {
			return fmt.Errorf("%w: %s", bridgeerrors.ErrDuplicateMember, m.Address.Hex())
		}
		seen[m.Address] = struct{}{}
		if m.Stake == 0 {
			return fmt.Errorf("%w: member %s has zero stake", bridgeerrors.ErrStakeMismatch, m.Address.Hex())
		}
		if m.Stake > TotalStake {
			return fmt.Errorf("%w: member %s stake %d exceeds %d", bridgeerrors.ErrStakeMismatch, m.Address.Hex(), m.Stake, TotalStake)
		}
		total += m.Stake
	}
	if total != TotalStake {
		return fmt.Errorf("%w: got %d, want %d", bridgeerrors.ErrStakeMismatch, total, TotalStake)
	}
	return nil
}

// Initialize stores the committee. It fails if any committee is already
// stored; blocklist flags supplied by the caller are ignored.
func (r *Registry) Initialize(members []Member) error {
	state, err := r.withState()
	if err != nil {
		return err
	}
	if err := ValidateMembers(members); err != nil {
		return err
	}
	var existing [][]byte
	if err := state.KVGetList([]byte(indexKey), &existing); err != nil {
		return fmt.Errorf("committee: load index: %w", err)
	}
	if len(existing) > 0 {
		return bridgeerrors.ErrAlreadyInitialized
	}
	for _, m := range members {
		if err := state.KVPut(memberKey(m.Address), memberRecord{Stake: m.Stake}); err != nil {
			return fmt.Errorf("committee: persist member: %w", err)
		}
		if err := state.KVAppend([]byte(indexKey), m.Address.Bytes()); err != nil {
			return fmt.Errorf("committee: update index: %w", err)
		}
	}
	return nil
}

func (r *Registry) record(addr common.Address) (memberRecord, bool, error) {
	state, err := r.withState()
	if err != nil {
		return memberRecord{}, false, err
	}
	var rec memberRecord
	ok, err := state.KVGet(memberKey(addr), &rec)
	if err != nil {
		return memberRecord{}, false, fmt.Errorf("committee: load member: %w", err)
	}
	return rec, ok, nil
}

// Member returns the stored record for addr.
func (r *Registry) Member(addr common.Address) (Member, bool, error) {
	rec, ok, err := r.record(addr)
	if err != nil || !ok {
		return Member{}, ok, err
	}
	return Member{Address: addr, Stake: rec.Stake, Blocklisted: rec.Blocklisted}, true, nil
}

// StakeOf returns the stake weight of addr, zero for non-members. Blocklisted
// members keep their stake.
func (r *Registry) StakeOf(addr common.Address) (uint64, error) {
	rec, _, err := r.record(addr)
	return rec.Stake, err
}

// IsBlocklisted reports the blocklist flag of addr. Non-members are never
// blocklisted.
func (r *Registry) IsBlocklisted(addr common.Address) (bool, error) {
	rec, _, err := r.record(addr)
	return rec.Blocklisted, err
}

// SetBlocklist sets the blocklist flag of every listed member and emits a
// single BlocklistUpdated event. Authorisation is the caller's concern. The
// whole call fails without writing if any identity is not a member.
func (r *Registry) SetBlocklist(addrs []common.Address, blocked bool) error {
	state, err := r.withState()
	if err != nil {
		return err
	}
	records := make([]memberRecord, len(addrs))
	for i, addr := range addrs {
		rec, ok, err := r.record(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", bridgeerrors.ErrUnknownMember, addr.Hex())
		}
		records[i] = rec
	}
	for i, addr := range addrs {
		records[i].Blocklisted = blocked
		if err := state.KVPut(memberKey(addr), records[i]); err != nil {
			return fmt.Errorf("committee: persist member: %w", err)
		}
	}
	r.emitter.Emit(events.BlocklistUpdated{
		Members: append([]common.Address(nil), addrs...),
		Blocked: blocked,
	})
	return nil
}

// Members returns every member ordered by address.
func (r *Registry) Members() ([]Member, error) {
	state, err := r.withState()
	if err != nil {
		return nil, err
	}
	var index [][]byte
	if err := state.KVGetList([]byte(indexKey), &index); err != nil {
		return nil, fmt.Errorf("committee: load index: %w", err)
	}
	sort.Slice(index, func(i, j int) bool { return bytes.Compare(index[i], index[j]) < 0 })
	members := make([]Member, 0, len(index))
	for _, raw := range index {
		m, ok, err := r.Member(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		if ok {
			members = append(members, m)
		}
	}
	return members, nil
}

// Initialized reports whether a committee has been stored.
func (r *Registry) Initialized() (bool, error) {
	state, err := r.withState()
	if err != nil {
		return false, err
	}
	var index [][]byte
	if err := state.KVGetList([]byte(indexKey), &index); err != nil {
		return false, fmt.Errorf("committee: load index: %w", err)
	}
	return len(index) > 0, nil
}

// Stakes summarises the committee weight split.
type Stakes struct {
	Total       uint64
	Blocklisted uint64
}

// Eligible is the stake still able to approve instructions.
func (s Stakes) Eligible() uint64 { return s.Total - s.Blocklisted }

// Stakes totals member stake and the share held by blocklisted members.
func (r *Registry) Stakes() (Stakes, error) {
	members, err := r.Members()
	if err != nil {
		return Stakes{}, err
	}
	var out Stakes
	for _, m := range members {
		out.Total += m.Stake
		if m.Blocklisted {
			out.Blocklisted += m.Stake
		}
	}
	return out, nil
}
