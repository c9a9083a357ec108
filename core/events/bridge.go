package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// TypeBlocklistUpdated is emitted when committee members are blocklisted or restored.
	TypeBlocklistUpdated = "bridge.blocklist_updated"
	// TypeTokensClaimed is emitted when a token transfer settles on this chain.
	TypeTokensClaimed = "bridge.tokens_claimed"
	// TypeEmergencyOp is emitted when the bridge is frozen or unfrozen.
	TypeEmergencyOp = "bridge.emergency_op"
	// TypeLimitUpdated is emitted when an asset's window limit changes.
	TypeLimitUpdated = "bridge.limit_updated"
)

type BlocklistUpdated struct {
	Members []common.Address
	Blocked bool
}

func (BlocklistUpdated) EventType() string { return TypeBlocklistUpdated }

func (e BlocklistUpdated) Attributes() map[string]string {
	members := make([]string, len(e.Members))
	for i, m := range e.Members {
		members[i] = m.Hex()
	}
	return map[string]string{
		"members": strings.Join(members, ","),
		"blocked": strconv.FormatBool(e.Blocked),
	}
}

type TokensClaimed struct {
	SourceChain   uint8
	Nonce         uint64
	AssetID       uint8
	Recipient     common.Address
	ForeignAmount uint64
	NativeAmount  *uint256.Int
}

func (TokensClaimed) EventType() string { return TypeTokensClaimed }

func (e TokensClaimed) Attributes() map[string]string {
	native := "0"
	if e.NativeAmount != nil {
		native = e.NativeAmount.Dec()
	}
	return map[string]string{
		"sourceChain":   strconv.FormatUint(uint64(e.SourceChain), 10),
		"nonce":         strconv.FormatUint(e.Nonce, 10),
		"assetId":       strconv.FormatUint(uint64(e.AssetID), 10),
		"recipient":     e.Recipient.Hex(),
		"foreignAmount": strconv.FormatUint(e.ForeignAmount, 10),
		"nativeAmount":  native,
	}
}

type EmergencyOp struct {
	Frozen bool
}

func (EmergencyOp) EventType() string { return TypeEmergencyOp }

func (e EmergencyOp) Attributes() map[string]string {
	return map[string]string{"frozen": strconv.FormatBool(e.Frozen)}
}

type LimitUpdated struct {
	AssetID uint8
	Limit   uint64
}

func (LimitUpdated) EventType() string { return TypeLimitUpdated }

func (e LimitUpdated) Attributes() map[string]string {
	return map[string]string{
		"assetId": strconv.FormatUint(uint64(e.AssetID), 10),
		"limit":   strconv.FormatUint(e.Limit, 10),
	}
}
