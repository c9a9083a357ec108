package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"nhbbridge/crypto"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/storage"
)

var (
	MinWindowSeconds = uint32(60)
)

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch c.Storage {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage)
	}
	if len(c.Committee) == 0 {
		return fmt.Errorf("committee: at least one member required")
	}
	var total uint64
	for i, m := range c.Committee {
		if _, err := crypto.ParseAddress(m.Address); err != nil {
			return fmt.Errorf("committee[%d]: %w", i, err)
		}
		total += m.Stake
	}
	if total != committee.TotalStake {
		return fmt.Errorf("committee: stakes sum to %d, want %d", total, committee.TotalStake)
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets: at least one asset required")
	}
	seen := make(map[uint8]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("assets: duplicate id %d", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.NativeDecimals < a.ForeignDecimals {
			return fmt.Errorf("assets: %d native decimals %d below foreign decimals %d", a.ID, a.NativeDecimals, a.ForeignDecimals)
		}
		if custody := strings.TrimSpace(a.InitialCustody); custody != "" {
			if _, err := uint256.FromDecimal(custody); err != nil {
				return fmt.Errorf("assets: %d initial custody: %w", a.ID, err)
			}
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Limiter.WindowSeconds < MinWindowSeconds {
		return fmt.Errorf("limiter: window_seconds must be at least %d", MinWindowSeconds)
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	return nil
}
