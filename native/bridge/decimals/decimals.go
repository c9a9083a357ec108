// Package decimals converts amounts between the native chain's precision and
// the coarser precision used on the foreign chain.
package decimals

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	bridgeerrors "nhbbridge/core/errors"
)

// Asset describes a bridged token and the precision it uses on each side.
type Asset struct {
	ID              uint8
	Symbol          string
	NativeDecimals  uint8
	ForeignDecimals uint8
}

var ten = uint256.NewInt(10)

// pow10 returns 10^exp and whether it overflowed 256 bits.
func pow10(exp uint8) (*uint256.Int, bool) {
	out := uint256.NewInt(1)
	for i := uint8(0); i < exp; i++ {
		var overflow bool
		out, overflow = new(uint256.Int).MulOverflow(out, ten)
		if overflow {
			return nil, true
		}
	}
	return out, false
}

// Narrow converts a native amount to foreign precision, truncating toward
// zero. The truncated remainder is returned as dust in native units.
func Narrow(amount *uint256.Int, nativeDecimals, foreignDecimals uint8) (uint64, *uint256.Int, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if nativeDecimals < foreignDecimals {
		return 0, nil, fmt.Errorf("%w: native %d < foreign %d", bridgeerrors.ErrPrecisionInverted, nativeDecimals, foreignDecimals)
	}
	quotient := new(uint256.Int).Set(amount)
	dust := new(uint256.Int)
	if nativeDecimals > foreignDecimals {
		divisor, overflow := pow10(nativeDecimals - foreignDecimals)
		if overflow {
			// The divisor exceeds every representable amount.
			return 0, new(uint256.Int).Set(amount), nil
		}
		quotient.DivMod(amount, divisor, dust)
	}
	if !quotient.IsUint64() {
		return 0, nil, fmt.Errorf("%w: %s does not fit in 64 bits", bridgeerrors.ErrAmountOverflow, quotient.Dec())
	}
	return quotient.Uint64(), dust, nil
}

// Widen converts a foreign amount to native precision. It is not the inverse
// of Narrow: digits truncated on the way out come back as zeros.
func Widen(amount uint64, nativeDecimals, foreignDecimals uint8) (*uint256.Int, error) {
	if nativeDecimals < foreignDecimals {
		return nil, fmt.Errorf("%w: native %d < foreign %d", bridgeerrors.ErrPrecisionInverted, nativeDecimals, foreignDecimals)
	}
	out := uint256.NewInt(amount)
	if nativeDecimals == foreignDecimals || amount == 0 {
		return out, nil
	}
	factor, overflow := pow10(nativeDecimals - foreignDecimals)
	if overflow {
		return nil, fmt.Errorf("%w: scale 10^%d", bridgeerrors.ErrAmountOverflow, nativeDecimals-foreignDecimals)
	}
	if _, overflow := out.MulOverflow(out, factor); overflow {
		return nil, fmt.Errorf("%w: %d x 10^%d", bridgeerrors.ErrAmountOverflow, amount, nativeDecimals-foreignDecimals)
	}
	return out, nil
}

// Table is the fixed set of bridged assets.
type Table struct {
	assets map[uint8]Asset
}

// NewTable indexes assets by ID. Duplicate IDs and assets whose native
// precision is below their foreign precision are rejected.
func NewTable(assets []Asset) (*Table, error) {
	t := &Table{assets: make(map[uint8]Asset, len(assets))}
	for _, a := range assets {
		if _, dup := t.assets[a.ID]; dup {
			return nil, fmt.Errorf("decimals: duplicate asset id %d", a.ID)
		}
		if a.NativeDecimals < a.ForeignDecimals {
			return nil, fmt.Errorf("%w: asset %d", bridgeerrors.ErrPrecisionInverted, a.ID)
		}
		a.Symbol = strings.TrimSpace(a.Symbol)
		t.assets[a.ID] = a
	}
	return t, nil
}

// Asset looks up an asset by ID.
func (t *Table) Asset(id uint8) (Asset, error) {
	if t != nil {
		if a, ok := t.assets[id]; ok {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %d", bridgeerrors.ErrUnsupportedAsset, id)
}

// Assets lists the table ordered by ID.
func (t *Table) Assets() []Asset {
	if t == nil {
		return nil
	}
	out := make([]Asset, 0, len(t.assets))
	for _, a := range t.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ToForeign narrows amount, given in nativeDecimals, to the foreign precision
// of asset id.
func (t *Table) ToForeign(id uint8, amount *uint256.Int, nativeDecimals uint8) (uint64, error) {
	a, err := t.Asset(id)
	if err != nil {
		return 0, err
	}
	out, _, err := Narrow(amount, nativeDecimals, a.ForeignDecimals)
	return out, err
}

// FromForeign widens a foreign amount of asset id to nativeDecimals.
func (t *Table) FromForeign(id uint8, amount uint64, nativeDecimals uint8) (*uint256.Int, error) {
	a, err := t.Asset(id)
	if err != nil {
		return nil, err
	}
	return Widen(amount, nativeDecimals, a.ForeignDecimals)
}

// Quote narrows amount using the asset's configured native precision and
// reports the dust left in custody.
func (t *Table) Quote(id uint8, amount *uint256.Int) (uint64, *uint256.Int, error) {
	a, err := t.Asset(id)
	if err != nil {
		return 0, nil, err
	}
	return Narrow(amount, a.NativeDecimals, a.ForeignDecimals)
}

// ToNative widens a foreign amount using the asset's configured native
// precision.
func (t *Table) ToNative(id uint8, amount uint64) (*uint256.Int, error) {
	a, err := t.Asset(id)
	if err != nil {
		return nil, err
	}
	return Widen(amount, a.NativeDecimals, a.ForeignDecimals)
}
