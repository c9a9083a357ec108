// Package vault is the reference custody ledger the bridge releases funds from.
package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientFunds is returned when custody cannot cover a transfer.
var ErrInsufficientFunds = errors.New("vault: insufficient funds")

type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type balanceRecord struct {
	Amount []byte
}

func custodyKey(assetID uint8) []byte {
	return []byte(fmt.Sprintf("vault/custody/%d", assetID))
}

func balanceKey(assetID uint8, owner common.Address) []byte {
	return []byte(fmt.Sprintf("vault/balance/%d/%x", assetID, owner.Bytes()))
}

// Vault holds per-asset custody and credits recipients out of it.
type Vault struct {
	state vaultState
}

func New(state vaultState) *Vault {
	return &Vault{state: state}
}

func (v *Vault) load(key []byte) (*uint256.Int, error) {
	if v == nil || v.state == nil {
		return nil, errors.New("vault not initialised")
	}
	var rec balanceRecord
	if _, err := v.state.KVGet(key, &rec); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(rec.Amount), nil
}

func (v *Vault) store(key []byte, amount *uint256.Int) error {
	return v.state.KVPut(key, balanceRecord{Amount: amount.Bytes()})
}

// Custody returns the amount of assetID held for release.
func (v *Vault) Custody(assetID uint8) (*uint256.Int, error) {
	return v.load(custodyKey(assetID))
}

// BalanceOf returns what owner has received of assetID.
func (v *Vault) BalanceOf(assetID uint8, owner common.Address) (*uint256.Int, error) {
	return v.load(balanceKey(assetID, owner))
}

// Fund adds amount to the custody of assetID.
func (v *Vault) Fund(assetID uint8, amount *uint256.Int) error {
	custody, err := v.Custody(assetID)
	if err != nil {
		return err
	}
	if amount == nil {
		return nil
	}
	if _, overflow := custody.AddOverflow(custody, amount); overflow {
		return fmt.Errorf("vault: custody overflow for asset %d", assetID)
	}
	return v.store(custodyKey(assetID), custody)
}

// Transfer moves amount of assetID from custody to the recipient.
func (v *Vault) Transfer(assetID uint8, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	custody, err := v.Custody(assetID)
	if err != nil {
		return err
	}
	if custody.Lt(amount) {
		return fmt.Errorf("%w: asset %d custody %s < %s", ErrInsufficientFunds, assetID, custody.Dec(), amount.Dec())
	}
	balance, err := v.BalanceOf(assetID, to)
	if err != nil {
		return err
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return fmt.Errorf("vault: balance overflow for %s", to.Hex())
	}
	custody.Sub(custody, amount)
	if err := v.store(custodyKey(assetID), custody); err != nil {
		return err
	}
	return v.store(balanceKey(assetID, to), balance)
}
