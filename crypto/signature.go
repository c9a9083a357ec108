package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r || s || v recoverable signature.
const SignatureLength = crypto.SignatureLength

// recoveryOffset converts between go-ethereum's 0/1 recovery id and the 27/28
// convention carried on the wire.
const recoveryOffset = 27

var (
	ErrSignatureLength   = errors.New("crypto: signature must be 65 bytes")
	ErrSignatureRecovery = errors.New("crypto: invalid recovery id")
)

// Sign produces a 65-byte signature over digest with the recovery id
// normalised to 27/28.
func Sign(digest []byte, key *PrivateKey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += recoveryOffset
	return sig, nil
}

// Recover returns the address that produced sig over digest. Both the 27/28
// and the raw 0/1 recovery id forms are accepted.
func Recover(digest []byte, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	normalised := make([]byte, SignatureLength)
	copy(normalised, sig)
	v := normalised[crypto.RecoveryIDOffset]
	if v >= recoveryOffset {
		v -= recoveryOffset
	}
	if v > 1 {
		return common.Address{}, ErrSignatureRecovery
	}
	normalised[crypto.RecoveryIDOffset] = v
	pub, err := crypto.SigToPub(digest, normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover pubkey: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
