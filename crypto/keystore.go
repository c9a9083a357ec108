package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Signer keystores are Ethereum v3 JSON files. The address they record is the
// member's committee identity, so the file doubles as the record operators
// copy into the committee configuration.
const (
	keystoreDirPerm  = 0o700
	keystoreFilePerm = 0o600
)

var errEmptyKeystorePath = errors.New("crypto: empty keystore path")

// SaveToKeystore encrypts key under passphrase and writes it to path,
// replacing any existing file atomically. It returns the committee identity
// the key signs as.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) (common.Address, error) {
	if key == nil || key.PrivateKey == nil {
		return common.Address{}, errors.New("crypto: nil private key")
	}
	if path == "" {
		return common.Address{}, errEmptyKeystorePath
	}
	identity := key.PubKey().Address()
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    identity,
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: encrypt signer key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, keystoreDirPerm); err != nil {
		return common.Address{}, err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return common.Address{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return common.Address{}, err
	}
	if err := tmp.Chmod(keystoreFilePerm); err != nil {
		tmp.Close()
		return common.Address{}, err
	}
	if err := tmp.Close(); err != nil {
		return common.Address{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return common.Address{}, err
	}
	return identity, nil
}

// LoadFromKeystore decrypts the signer key stored at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKeystorePath
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt %s: %w", filepath.Base(path), err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
