package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signer", "member.keystore")
	addr, err := SaveToKeystore(path, key, "correct horse")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if addr != key.PubKey().Address() {
		t.Fatalf("keystore address %s does not match key %s", addr.Hex(), key.PubKey().Address().Hex())
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != addr {
		t.Fatalf("loaded key differs")
	}
	if _, err := LoadFromKeystore(path, "wrong"); !errors.Is(err, keystore.ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for a wrong passphrase, got %v", err)
	}
}

func TestKeystoreOverwriteLeavesOneFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "member.keystore")
	first, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := SaveToKeystore(path, first, "pass"); err != nil {
		t.Fatalf("save first: %v", err)
	}
	addr, err := SaveToKeystore(path, second, "pass")
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the keystore file, found %d entries", len(entries))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("keystore permissions %o, want 600", perm)
	}
	loaded, err := LoadFromKeystore(path, "pass")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != addr {
		t.Fatalf("keystore still holds the first key")
	}
}

func TestSaveToKeystoreRejectsBadInput(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := SaveToKeystore("", key, "pass"); err == nil {
		t.Fatalf("expected empty path to fail")
	}
	if _, err := SaveToKeystore(filepath.Join(t.TempDir(), "k"), nil, "pass"); err == nil {
		t.Fatalf("expected nil key to fail")
	}
	if _, err := LoadFromKeystore("", "pass"); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
