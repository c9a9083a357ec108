package common

import (
	"errors"
	"testing"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/state"
	"nhbbridge/storage"
)

func TestPauseStoreGuard(t *testing.T) {
	store := NewPauseStore(state.NewManager(storage.NewMemDB()))
	if err := Guard(store, ModuleBridge); err != nil {
		t.Fatalf("fresh module should be active: %v", err)
	}
	bridge := store.Module(ModuleBridge)
	if err := bridge.SetPaused(true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := Guard(store, ModuleBridge); !errors.Is(err, bridgeerrors.ErrBridgePaused) {
		t.Fatalf("expected ErrBridgePaused, got %v", err)
	}
	if paused, _ := store.IsPaused("other"); paused {
		t.Fatalf("pause leaked to another module")
	}
	if paused, _ := store.IsPaused(" BRIDGE "); !paused {
		t.Fatalf("module names should be normalised")
	}
	if err := bridge.SetPaused(false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if paused, _ := bridge.IsPaused(); paused {
		t.Fatalf("expected module active after unpause")
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, ModuleBridge); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
