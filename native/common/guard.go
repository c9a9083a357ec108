package common

import (
	"errors"
	"fmt"
	"strings"

	bridgeerrors "nhbbridge/core/errors"
)

// ModuleBridge is the pause switch consulted by the bridge engine.
const ModuleBridge = "bridge"

type PauseView interface {
	IsPaused(module string) (bool, error)
}

// Guard fails with ErrBridgePaused when module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	paused, err := p.IsPaused(module)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: module %s", bridgeerrors.ErrBridgePaused, module)
	}
	return nil
}

type pauseState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type pauseRecord struct {
	Paused bool
}

func pauseKey(module string) []byte {
	return []byte("pauses/" + strings.ToLower(strings.TrimSpace(module)))
}

// PauseStore persists per-module pause switches.
type PauseStore struct {
	state pauseState
}

func NewPauseStore(state pauseState) *PauseStore {
	return &PauseStore{state: state}
}

func (s *PauseStore) IsPaused(module string) (bool, error) {
	if s == nil || s.state == nil {
		return false, errors.New("pause store not initialised")
	}
	var rec pauseRecord
	if _, err := s.state.KVGet(pauseKey(module), &rec); err != nil {
		return false, fmt.Errorf("pauses: load %s: %w", module, err)
	}
	return rec.Paused, nil
}

func (s *PauseStore) SetPaused(module string, paused bool) error {
	if s == nil || s.state == nil {
		return errors.New("pause store not initialised")
	}
	if strings.TrimSpace(module) == "" {
		return errors.New("pauses: module required")
	}
	if err := s.state.KVPut(pauseKey(module), pauseRecord{Paused: paused}); err != nil {
		return fmt.Errorf("pauses: persist %s: %w", module, err)
	}
	return nil
}

// Module binds the store to a single switch.
func (s *PauseStore) Module(name string) ModulePause {
	return ModulePause{store: s, module: name}
}

// ModulePause is one module's pause switch.
type ModulePause struct {
	store  *PauseStore
	module string
}

func (m ModulePause) IsPaused() (bool, error) { return m.store.IsPaused(m.module) }

func (m ModulePause) SetPaused(paused bool) error { return m.store.SetPaused(m.module, paused) }
