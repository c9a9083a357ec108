// Package limiter caps the aggregate volume settled per asset in fixed time
// windows.
package limiter

import (
	"errors"
	"fmt"
	"time"

	nativecommon "nhbbridge/native/common"
)

// ErrLimitExceeded is returned when a transfer would push an asset past its
// window limit.
var ErrLimitExceeded = nativecommon.ErrQuotaExceeded

type usageRecord struct {
	WindowID uint64
	Used     uint64
}

type limitRecord struct {
	Limit uint64
}

type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Limiter tracks per-asset volume, in foreign units, for the current window.
type Limiter struct {
	state         StoreState
	windowSeconds uint32
	nowFn         func() time.Time
}

// New constructs a limiter. A nil clock uses time.Now.
func New(state StoreState, windowSeconds uint32, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{state: state, windowSeconds: windowSeconds, nowFn: now}
}

func (l *Limiter) withState() (StoreState, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("limiter not initialised")
	}
	return l.state, nil
}

func (l *Limiter) quota(assetID uint8) (nativecommon.Quota, error) {
	limit, err := l.Limit(assetID)
	if err != nil {
		return nativecommon.Quota{}, err
	}
	return nativecommon.Quota{MaxPerWindow: limit, WindowSeconds: l.windowSeconds}, nil
}

// Limit returns the window cap for assetID; zero means unlimited.
func (l *Limiter) Limit(assetID uint8) (uint64, error) {
	state, err := l.withState()
	if err != nil {
		return 0, err
	}
	var stored limitRecord
	if _, err := state.KVGet(limitKey(assetID), &stored); err != nil {
		return 0, fmt.Errorf("limiter: load limit: %w", err)
	}
	return stored.Limit, nil
}

// SetLimit replaces the window cap for assetID. Volume already used in the
// current window still counts against the new cap.
func (l *Limiter) SetLimit(assetID uint8, limit uint64) error {
	state, err := l.withState()
	if err != nil {
		return err
	}
	if err := state.KVPut(limitKey(assetID), limitRecord{Limit: limit}); err != nil {
		return fmt.Errorf("limiter: persist limit: %w", err)
	}
	return nil
}

// Usage returns the volume consumed in the current window.
func (l *Limiter) Usage(assetID uint8) (nativecommon.WindowUsage, error) {
	state, err := l.withState()
	if err != nil {
		return nativecommon.WindowUsage{}, err
	}
	q := nativecommon.Quota{WindowSeconds: l.windowSeconds}
	window := q.WindowID(l.nowFn().Unix())
	var stored usageRecord
	ok, err := state.KVGet(usageKey(assetID), &stored)
	if err != nil {
		return nativecommon.WindowUsage{}, fmt.Errorf("limiter: load usage: %w", err)
	}
	if !ok || stored.WindowID != window {
		return nativecommon.WindowUsage{WindowID: window}, nil
	}
	return nativecommon.WindowUsage{WindowID: stored.WindowID, Used: stored.Used}, nil
}

// UpdateVolume records amount against assetID's current window, failing
// with ErrLimitExceeded when the cap would be crossed.
func (l *Limiter) UpdateVolume(assetID uint8, amount uint64) error {
	state, err := l.withState()
	if err != nil {
		return err
	}
	q, err := l.quota(assetID)
	if err != nil {
		return err
	}
	prev, err := l.Usage(assetID)
	if err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(q, prev.WindowID, prev, amount)
	if err != nil {
		if errors.Is(err, nativecommon.ErrQuotaExceeded) {
			return fmt.Errorf("%w: asset %d used %d + %d over limit %d", ErrLimitExceeded, assetID, prev.Used, amount, q.MaxPerWindow)
		}
		return err
	}
	if err := state.KVPut(usageKey(assetID), usageRecord{WindowID: next.WindowID, Used: next.Used}); err != nil {
		return fmt.Errorf("limiter: persist usage: %w", err)
	}
	return nil
}
