package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// WindowUsage captures the volume consumed in one fixed window.
type WindowUsage struct {
	WindowID uint64
	Used     uint64
}

// Quota defines the volume allowed per fixed window. A zero MaxPerWindow
// disables the cap.
type Quota struct {
	MaxPerWindow  uint64
	WindowSeconds uint32
}

// WindowID maps a unix timestamp onto the quota's window sequence.
func (q Quota) WindowID(unix int64) uint64 {
	if unix < 0 {
		return 0
	}
	if q.WindowSeconds == 0 {
		return uint64(unix)
	}
	return uint64(unix) / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether the additional volume fits within the
// configured quota. The returned WindowUsage reflects the updated counters
// when the quota is not exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowWindow uint64, prev WindowUsage, add uint64) (WindowUsage, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = WindowUsage{WindowID: nowWindow}
	}

	if add > 0 {
		if next.Used > math.MaxUint64-add {
			return prev, ErrQuotaCounterOverflow
		}
		next.Used += add
	}
	if q.MaxPerWindow > 0 && next.Used > q.MaxPerWindow {
		return prev, ErrQuotaExceeded
	}

	return next, nil
}
