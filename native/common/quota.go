package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueExceeded    = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// Usage captures the counters of one sender within a quota window.
type Usage struct {
	Requests  uint32
	ValueGwei uint64
	Window    uint64
}

// Quota limits how many transactions and how much attached value a single
// sender may submit per window. Zero limits are unlimited.
type Quota struct {
	MaxRequests   uint32
	MaxValueGwei  uint64
	WindowSeconds uint32
}

// Window returns the window id containing the unix timestamp.
func (q Quota) Window(unix int64) uint64 {
	if unix <= 0 {
		return 0
	}
	size := int64(q.WindowSeconds)
	if size == 0 {
		size = 60
	}
	return uint64(unix / size)
}

// CheckQuota verifies whether the additional request and value fit within the
// quota. The returned Usage reflects the updated counters when the quota is
// not exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, window uint64, prev Usage, addReq uint32, addGwei uint64) (Usage, error) {
	next := prev
	if prev.Window != window {
		next = Usage{Window: window}
	}

	if addReq > 0 {
		if next.Requests > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.Requests += addReq
	}
	if q.MaxRequests > 0 && next.Requests > q.MaxRequests {
		return prev, ErrQuotaRequestsExceeded
	}

	if addGwei > 0 {
		if next.ValueGwei > math.MaxUint64-addGwei {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueGwei += addGwei
	}
	if q.MaxValueGwei > 0 && next.ValueGwei > q.MaxValueGwei {
		return prev, ErrQuotaValueExceeded
	}

	return next, nil
}
