// Package ratelimit implements the dual token-bucket limiter that guards
// outbound embedding-API calls, plus the retry/backoff helpers built
// around it.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DualTokenBucket enforces both a requests-per-minute and a
// tokens-per-minute ceiling. Acquire blocks (cooperatively, honoring
// ctx) until both costs can be deducted.
type DualTokenBucket struct {
	mu sync.Mutex

	reqRate     float64 // tokens/sec
	tokRate     float64
	reqCapacity float64
	tokCapacity float64

	reqTokens float64
	tokTokens float64
	lastTs    time.Time

	now func() time.Time
}

// NewDualTokenBucket builds a limiter from per-minute rates, starting
// full — a fresh daemon can burst up to one minute's budget immediately,
// matching the original's initial bucket state.
func NewDualTokenBucket(reqPerMin, tokPerMin float64) *DualTokenBucket {
	b := &DualTokenBucket{
		reqRate:     reqPerMin / 60.0,
		tokRate:     tokPerMin / 60.0,
		reqCapacity: reqPerMin,
		tokCapacity: tokPerMin,
		reqTokens:   reqPerMin,
		tokTokens:   tokPerMin,
		now:         time.Now,
	}
	b.lastTs = b.now()
	return b
}

func (b *DualTokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastTs).Seconds()
	if elapsed <= 0 {
		return
	}
	b.reqTokens = minF(b.reqCapacity, b.reqTokens+elapsed*b.reqRate)
	b.tokTokens = minF(b.tokCapacity, b.tokTokens+elapsed*b.tokRate)
	b.lastTs = now
}

// Acquire blocks until reqCost requests and tokCost tokens are available,
// then deducts them. It re-checks every wait interval (capped at 2s) so a
// cancelled context is noticed promptly.
func (b *DualTokenBucket) Acquire(ctx context.Context, reqCost, tokCost float64) error {
	for {
		var wait time.Duration
		acquired := func() bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.refillLocked()
			if b.reqTokens >= reqCost && b.tokTokens >= tokCost {
				b.reqTokens -= reqCost
				b.tokTokens -= tokCost
				return true
			}
			needReq := reqCost - b.reqTokens
			needTok := tokCost - b.tokTokens
			waitReq := 0.0
			if b.reqRate > 0 {
				waitReq = needReq / b.reqRate
			}
			waitTok := 0.0
			if b.tokRate > 0 {
				waitTok = needTok / b.tokRate
			}
			secs := maxF(waitReq, waitTok, 0.05)
			if secs > 2.0 {
				secs = 2.0
			}
			wait = time.Duration(secs * float64(time.Second))
			return false
		}()
		if acquired {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
