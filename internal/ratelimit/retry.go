package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// jitterRand backs the jitter term of JitterSleep/BackoffDelay behind a
// mutex-guarded, reseedable source rather than the unseeded package-level
// math/rand functions, so a test can pin the seed and assert an exact
// delay instead of just bounds.
var (
	jitterMu   sync.Mutex
	jitterRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// SeedJitter reseeds the shared jitter source. Tests call this to make
// JitterSleep/BackoffDelay deterministic.
func SeedJitter(seed int64) {
	jitterMu.Lock()
	jitterRand = rand.New(rand.NewSource(seed))
	jitterMu.Unlock()
}

func jitterFloat64() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRand.Float64()
}

// HTTPStatusCoder is implemented by API client errors that carry the
// upstream HTTP status code.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	const j = 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + jitterFloat64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// BackoffDelay computes an exponentially growing, jittered retry delay:
// min(cap, base*2^attempt) * (0.5 + rand()*0.5).
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 20 * time.Second
	}
	grown := float64(base) * pow2(attempt)
	d := grown
	if d > float64(cap) {
		d = float64(cap)
	}
	factor := 0.5 + jitterFloat64()*0.5
	return time.Duration(d * factor)
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
