package embed

import (
	"math"
	"testing"

	"github.com/slidemanager/backend-daemon/internal/apperr"
)

func TestEstimateTokensNeverReturnsLessThanOne(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Fatalf("EstimateTokens(\"\") = %d, want 1", got)
	}
	if got := EstimateTokens("a"); got < 1 {
		t.Fatalf("EstimateTokens(\"a\") = %d, want >= 1", got)
	}
}

func TestEstimateTokensScalesWithLength(t *testing.T) {
	short := EstimateTokens("hello world")
	long := EstimateTokens("hello world, this is a much longer sentence with many more words in it")
	if long <= short {
		t.Fatalf("expected longer text to estimate more tokens: short=%d long=%d", short, long)
	}
}

func TestPackUnpackF32RoundTrips(t *testing.T) {
	vec := []float32{0, 1, -1, 3.14159, math.MaxFloat32, -math.MaxFloat32}
	blob := PackF32(vec)
	if len(blob) != len(vec)*4 {
		t.Fatalf("blob length = %d, want %d", len(blob), len(vec)*4)
	}
	got := UnpackF32(blob)
	if len(got) != len(vec) {
		t.Fatalf("unpacked length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], vec[i])
		}
	}
}

func TestZeroVectorIsAllZeroAtRequestedDimension(t *testing.T) {
	blob := ZeroVector(3072)
	vec := UnpackF32(blob)
	if len(vec) != 3072 {
		t.Fatalf("dim = %d, want 3072", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("index %d not zero: %v", i, v)
		}
	}
}

type fakeStatusErr struct{ status int }

func (e *fakeStatusErr) Error() string       { return "boom" }
func (e *fakeStatusErr) HTTPStatusCode() int { return e.status }

func TestCodeForMapsKnownStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   apperr.Code
	}{
		{429, apperr.OpenAIRateLimit},
		{401, apperr.OpenAIAuth},
		{403, apperr.OpenAIAuth},
		{500, apperr.Unknown},
	}
	for _, tc := range cases {
		got := codeFor(&fakeStatusErr{status: tc.status})
		if got != tc.want {
			t.Errorf("codeFor(status=%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestCodeForNonStatusErrorFallsBackToUnknown(t *testing.T) {
	if got := codeFor(apperr.New(apperr.TextExtractFail, "plain error")); got != apperr.Unknown {
		t.Fatalf("codeFor(plain error) = %q, want unknown", got)
	}
}
