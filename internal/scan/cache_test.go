package scan

import (
	"testing"

	"github.com/pupscan/pupscan-backend/internal/domain"
)

func TestDigestDeterministic(t *testing.T) {
	a := Digest([]byte("same bytes"))
	b := Digest([]byte("same bytes"))
	if a != b {
		t.Fatalf("identical bytes hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
	if Digest([]byte("other bytes")) == a {
		t.Fatal("different bytes produced the same digest")
	}
}

func TestReusable(t *testing.T) {
	cases := []struct {
		name       string
		method     string
		confidence float64
		want       bool
	}{
		{"high quality method", domain.MethodMLGeminiConfirmed, 10, true},
		{"override method", domain.MethodGeminiOverride, 50, true},
		{"admin corrected", domain.MethodAdminCorrected, 100, true},
		{"exact match chain", domain.MethodExactMatch, 70, true},
		{"legacy model below floor", domain.MethodModel, 84.9, false},
		{"legacy model at floor", domain.MethodModel, 85, true},
		{"legacy memory below floor", domain.MethodMemory, 60, false},
		{"legacy memory above floor", domain.MethodMemory, 92, true},
		{"empty method below floor", "", 80, false},
		{"empty method above floor", "", 90, true},
	}
	for _, tc := range cases {
		rec := &domain.ScanRecord{PredictionMethod: tc.method, Confidence: tc.confidence}
		if got := Reusable(rec); got != tc.want {
			t.Errorf("%s: Reusable = %v, want %v", tc.name, got, tc.want)
		}
	}

	if Reusable(nil) {
		t.Error("nil record reported reusable")
	}
}
