package scan

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pupscan/pupscan-backend/internal/domain"
)

// Digest computes the content fingerprint used for scan deduplication.
// Identical bytes always hash identically.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// The low-quality prediction methods: a digest hit on one of these never
// short-circuits re-identification unless its confidence clears the floor.
// A past low-quality answer is re-earned, not silently reused.
var lowQualityMethods = map[string]bool{
	domain.MethodModel:  true,
	domain.MethodMemory: true,
	"":                  true,
}

const reuseConfidenceFloor = 85.0

// Reusable reports whether a prior record's verdict may be copied forward
// on an exact digest match.
func Reusable(rec *domain.ScanRecord) bool {
	if rec == nil {
		return false
	}
	if !lowQualityMethods[rec.PredictionMethod] {
		return true
	}
	return rec.Confidence >= reuseConfidenceFloor
}
