package analyzer

import "time"

// Differential cache lifetimes. Known-bad users stay cached longest so their
// repeat submissions never re-spend budget; low-trust users get short TTLs so
// fresh behavior is re-examined sooner.
const (
	TTLKnownBad    = 7 * 24 * time.Hour
	TTLHighTrust   = 48 * time.Hour
	TTLMediumTrust = 24 * time.Hour
	TTLLowTrust    = 12 * time.Hour
)

// CacheTTL selects the cache lifetime from the trust score and the known-bad
// marker. Pure and deterministic.
func CacheTTL(trustScore float64, knownBad bool) time.Duration {
	switch {
	case knownBad:
		return TTLKnownBad
	case trustScore >= 60:
		return TTLHighTrust
	case trustScore >= 40:
		return TTLMediumTrust
	default:
		return TTLLowTrust
	}
}
