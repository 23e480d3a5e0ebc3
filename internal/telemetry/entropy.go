// entropy.go — Shannon entropy over route choice, for a route-diversity
// index shown in the operator socket's status reply.
//
// A day where every patron takes the same route (H=0) is a sign the
// other three routes are starved — possibly because the cyclist-route
// weighting in config is miscalibrated. A day with near-uniform route
// usage (H close to log2(4)) confirms the four routes are exercised
// evenly. This is reporting only, the same role entropy played for the
// teacher's anomaly engine, just over a different distribution.
//
//	H = -Σ p(routeᵢ) * log₂(p(routeᵢ))
package telemetry

import "math"

// RouteCounts holds how many rides took each of the four routes.
// Index 0 is unused; routes are numbered 1..4 per spec.md §3.
type RouteCounts [5]uint64

// ShannonEntropy computes H over the route distribution, in bits.
// Returns 0 if no rides were recorded, or if only one route was used.
func ShannonEntropy(counts RouteCounts) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0.0
	}

	fTotal := float64(total)
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / fTotal
		h -= p * math.Log2(p)
	}
	return h
}

// MaxEntropy returns log2(k), the entropy of a uniform distribution over
// k route choices.
func MaxEntropy(k int) float64 {
	if k <= 1 {
		return 0.0
	}
	return math.Log2(float64(k))
}

// NormalisedEntropy returns ShannonEntropy(counts) / MaxEntropy(numRoutes),
// a diversity index in [0.0, 1.0]. Returns 0 if numRoutes <= 1.
func NormalisedEntropy(counts RouteCounts, numRoutes int) float64 {
	hMax := MaxEntropy(numRoutes)
	if hMax == 0.0 {
		return 0.0
	}
	return ShannonEntropy(counts) / hMax
}
