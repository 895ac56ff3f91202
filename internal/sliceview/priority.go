package sliceview

import "math"

// PriorityTier is the coarse request bucket; within a tier, numeric
// scores order requests (larger is more urgent).
type PriorityTier int

const (
	TierVisible PriorityTier = iota
	TierPrefetch
)

func (t PriorityTier) String() string {
	switch t {
	case TierVisible:
		return "visible"
	case TierPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// VisibilityIgnored is the sentinel weight meaning "not visible at all":
// no sources are consulted and no requests are submitted.
func VisibilityIgnored() float64 {
	return math.Inf(-1)
}

const (
	// requestBasePriority ranks every slice-view chunk request below
	// other request classes sharing the scheduler.
	requestBasePriority = -1e12

	// scalePriorityStride separates consecutive scale indices by more
	// than any achievable distance term, so scale index is always the
	// primary sort key and distance only breaks ties within one scale.
	scalePriorityStride = -1e7
)

// TierForVisibility buckets a visibility weight: fully visible layers go
// to the visible tier, partially visible ones are prefetched.
func TierForVisibility(w float64) PriorityTier {
	if w >= 1 {
		return TierVisible
	}
	return TierPrefetch
}

// BasePriorityForVisibility maps a visibility weight to a base score.
// Monotone: more visible layers never score below less visible ones.
func BasePriorityForVisibility(w float64) float64 {
	if w >= 1 {
		return 0
	}
	return math.Max(w, -1e6) - 1
}
