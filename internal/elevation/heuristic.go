package elevation

// LikelyFallback guesses whether an altitude value came from a regional
// estimate rather than live data: estimator branches tend to emit round
// numbers. Advisory only; known false positives (plenty of real terrain
// sits at round altitudes) and false negatives.
func LikelyFallback(altitude int) bool {
	if altitude%50 == 0 {
		return true
	}
	if altitude >= 100 && altitude <= 300 && altitude%10 == 0 {
		return true
	}
	return false
}
