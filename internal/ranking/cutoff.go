package ranking

// Cutoff returns how many of the similarity-ordered scores to keep. The
// list is cut at the first position whose score drops to less than decay
// times its predecessor, or below the absolute floor. The best match
// always survives, even below the floor: an empty result set tells the
// caller nothing, a weak best match at least shows what the corpus has.
func Cutoff(scores []float32, decay, floor float64) int {
	if len(scores) == 0 {
		return 0
	}
	for i := 1; i < len(scores); i++ {
		if float64(scores[i]) < float64(scores[i-1])*decay || float64(scores[i]) < floor {
			return i
		}
	}
	return len(scores)
}
