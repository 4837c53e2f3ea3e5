package mapsource

// CompareRevisions orders two snapshot revisions.  A revision is an array of
// counters with the most significant first (for example [epoch, revision]),
// where missing trailing elements count as zero.  The result is 0 if a == b,
// -1 if a < b and +1 if a > b.  A nil revision is the same as an empty one.
func CompareRevisions(a, b []uint64) int {
	numEls := len(a)
	if len(b) > numEls {
		numEls = len(b)
	}

	for elIdx := 0; elIdx < numEls; elIdx++ {
		var elA, elB uint64
		if elIdx < len(a) {
			elA = a[elIdx]
		}
		if elIdx < len(b) {
			elB = b[elIdx]
		}

		if elA > elB {
			return 1
		} else if elA < elB {
			return -1
		}
	}

	return 0
}
