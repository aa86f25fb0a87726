package srarq

// Sequence numbers live in [0, space) and wrap at space; window slots
// live in [0, size) and wrap at size. The two moduli are never mixed.

func seqAdd(sn, n, space int) int {
	return ((sn+n)%space + space) % space
}

// seqDistance is how many increments it takes to get from `from` to `to`.
func seqDistance(from, to, space int) int {
	return ((to-from)%space + space) % space
}

// inWindow reports whether sn is one of the size sequence numbers starting at start.
func inWindow(start, sn, size, space int) bool {
	if sn < 0 || sn >= space {
		return false
	}
	return seqDistance(start, sn, space) < size
}

func slotIndex(sn, size int) int {
	return sn % size
}
