package congestion

// maxFilter is a small fixed-size rotating array used to compute a windowed
// maximum over a bounded number of rounds/cycles; its slots are allocated
// once at construction and updates never allocate, the same rotating-index
// idiom a ring buffer uses to drop its oldest slot.
type maxFilter struct {
	slots []uint64
}

func newMaxFilter(length int) *maxFilter {
	return &maxFilter{slots: make([]uint64, length)}
}

// startPeriod zeros the slot for the new cycle so stale samples don't leak
// into the next window's maximum.
func (f *maxFilter) startPeriod(cycle uint64) {
	f.slots[cycle%uint64(len(f.slots))] = 0
}

// update conditionally writes v into the current cycle's slot when it
// exceeds what's already there, then returns the max across all slots.
func (f *maxFilter) update(v uint64, cycle uint64) uint64 {
	idx := cycle % uint64(len(f.slots))
	if v > f.slots[idx] {
		f.slots[idx] = v
	}
	return f.max()
}

func (f *maxFilter) max() uint64 {
	var m uint64
	for _, s := range f.slots {
		if s > m {
			m = s
		}
	}
	return m
}

// minFilter tracks a running minimum over a time window; unlike maxFilter
// it has no rotating slots because the min-RTT filter is refreshed by
// wall-clock expiry (see Controller.updateRTT), not by round index.
type minFilter struct {
	value uint64
	valid bool
}

func newMinFilter() *minFilter {
	return &minFilter{}
}

func (f *minFilter) update(v uint64) uint64 {
	if !f.valid || v < f.value {
		f.value = v
		f.valid = true
	}
	return f.value
}

func (f *minFilter) reset(v uint64) {
	f.value = v
	f.valid = true
}

func (f *minFilter) get() uint64 {
	if !f.valid {
		return ^uint64(0)
	}
	return f.value
}
