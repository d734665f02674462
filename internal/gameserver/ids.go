package gameserver

// idAllocator hands out dense per-session invitation ids: always the lowest
// currently-free non-negative integer.  slots[i] == i marks i free,
// slots[i] == -1 marks it taken.  The slot array doubles on demand and its
// capacity is never reclaimed.  Ids travel as one octet on the wire, so a
// session holds at most 256 outstanding invitations in practice.
type idAllocator struct {
	slots []int
	inUse int
}

const initialIDCapacity = 8

func newIDAllocator() *idAllocator {
	a := &idAllocator{slots: make([]int, initialIDCapacity)}
	for i := range a.slots {
		a.slots[i] = i
	}
	return a
}

// acquire returns the lowest free id and marks it taken.
func (a *idAllocator) acquire() int {
	if a.inUse >= len(a.slots) {
		old := len(a.slots)
		grown := make([]int, old*2)
		copy(grown, a.slots)
		for i := old; i < len(grown); i++ {
			grown[i] = i
		}
		a.slots = grown
	}

	for i, v := range a.slots {
		if v == -1 {
			continue
		}
		a.slots[i] = -1
		a.inUse++
		return i
	}
	// unreachable: the grow above guarantees a free slot
	panic("id allocator exhausted after grow")
}

// release marks id free again.  Releasing an id that was never handed out is
// a bug in the caller.
func (a *idAllocator) release(id int) {
	if id < 0 || id >= len(a.slots) || a.slots[id] != -1 {
		return
	}
	a.slots[id] = id
	a.inUse--
}
