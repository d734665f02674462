package gameserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDAllocator_LowestFree(t *testing.T) {
	a := newIDAllocator()

	assert.Equal(t, 0, a.acquire())
	assert.Equal(t, 1, a.acquire())
	assert.Equal(t, 2, a.acquire())

	a.release(1)
	assert.Equal(t, 1, a.acquire())
	assert.Equal(t, 3, a.acquire())
}

func TestIDAllocator_ReleaseMakesIDReusable(t *testing.T) {
	a := newIDAllocator()

	id := a.acquire()
	a.release(id)
	assert.Equal(t, id, a.acquire())
}

func TestIDAllocator_GrowsPastInitialCapacity(t *testing.T) {
	a := newIDAllocator()

	for want := range initialIDCapacity * 3 {
		assert.Equal(t, want, a.acquire())
	}

	a.release(5)
	a.release(17)
	assert.Equal(t, 5, a.acquire())
	assert.Equal(t, 17, a.acquire())
	assert.Equal(t, initialIDCapacity*3, a.acquire())
}

func TestIDAllocator_BogusReleaseIgnored(t *testing.T) {
	a := newIDAllocator()

	a.release(-1)
	a.release(99)
	a.release(0) // never handed out

	assert.Equal(t, 0, a.acquire())
}
