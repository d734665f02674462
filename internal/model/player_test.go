package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlayer(t *testing.T) {
	p := NewPlayer("alice")
	assert.Equal(t, "alice", p.Name())
	assert.Equal(t, InitialRating, p.Rating())
}

func TestPostResult_EqualRatings(t *testing.T) {
	tests := []struct {
		name         string
		result       Result
		want1, want2 int
	}{
		{name: "player1 wins", result: P1Win, want1: 1516, want2: 1484},
		{name: "player2 wins", result: P2Win, want1: 1484, want2: 1516},
		{name: "draw", result: Draw, want1: 1500, want2: 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p1 := NewPlayer("a")
			p2 := NewPlayer("b")
			PostResult(p1, p2, tt.result)
			assert.Equal(t, tt.want1, p1.Rating())
			assert.Equal(t, tt.want2, p2.Rating())
		})
	}
}

func TestPostResult_PreservesTotal(t *testing.T) {
	p1 := NewPlayer("a")
	p2 := NewPlayer("b")

	// Walk the ratings apart and verify the pair total never drifts.
	results := []Result{P1Win, P1Win, P2Win, Draw, P1Win, P2Win, P1Win}
	for _, r := range results {
		before := p1.Rating() + p2.Rating()
		PostResult(p1, p2, r)
		assert.Equal(t, before, p1.Rating()+p2.Rating())
	}
}

func TestPostResult_UnderdogGainsMore(t *testing.T) {
	p1 := NewPlayer("a")
	p2 := NewPlayer("b")

	// Make p1 the favorite first.
	for range 5 {
		PostResult(p1, p2, P1Win)
	}
	favorite := p1.Rating()
	require.Greater(t, favorite, p2.Rating())

	// An upset should move more points than a favorite win did.
	underdogBefore := p2.Rating()
	PostResult(p1, p2, P2Win)
	upset := p2.Rating() - underdogBefore
	assert.Greater(t, upset, 16)
}

func TestPostResult_NoOps(t *testing.T) {
	p := NewPlayer("a")

	PostResult(nil, p, P1Win)
	PostResult(p, nil, P1Win)
	PostResult(p, p, P1Win)
	PostResult(p, NewPlayer("b"), Result(7))

	assert.Equal(t, InitialRating, p.Rating())
}

func TestPostResult_Concurrent(t *testing.T) {
	p1 := NewPlayer("a")
	p2 := NewPlayer("b")

	var wg sync.WaitGroup
	for i := range 50 {
		r := P1Win
		if i%2 == 1 {
			r = P2Win
		}
		wg.Go(func() {
			PostResult(p1, p2, r)
		})
	}
	wg.Wait()

	assert.Equal(t, 2*InitialRating, p1.Rating()+p2.Rating())
}

func TestPlayerRefCounting(t *testing.T) {
	p := NewPlayer("a")
	p.Ref("extra handle")
	p.Unref("extra handle")
	p.Unref("creation handle")

	assert.Panics(t, func() { p.Unref("one too many") })
}

func TestPlayerRegistry_InternsByName(t *testing.T) {
	pr := NewPlayerRegistry()

	p1 := pr.Register("alice")
	p2 := pr.Register("alice")
	assert.Same(t, p1, p2, "one Player object per name, ever")

	p3 := pr.Register("bob")
	assert.NotSame(t, p1, p3)
	assert.Equal(t, 2, pr.Count())
}

func TestPlayerRegistry_RatingSurvivesRelogin(t *testing.T) {
	pr := NewPlayerRegistry()

	p := pr.Register("alice")
	PostResult(p, pr.Register("bob"), P1Win)
	rated := p.Rating()
	p.Unref("session gone")

	again := pr.Register("alice")
	assert.Equal(t, rated, again.Rating())
}

func TestPlayerRegistry_ConcurrentRegister(t *testing.T) {
	pr := NewPlayerRegistry()

	var wg sync.WaitGroup
	players := make([]*Player, 32)
	for i := range players {
		wg.Go(func() {
			players[i] = pr.Register("same-name")
		})
	}
	wg.Wait()

	require.Equal(t, 1, pr.Count())
	for _, p := range players[1:] {
		assert.Same(t, players[0], p)
	}
}
