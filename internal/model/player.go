// Package model holds the durable domain objects of the server: players and
// the process-wide player registry.
package model

import (
	"log/slog"
	"math"
	"sync"
)

const (
	// InitialRating is assigned to every newly created player.
	InitialRating = 1500
	// eloK is the K-factor of the rating update.
	eloK = 32
)

// Result of a game between two players, from player1's perspective.
type Result int

const (
	Draw Result = iota
	P1Win
	P2Win
)

// Player is a user of the system.  The name never changes; the rating is
// updated after every game the player participates in.  One Player object
// exists per distinct name for the lifetime of the process; the reference
// count tracks handles held outside the registry.
type Player struct {
	name string

	mu     sync.Mutex
	rating int
	refs   int
}

// NewPlayer creates a player with the initial rating and a reference count
// of one.
func NewPlayer(name string) *Player {
	p := &Player{name: name, rating: InitialRating}
	p.Ref("player created")
	return p
}

// Name returns the player's username.
func (p *Player) Name() string {
	return p.name
}

// Rating returns the player's current rating.
func (p *Player) Rating() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rating
}

// Ref increases the reference count by one and returns the same player.
func (p *Player) Ref(why string) *Player {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
	slog.Debug("player ref", "player", p.name, "refs", p.refs, "why", why)
	return p
}

// Unref decreases the reference count by one.
func (p *Player) Unref(why string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	slog.Debug("player unref", "player", p.name, "refs", p.refs, "why", why)
	if p.refs < 0 {
		panic("player reference count went negative")
	}
}

// PostResult applies the Elo rating update for a finished game between
// player1 and player2.  Scores are 1/0/0.5 for a win/loss/draw; with
// E1 = 1/(1+10^((R2-R1)/400)) the new ratings are
//
//	R1' = round(R1 + 32*(S1-E1))
//	R2' = R1 + R2 - R1'
//
// so the total rating of the pair is preserved.  A nil player or both
// arguments naming the same player make the call a no-op.  The two players
// are locked in name order, which is deterministic because names are unique.
func PostResult(player1, player2 *Player, result Result) {
	if player1 == nil || player2 == nil || player1 == player2 {
		return
	}
	if result < Draw || result > P2Win {
		return
	}

	first, second := player1, player2
	if second.name < first.name {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	var s1 float64
	switch result {
	case Draw:
		s1 = 0.5
	case P1Win:
		s1 = 1.0
	case P2Win:
		s1 = 0.0
	}

	r1, r2 := player1.rating, player2.rating
	e1 := 1.0 / (1.0 + math.Pow(10, float64(r2-r1)/400.0))
	newR1 := int(math.Round(float64(r1) + eloK*(s1-e1)))

	player1.rating = newR1
	player2.rating = r1 + r2 - newR1

	slog.Debug("rating update",
		"player1", player1.name, "rating1", player1.rating,
		"player2", player2.name, "rating2", player2.rating,
		"result", int(result))
}
