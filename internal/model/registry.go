package model

import (
	"log/slog"
	"sync"
)

// PlayerRegistry interns players by name: the first registration of a name
// creates the Player, every later one returns the same object.  Entries
// persist for as long as the server runs; there is no eviction.
type PlayerRegistry struct {
	mu      sync.Mutex
	players map[string]*Player
}

// NewPlayerRegistry creates an empty player registry.
func NewPlayerRegistry() *PlayerRegistry {
	return &PlayerRegistry{players: make(map[string]*Player)}
}

// Register returns the player registered under name, creating it with the
// initial rating if it does not exist yet.  The returned handle carries an
// added reference which the caller must release.
func (pr *PlayerRegistry) Register(name string) *Player {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if p, ok := pr.players[name]; ok {
		return p.Ref("registry lookup of existing player")
	}

	p := NewPlayer(name)
	pr.players[name] = p
	slog.Debug("player registered", "player", name, "total", len(pr.players))
	return p.Ref("returning newly registered player")
}

// Count returns the number of distinct players ever registered.
func (pr *PlayerRegistry) Count() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.players)
}
