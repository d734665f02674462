package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/udisondev/jeuxgo/internal/model"
)

// ErrNotAccepting is returned by Register once the registry has been shut
// down.
var ErrNotAccepting = errors.New("client registry is not accepting clients")

// ClientRegistry tracks every connected session and enforces the client
// capacity: admission beyond maxClients blocks until a seat frees up.
//
// It also owns the locks that serialize the cross-session critical sections.
// Logins are serialized so the name-in-use check cannot race, logouts so
// that two sessions tearing down a shared invitation cannot interleave,
// invitation operations so that make/revoke/decline/accept/resign/move see
// a consistent pair of invite maps, and rating updates so that concurrent
// game endings post one at a time.
type ClientRegistry struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	empty     *sync.Cond
	clients   map[*Client]struct{}
	accepting bool

	loginMu    sync.Mutex
	logoutMu   sync.Mutex
	inviteOpMu sync.Mutex
	ratingMu   sync.Mutex
}

// NewClientRegistry creates an accepting registry admitting at most
// maxClients concurrent sessions.
func NewClientRegistry(maxClients int) *ClientRegistry {
	r := &ClientRegistry{
		sem:       semaphore.NewWeighted(int64(maxClients)),
		clients:   make(map[*Client]struct{}),
		accepting: true,
	}
	r.empty = sync.NewCond(&r.mu)
	return r
}

// Register admits conn as a new session.  When the registry is full the
// call blocks until another session leaves or ctx is done.  Registration
// fails once the registry has stopped accepting.
func (r *ClientRegistry) Register(ctx context.Context, conn net.Conn) (*Client, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free seat: %w", err)
	}

	r.mu.Lock()
	if !r.accepting {
		r.mu.Unlock()
		r.sem.Release(1)
		return nil, ErrNotAccepting
	}
	c := NewClient(r, conn)
	r.clients[c] = struct{}{}
	count := len(r.clients)
	r.mu.Unlock()

	slog.Info("client registered", "remote", conn.RemoteAddr(), "clients", count)
	return c, nil
}

// Unregister removes a session from the registry, logging it out first so
// its outstanding invitations are wound down, and frees its seat.  The
// registry's reference to the session is released.
func (r *ClientRegistry) Unregister(c *Client) {
	if err := c.Logout(); err != nil && !errors.Is(err, ErrNotLoggedIn) {
		slog.Warn("logout during unregister", "error", err)
	}

	r.mu.Lock()
	if _, ok := r.clients[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	count := len(r.clients)
	if count == 0 {
		r.empty.Broadcast()
	}
	r.mu.Unlock()

	r.sem.Release(1)
	slog.Info("client unregistered", "remote", c.Conn().RemoteAddr(), "clients", count)
	c.Unref("client created")
}

// Lookup returns the session logged in under name, with an added reference,
// or nil if no such session exists.
func (r *ClientRegistry) Lookup(name string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if p := c.Player(); p != nil && p.Name() == name {
			return c.Ref("registry lookup by name")
		}
	}
	return nil
}

// AllPlayers returns the players of every logged-in session, each with an
// added reference the caller must release.
func (r *ClientRegistry) AllPlayers() []*model.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	players := make([]*model.Player, 0, len(r.clients))
	for c := range r.clients {
		if p := c.Player(); p != nil {
			players = append(players, p.Ref("player listing"))
		}
	}
	return players
}

// Count returns the number of registered sessions.
func (r *ClientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ShutdownAll stops admitting new sessions and closes the read side of
// every connected session's socket.  The sessions' handler goroutines then
// run down naturally: each sees end of input, logs out, and unregisters.
func (r *ClientRegistry) ShutdownAll() {
	r.mu.Lock()
	r.accepting = false
	conns := make([]net.Conn, 0, len(r.clients))
	for c := range r.clients {
		conns = append(conns, c.Conn())
	}
	r.mu.Unlock()

	slog.Info("shutting down all clients", "clients", len(conns))
	for _, conn := range conns {
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.CloseRead(); err != nil {
				slog.Warn("closing read side", "remote", conn.RemoteAddr(), "error", err)
			}
			continue
		}
		if err := conn.Close(); err != nil {
			slog.Warn("closing connection", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// WaitForEmpty blocks until no sessions remain registered.
func (r *ClientRegistry) WaitForEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.clients) > 0 {
		r.empty.Wait()
	}
}
