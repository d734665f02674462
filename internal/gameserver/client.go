package gameserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/jeuxgo/internal/game"
	"github.com/udisondev/jeuxgo/internal/model"
	"github.com/udisondev/jeuxgo/internal/protocol"
)

var (
	ErrAlreadyLoggedIn   = errors.New("client is already logged in")
	ErrNotLoggedIn       = errors.New("client is not logged in")
	ErrNameInUse         = errors.New("another client is logged in under this name")
	ErrUnknownInvitation = errors.New("no invitation with this id")
	ErrNotSource         = errors.New("client is not the source of this invitation")
	ErrNotTarget         = errors.New("client is not the target of this invitation")
	ErrNotParticipant    = errors.New("client is not a participant of this invitation")
)

// Client is the per-connection session state: the network endpoint, login
// status, and the set of outstanding invitations under their session-local
// ids.  The session mutex guards the mutable fields and serializes all
// writes to the socket, so bytes from different operations never interleave.
//
// Clients are managed by the client registry.  The reference count covers
// the registry's handle plus any handles held transiently by peer
// operations; cleanup runs when it reaches zero.
type Client struct {
	conn     net.Conn
	registry *ClientRegistry

	mu      sync.Mutex
	refs    int
	player  *model.Player // non-nil iff logged in
	invites map[int]*Invitation
	ids     *idAllocator
}

// NewClient creates a logged-out session for conn with a reference count of
// one.  Sessions are normally created through ClientRegistry.Register.
func NewClient(registry *ClientRegistry, conn net.Conn) *Client {
	c := &Client{
		conn:     conn,
		registry: registry,
		invites:  make(map[int]*Invitation),
		ids:      newIDAllocator(),
	}
	c.Ref("client created")
	return c
}

// Conn returns the underlying network connection.
func (c *Client) Conn() net.Conn { return c.conn }

// Player returns the player this session is logged in as, or nil.  The
// reference count of the returned player is not incremented.
func (c *Client) Player() *model.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// LoggedIn reports whether the session is bound to a player.
func (c *Client) LoggedIn() bool {
	return c.Player() != nil
}

// Ref increases the reference count by one and returns the same client.
func (c *Client) Ref(why string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
	slog.Debug("client ref", "remote", c.conn.RemoteAddr(), "refs", c.refs, "why", why)
	return c
}

// Unref decreases the reference count by one.  When it reaches zero the
// session is logged out (cascading invitation cleanup) if it still was.
func (c *Client) Unref(why string) {
	c.mu.Lock()
	c.refs--
	refs := c.refs
	slog.Debug("client unref", "remote", c.conn.RemoteAddr(), "refs", refs, "why", why)
	if refs < 0 {
		c.mu.Unlock()
		panic("client reference count went negative")
	}
	c.mu.Unlock()

	if refs == 0 && c.LoggedIn() {
		if err := c.Logout(); err != nil {
			slog.Warn("logout on final unref failed", "error", err)
		}
	}
}

// Send writes one packet to the client.  Exclusive access to the socket is
// held for the duration of the write; only this path may send to the client.
func (c *Client) Send(hdr protocol.Header, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WritePacket(c.conn, hdr, payload)
}

// SendAck sends an ACK with an optional payload.
func (c *Client) SendAck(payload []byte) error {
	return c.Send(protocol.Header{Type: protocol.Ack}, payload)
}

// SendNack sends a NACK.
func (c *Client) SendNack() error {
	return c.Send(protocol.Header{Type: protocol.Nack}, nil)
}

// Login binds this session to player.  It fails if the session is already
// logged in or if some other session is logged in under the same name.
// The check-and-set is serialized by the registry's login lock.
func (c *Client) Login(player *model.Player) error {
	c.registry.loginMu.Lock()
	defer c.registry.loginMu.Unlock()

	if c.LoggedIn() {
		return ErrAlreadyLoggedIn
	}
	if other := c.registry.Lookup(player.Name()); other != nil {
		other.Unref("duplicate login check")
		return fmt.Errorf("%w: %s", ErrNameInUse, player.Name())
	}

	c.mu.Lock()
	c.player = player.Ref("bound to logged-in session")
	c.mu.Unlock()
	slog.Info("client logged in", "player", player.Name(), "remote", c.conn.RemoteAddr())
	return nil
}

// Logout unbinds the session from its player.  Every outstanding invitation
// is wound down first: accepted games are resigned as this session's role,
// open invitations are revoked where this session is the source and declined
// where it is the target.  Logging out a logged-out session fails.
func (c *Client) Logout() error {
	c.registry.logoutMu.Lock()
	defer c.registry.logoutMu.Unlock()

	c.mu.Lock()
	if c.player == nil {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	name := c.player.Name()
	type entry struct {
		id  int
		inv *Invitation
	}
	outstanding := make([]entry, 0, len(c.invites))
	for id, inv := range c.invites {
		outstanding = append(outstanding, entry{id, inv.Ref("logout teardown snapshot")})
	}
	c.mu.Unlock()

	slog.Info("client logging out", "player", name)
	for _, e := range outstanding {
		var err error
		switch {
		case e.inv.State() == InvAccepted:
			err = c.ResignGame(e.id)
		case e.inv.Source() == c:
			err = c.RevokeInvitation(e.id)
		default:
			err = c.DeclineInvitation(e.id)
		}
		if err != nil {
			slog.Warn("invitation teardown during logout", "player", name, "id", e.id, "error", err)
		}
		e.inv.Unref("logout teardown snapshot")
	}

	c.mu.Lock()
	player := c.player
	c.player = nil
	c.mu.Unlock()
	player.Unref("released by logged-out session")
	return nil
}

// invitation returns the invitation registered under the session-local id,
// with a transient reference the caller must release.
func (c *Client) invitation(id int) (*Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.invites[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownInvitation, id)
	}
	return inv.Ref("operation in flight"), nil
}

// idFor returns this session's local id for inv.
func (c *Client) idFor(inv *Invitation) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, candidate := range c.invites {
		if candidate == inv {
			return id, true
		}
	}
	return 0, false
}

// addInvitation inserts inv into the invite map under the lowest free id,
// retaining a reference.
func (c *Client) addInvitation(inv *Invitation) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.ids.acquire()
	c.invites[id] = inv.Ref("added to client invite map")
	return id
}

// removeInvitation drops inv from the invite map, freeing its id for reuse
// and releasing the map's reference.
func (c *Client) removeInvitation(inv *Invitation) error {
	c.mu.Lock()
	found := -1
	for id, candidate := range c.invites {
		if candidate == inv {
			found = id
			break
		}
	}
	if found < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: not in invite map", ErrUnknownInvitation)
	}
	delete(c.invites, found)
	c.ids.release(found)
	c.mu.Unlock()

	inv.Unref("removed from client invite map")
	return nil
}

// InviteCount returns the number of outstanding invitations.
func (c *Client) InviteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.invites)
}

// MakeInvitation creates an OPEN invitation from this session to target,
// enters it into both invite maps, and notifies the target with an INVITED
// packet carrying the target's local id, the target's role, and the source
// player's name.  Returns the id assigned by the source.
func (c *Client) MakeInvitation(target *Client, sourceRole, targetRole game.Role) (int, error) {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	player := c.Player()
	if player == nil {
		return 0, ErrNotLoggedIn
	}

	inv := NewInvitation(c, target, sourceRole, targetRole)
	sourceID := c.addInvitation(inv)
	targetID := target.addInvitation(inv)

	hdr := protocol.Header{
		Type: protocol.Invited,
		ID:   uint8(targetID),
		Role: uint8(targetRole),
	}
	if err := target.Send(hdr, []byte(player.Name())); err != nil {
		slog.Warn("sending INVITED", "target", targetID, "error", err)
	}

	inv.Unref("creation handle transferred to invite maps")
	return sourceID, nil
}

// RevokeInvitation closes an OPEN invitation for which this session is the
// source, notifies the target with REVOKED under the target's id, and
// removes the invitation from both maps.
func (c *Client) RevokeInvitation(id int) error {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	inv, err := c.invitation(id)
	if err != nil {
		return err
	}
	defer inv.Unref("operation in flight")

	if inv.Source() != c {
		return ErrNotSource
	}
	if err := inv.Close(game.NoRole); err != nil {
		return fmt.Errorf("revoking invitation %d: %w", id, err)
	}

	target := inv.Target()
	if targetID, ok := target.idFor(inv); ok {
		hdr := protocol.Header{Type: protocol.Revoked, ID: uint8(targetID)}
		if err := target.Send(hdr, nil); err != nil {
			slog.Warn("sending REVOKED", "error", err)
		}
	}

	return removeFromBoth(inv, c, target)
}

// DeclineInvitation closes an OPEN invitation for which this session is the
// target, notifies the source with DECLINED under the source's id, and
// removes the invitation from both maps.
func (c *Client) DeclineInvitation(id int) error {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	inv, err := c.invitation(id)
	if err != nil {
		return err
	}
	defer inv.Unref("operation in flight")

	if inv.Target() != c {
		return ErrNotTarget
	}
	if err := inv.Close(game.NoRole); err != nil {
		return fmt.Errorf("declining invitation %d: %w", id, err)
	}

	source := inv.Source()
	if sourceID, ok := source.idFor(inv); ok {
		hdr := protocol.Header{Type: protocol.Declined, ID: uint8(sourceID)}
		if err := source.Send(hdr, nil); err != nil {
			slog.Warn("sending DECLINED", "error", err)
		}
	}

	return removeFromBoth(inv, c, source)
}

// AcceptInvitation transitions an OPEN invitation, for which this session is
// the target, to ACCEPTED and starts the game.  The source is sent ACCEPTED
// under its own id, with the initial board as payload iff the source plays
// first.  The returned string is the initial board iff this session plays
// first, to be used as the payload of the ACK back to the accepter; it is
// empty otherwise.
func (c *Client) AcceptInvitation(id int) (string, error) {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	inv, err := c.invitation(id)
	if err != nil {
		return "", err
	}
	defer inv.Unref("operation in flight")

	if inv.Target() != c {
		return "", ErrNotTarget
	}
	if err := inv.Accept(); err != nil {
		return "", fmt.Errorf("accepting invitation %d: %w", id, err)
	}

	board := inv.Game().Render()
	source := inv.Source()
	sourceID, _ := source.idFor(inv)
	hdr := protocol.Header{Type: protocol.Accepted, ID: uint8(sourceID)}

	var sourcePayload []byte
	ackPayload := ""
	if inv.SourceRole() == game.First {
		sourcePayload = []byte(board)
	} else {
		ackPayload = board
	}
	if err := source.Send(hdr, sourcePayload); err != nil {
		slog.Warn("sending ACCEPTED", "error", err)
	}
	return ackPayload, nil
}

// participant resolves this session's role and its opponent within inv.
func (c *Client) participant(inv *Invitation) (role game.Role, opponent *Client, err error) {
	switch c {
	case inv.Source():
		return inv.SourceRole(), inv.Target(), nil
	case inv.Target():
		return inv.TargetRole(), inv.Source(), nil
	default:
		return game.NoRole, nil, ErrNotParticipant
	}
}

// ResignGame resigns the game in an ACCEPTED invitation as this session's
// role.  The opponent is notified with RESIGNED under its own id, the
// rating update is posted with the opponent as winner, and the invitation
// is removed from both maps.
func (c *Client) ResignGame(id int) error {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	inv, err := c.invitation(id)
	if err != nil {
		return err
	}
	defer inv.Unref("operation in flight")

	role, opponent, err := c.participant(inv)
	if err != nil {
		return err
	}
	if err := inv.Close(role); err != nil {
		return fmt.Errorf("resigning invitation %d: %w", id, err)
	}

	if oppID, ok := opponent.idFor(inv); ok {
		hdr := protocol.Header{Type: protocol.Resigned, ID: uint8(oppID)}
		if err := opponent.Send(hdr, nil); err != nil {
			slog.Warn("sending RESIGNED", "error", err)
		}
	}

	c.postResult(opponent, role, role.Other())
	return removeFromBoth(inv, c, opponent)
}

// MakeMove applies a move, described by moveStr, to the game in an ACCEPTED
// invitation.  The opponent receives MOVED with the rendered board.  If the
// move terminates the game, both participants receive ENDED under their own
// ids with the winner in the role field, the rating update is posted, and
// the invitation is removed from both maps.
func (c *Client) MakeMove(id int, moveStr string) error {
	c.registry.inviteOpMu.Lock()
	defer c.registry.inviteOpMu.Unlock()

	inv, err := c.invitation(id)
	if err != nil {
		return err
	}
	defer inv.Unref("operation in flight")

	g := inv.Game()
	if g == nil {
		return fmt.Errorf("invitation %d: %w", id, ErrInvNotPlayable)
	}
	role, opponent, err := c.participant(inv)
	if err != nil {
		return err
	}

	mv, err := g.ParseMove(role, moveStr)
	if err != nil {
		return err
	}
	if err := g.Apply(mv); err != nil {
		return err
	}

	board := g.Render()
	oppID, _ := opponent.idFor(inv)
	moved := protocol.Header{Type: protocol.Moved, ID: uint8(oppID)}
	if err := opponent.Send(moved, []byte(board)); err != nil {
		slog.Warn("sending MOVED", "error", err)
	}

	if !g.Over() {
		return nil
	}

	winner := g.Winner()
	slog.Info("game over", "winner", winner.String())

	ended := protocol.Header{Type: protocol.Ended, ID: uint8(oppID), Role: uint8(winner)}
	if err := opponent.Send(ended, nil); err != nil {
		slog.Warn("sending ENDED to opponent", "error", err)
	}
	ended.ID = uint8(id)
	if err := c.Send(ended, nil); err != nil {
		slog.Warn("sending ENDED to mover", "error", err)
	}

	c.postResult(opponent, role, winner)
	return removeFromBoth(inv, c, opponent)
}

// postResult maps this session's role and the winning role onto the
// first-player/second-player convention of model.PostResult and applies the
// Elo update.  Serialized by the registry's rating lock.
func (c *Client) postResult(opponent *Client, myRole, winner game.Role) {
	c.registry.ratingMu.Lock()
	defer c.registry.ratingMu.Unlock()

	var p1, p2 *model.Player
	if myRole == game.First {
		p1, p2 = c.Player(), opponent.Player()
	} else {
		p1, p2 = opponent.Player(), c.Player()
	}

	var result model.Result
	switch winner {
	case game.First:
		result = model.P1Win
	case game.Second:
		result = model.P2Win
	default:
		result = model.Draw
	}
	model.PostResult(p1, p2, result)
}

// removeFromBoth drops a closed invitation from both participants' maps.
func removeFromBoth(inv *Invitation, a, b *Client) error {
	if err := a.removeInvitation(inv); err != nil {
		return fmt.Errorf("removing invitation from own map: %w", err)
	}
	if err := b.removeInvitation(inv); err != nil {
		return fmt.Errorf("removing invitation from peer map: %w", err)
	}
	return nil
}
