package gameserver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/udisondev/jeuxgo/internal/game"
)

// InvitationState is the lifecycle state of an invitation.
type InvitationState int

const (
	// InvOpen: freshly made, may be accepted, declined or revoked.
	InvOpen InvitationState = iota
	// InvAccepted: the target accepted and a game is in progress.
	InvAccepted
	// InvClosed: terminal.
	InvClosed
)

func (s InvitationState) String() string {
	switch s {
	case InvOpen:
		return "OPEN"
	case InvAccepted:
		return "ACCEPTED"
	case InvClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("InvitationState(%d)", int(s))
	}
}

var (
	ErrInvNotOpen     = errors.New("invitation is not open")
	ErrInvNotPlayable = errors.New("invitation has no game in progress")
)

// Invitation records an offer by one client (the source) to another (the
// target) to play a game.  It is shared between the two sessions: each holds
// it in its invite map under its own local id.  After acceptance it owns the
// game being played.  The reference count covers the two map entries plus
// any transient handles taken by peer operations.
type Invitation struct {
	source     *Client
	target     *Client
	sourceRole game.Role
	targetRole game.Role

	mu    sync.Mutex
	state InvitationState
	g     *game.Game
	refs  int
}

// NewInvitation creates an invitation in the OPEN state.  References to the
// source and target clients are retained; the returned invitation carries a
// reference count of one for the creating caller.
func NewInvitation(source, target *Client, sourceRole, targetRole game.Role) *Invitation {
	inv := &Invitation{
		source:     source,
		target:     target,
		sourceRole: sourceRole,
		targetRole: targetRole,
		state:      InvOpen,
	}
	source.Ref("source of new invitation")
	target.Ref("target of new invitation")
	inv.Ref("invitation created")
	return inv
}

// Source returns the client that made the invitation.
func (inv *Invitation) Source() *Client { return inv.source }

// Target returns the client the invitation was made to.
func (inv *Invitation) Target() *Client { return inv.target }

// SourceRole returns the role the source will play.
func (inv *Invitation) SourceRole() game.Role { return inv.sourceRole }

// TargetRole returns the role the target will play.
func (inv *Invitation) TargetRole() game.Role { return inv.targetRole }

// Game returns the game in progress, or nil if the invitation has not been
// accepted.
func (inv *Invitation) Game() *game.Game {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.g
}

// State returns the current lifecycle state.
func (inv *Invitation) State() InvitationState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Accept transitions the invitation from OPEN to ACCEPTED and creates the
// game.  Any other starting state is an error.
func (inv *Invitation) Accept() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != InvOpen {
		return fmt.Errorf("%w: state %s", ErrInvNotOpen, inv.state)
	}
	inv.state = InvAccepted
	inv.g = game.New()
	return nil
}

// Close transitions the invitation to CLOSED.  An OPEN invitation closes
// only with role NoRole (revoke/decline).  An ACCEPTED invitation closes by
// resigning the game as role, which must name a participant side.
func (inv *Invitation) Close(role game.Role) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch inv.state {
	case InvOpen:
		if role != game.NoRole {
			return fmt.Errorf("closing open invitation with role %s", role)
		}
	case InvAccepted:
		if role == game.NoRole {
			return fmt.Errorf("closing accepted invitation without a resigning role")
		}
		if err := inv.g.Resign(role); err != nil {
			return fmt.Errorf("resigning game: %w", err)
		}
	default:
		return fmt.Errorf("invitation already closed")
	}
	inv.state = InvClosed
	return nil
}

// Ref increases the reference count by one and returns the same invitation.
func (inv *Invitation) Ref(why string) *Invitation {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.refs++
	slog.Debug("invitation ref", "refs", inv.refs, "why", why)
	return inv
}

// Unref decreases the reference count by one.  When it reaches zero the
// invitation releases its game and its references to both clients.
func (inv *Invitation) Unref(why string) {
	inv.mu.Lock()
	inv.refs--
	refs := inv.refs
	slog.Debug("invitation unref", "refs", refs, "why", why)
	if refs < 0 {
		inv.mu.Unlock()
		panic("invitation reference count went negative")
	}
	g := inv.g
	inv.mu.Unlock()

	if refs == 0 {
		if g != nil {
			g.Unref("owning invitation destroyed")
		}
		inv.source.Unref("source of destroyed invitation")
		inv.target.Unref("target of destroyed invitation")
	}
}
