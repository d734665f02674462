package gameserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/jeuxgo/internal/game"
	"github.com/udisondev/jeuxgo/internal/model"
	"github.com/udisondev/jeuxgo/internal/protocol"
)

// packet is one server-to-client packet captured by a test pump.
type packet struct {
	hdr     protocol.Header
	payload []byte
}

// newTestClient registers a session over an in-memory pipe and pumps
// everything the server sends it into the returned channel.  The channel is
// closed when the session's connection closes.
func newTestClient(t *testing.T, r *ClientRegistry) (*Client, <-chan packet) {
	t.Helper()

	remote, local := net.Pipe()
	t.Cleanup(func() {
		_ = remote.Close()
		_ = local.Close()
	})

	c, err := r.Register(context.Background(), local)
	require.NoError(t, err)
	t.Cleanup(func() { r.Unregister(c) })

	ch := make(chan packet, 16)
	go func() {
		defer close(ch)
		for {
			hdr, payload, err := protocol.ReadPacket(remote)
			if err != nil {
				return
			}
			ch <- packet{hdr: hdr, payload: payload}
		}
	}()
	return c, ch
}

// recv waits for the next packet of the wanted type, failing the test on
// timeout or a different type.
func recv(t *testing.T, ch <-chan packet, want protocol.PacketType) packet {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok, "connection closed while waiting for %s", want)
		require.Equal(t, want, p.hdr.Type, "unexpected packet type")
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
		return packet{}
	}
}

// loginAs binds a session to a freshly registered player.
func loginAs(t *testing.T, players *model.PlayerRegistry, c *Client, name string) {
	t.Helper()
	p := players.Register(name)
	require.NoError(t, c.Login(p))
	p.Unref("test login done")
}

func TestClientLogin(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	c1, _ := newTestClient(t, r)
	c2, _ := newTestClient(t, r)

	alice := players.Register("alice")
	defer alice.Unref("test handle")

	require.NoError(t, c1.Login(alice))
	assert.True(t, c1.LoggedIn())
	assert.Equal(t, "alice", c1.Player().Name())

	// A logged-in session cannot log in again.
	assert.ErrorIs(t, c1.Login(alice), ErrAlreadyLoggedIn)

	// The name is taken while c1 holds it.
	assert.ErrorIs(t, c2.Login(alice), ErrNameInUse)

	// Another name works fine.
	loginAs(t, players, c2, "bob")
	assert.True(t, c2.LoggedIn())
}

func TestClientLogout(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	c, _ := newTestClient(t, r)
	assert.ErrorIs(t, c.Logout(), ErrNotLoggedIn)

	loginAs(t, players, c, "alice")
	require.NoError(t, c.Logout())
	assert.False(t, c.LoggedIn())

	// The name is free again.
	c2, _ := newTestClient(t, r)
	loginAs(t, players, c2, "alice")
}

func TestMakeInvitation(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, _ := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	id, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	invited := recv(t, chB, protocol.Invited)
	assert.Equal(t, uint8(0), invited.hdr.ID)
	assert.Equal(t, uint8(game.First), invited.hdr.Role)
	assert.Equal(t, "alice", string(invited.payload))

	assert.Equal(t, 1, a.InviteCount())
	assert.Equal(t, 1, b.InviteCount())
}

func TestInvitationIDsAreLowestFree(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, _ := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	id0, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	id1, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)
	recv(t, chB, protocol.Invited)
	recv(t, chB, protocol.Invited)

	// Freeing the lower id makes it the next one handed out.
	require.NoError(t, a.RevokeInvitation(id0))
	recv(t, chB, protocol.Revoked)

	id, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestRevokeInvitation(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, _ := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	id, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	recv(t, chB, protocol.Invited)

	// Only the source may revoke.
	assert.ErrorIs(t, b.RevokeInvitation(0), ErrNotSource)

	require.NoError(t, a.RevokeInvitation(id))
	revoked := recv(t, chB, protocol.Revoked)
	assert.Equal(t, uint8(0), revoked.hdr.ID)

	assert.Equal(t, 0, a.InviteCount())
	assert.Equal(t, 0, b.InviteCount())
	assert.ErrorIs(t, a.RevokeInvitation(id), ErrUnknownInvitation)
}

func TestDeclineInvitation(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	id, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	invited := recv(t, chB, protocol.Invited)

	// Only the target may decline.
	assert.ErrorIs(t, a.DeclineInvitation(id), ErrNotTarget)

	require.NoError(t, b.DeclineInvitation(int(invited.hdr.ID)))
	declined := recv(t, chA, protocol.Declined)
	assert.Equal(t, uint8(id), declined.hdr.ID)

	assert.Equal(t, 0, a.InviteCount())
	assert.Equal(t, 0, b.InviteCount())
}

func TestAcceptInvitation_SourceMovesFirst(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	id, err := a.MakeInvitation(b, game.First, game.Second)
	require.NoError(t, err)
	invited := recv(t, chB, protocol.Invited)

	board, err := b.AcceptInvitation(int(invited.hdr.ID))
	require.NoError(t, err)

	// The side to move gets the board: here the source.
	assert.Empty(t, board)
	accepted := recv(t, chA, protocol.Accepted)
	assert.Equal(t, uint8(id), accepted.hdr.ID)
	assert.Equal(t, game.New().Render(), string(accepted.payload))
}

func TestAcceptInvitation_TargetMovesFirst(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	_, err := a.MakeInvitation(b, game.Second, game.First)
	require.NoError(t, err)
	invited := recv(t, chB, protocol.Invited)

	board, err := b.AcceptInvitation(int(invited.hdr.ID))
	require.NoError(t, err)

	// Now the accepter is the side to move and gets the board instead.
	assert.Equal(t, game.New().Render(), board)
	accepted := recv(t, chA, protocol.Accepted)
	assert.Empty(t, accepted.payload)

	// Accepting twice fails.
	_, err = b.AcceptInvitation(int(invited.hdr.ID))
	assert.ErrorIs(t, err, ErrInvNotOpen)
}

func TestMakeMove_FullGame(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	aID, err := a.MakeInvitation(b, game.First, game.Second)
	require.NoError(t, err)
	invited := recv(t, chB, protocol.Invited)
	bID := int(invited.hdr.ID)
	_, err = b.AcceptInvitation(bID)
	require.NoError(t, err)
	recv(t, chA, protocol.Accepted)

	// Moving out of turn is rejected.
	assert.Error(t, b.MakeMove(bID, "5"))

	// Alice takes the top row while Bob fills the middle.
	moves := []struct {
		who  *Client
		id   int
		move string
	}{
		{a, aID, "1"}, {b, bID, "5"},
		{a, aID, "2"}, {b, bID, "6"},
		{a, aID, "3"},
	}
	for _, m := range moves[:4] {
		require.NoError(t, m.who.MakeMove(m.id, m.move))
	}
	moved := recv(t, chB, protocol.Moved)
	assert.Contains(t, string(moved.payload), "X| | ")
	recv(t, chA, protocol.Moved)
	recv(t, chB, protocol.Moved)
	recv(t, chA, protocol.Moved)

	require.NoError(t, moves[4].who.MakeMove(moves[4].id, moves[4].move))
	recv(t, chB, protocol.Moved)

	// Both sides learn the outcome under their own ids.
	endedB := recv(t, chB, protocol.Ended)
	assert.Equal(t, uint8(bID), endedB.hdr.ID)
	assert.Equal(t, uint8(game.First), endedB.hdr.Role)
	endedA := recv(t, chA, protocol.Ended)
	assert.Equal(t, uint8(aID), endedA.hdr.ID)
	assert.Equal(t, uint8(game.First), endedA.hdr.Role)

	// The rating moved from loser to winner and the invitation is gone.
	assert.Equal(t, 1516, a.Player().Rating())
	assert.Equal(t, 1484, b.Player().Rating())
	assert.Equal(t, 0, a.InviteCount())
	assert.Equal(t, 0, b.InviteCount())
}

func TestResignGame(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	aID, err := a.MakeInvitation(b, game.First, game.Second)
	require.NoError(t, err)
	invited := recv(t, chB, protocol.Invited)
	_, err = b.AcceptInvitation(int(invited.hdr.ID))
	require.NoError(t, err)
	recv(t, chA, protocol.Accepted)

	require.NoError(t, a.ResignGame(aID))
	resigned := recv(t, chB, protocol.Resigned)
	assert.Equal(t, invited.hdr.ID, resigned.hdr.ID)

	// The opponent won.
	assert.Equal(t, 1484, a.Player().Rating())
	assert.Equal(t, 1516, b.Player().Rating())
	assert.Equal(t, 0, a.InviteCount())
	assert.Equal(t, 0, b.InviteCount())
}

func TestResignOpenInvitationFails(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, _ := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")

	aID, err := a.MakeInvitation(b, game.First, game.Second)
	require.NoError(t, err)
	recv(t, chB, protocol.Invited)

	assert.Error(t, a.ResignGame(aID))
	assert.Equal(t, 1, a.InviteCount())
}

func TestLogoutCascade(t *testing.T) {
	r := NewClientRegistry(8)
	players := model.NewPlayerRegistry()

	a, chA := newTestClient(t, r)
	b, chB := newTestClient(t, r)
	c, chC := newTestClient(t, r)
	d, chD := newTestClient(t, r)
	loginAs(t, players, a, "alice")
	loginAs(t, players, b, "bob")
	loginAs(t, players, c, "carol")
	loginAs(t, players, d, "dave")

	// Alice: open invitation to Bob, open invitation from Carol, game with Dave.
	_, err := a.MakeInvitation(b, game.First, game.Second)
	require.NoError(t, err)
	recv(t, chB, protocol.Invited)

	_, err = c.MakeInvitation(a, game.First, game.Second)
	require.NoError(t, err)
	recv(t, chA, protocol.Invited)

	_, err = a.MakeInvitation(d, game.First, game.Second)
	require.NoError(t, err)
	invited := recv(t, chD, protocol.Invited)
	_, err = d.AcceptInvitation(int(invited.hdr.ID))
	require.NoError(t, err)
	recv(t, chA, protocol.Accepted)

	require.NoError(t, a.Logout())

	recv(t, chB, protocol.Revoked)
	recv(t, chC, protocol.Declined)
	recv(t, chD, protocol.Resigned)

	assert.Equal(t, 0, a.InviteCount())
	assert.Equal(t, 0, b.InviteCount())
	assert.Equal(t, 0, c.InviteCount())
	assert.Equal(t, 0, d.InviteCount())

	// The abandoned game counts as a loss for Alice.
	assert.Equal(t, 1516, d.Player().Rating())
}
