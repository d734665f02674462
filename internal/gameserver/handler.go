package gameserver

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/udisondev/jeuxgo/internal/game"
	"github.com/udisondev/jeuxgo/internal/model"
	"github.com/udisondev/jeuxgo/internal/protocol"
)

// Handler dispatches client requests.  Every request is answered with
// exactly one ACK or NACK; notifications to other sessions are sent from
// within the operations themselves.
type Handler struct {
	clients *ClientRegistry
	players *model.PlayerRegistry
}

// NewHandler creates a handler operating on the given registries.
func NewHandler(clients *ClientRegistry, players *model.PlayerRegistry) *Handler {
	return &Handler{clients: clients, players: players}
}

// Handle processes one request packet from c.  Protocol violations and
// failed operations are answered with a NACK; only a failure to write the
// response is returned as an error.
func (h *Handler) Handle(c *Client, hdr protocol.Header, payload []byte) error {
	if !c.LoggedIn() && hdr.Type != protocol.Login {
		slog.Debug("request before login", "type", hdr.Type.String())
		return c.SendNack()
	}

	switch hdr.Type {
	case protocol.Login:
		return h.handleLogin(c, payload)
	case protocol.Users:
		return h.handleUsers(c)
	case protocol.Invite:
		return h.handleInvite(c, hdr, payload)
	case protocol.Revoke:
		return h.respond(c, c.RevokeInvitation(int(hdr.ID)), nil)
	case protocol.Accept:
		return h.handleAccept(c, hdr)
	case protocol.Decline:
		return h.respond(c, c.DeclineInvitation(int(hdr.ID)), nil)
	case protocol.Move:
		return h.respond(c, c.MakeMove(int(hdr.ID), string(payload)), nil)
	case protocol.Resign:
		return h.respond(c, c.ResignGame(int(hdr.ID)), nil)
	default:
		slog.Debug("unknown packet type", "type", hdr.Type.String())
		return c.SendNack()
	}
}

// respond turns an operation result into the ACK or NACK answering it.
func (h *Handler) respond(c *Client, err error, ackPayload []byte) error {
	if err != nil {
		slog.Debug("request failed", "error", err)
		return c.SendNack()
	}
	return c.SendAck(ackPayload)
}

func (h *Handler) handleLogin(c *Client, payload []byte) error {
	name := string(payload)
	if name == "" || c.LoggedIn() {
		return c.SendNack()
	}

	player := h.players.Register(name)
	err := c.Login(player)
	player.Unref("login request done")
	return h.respond(c, err, nil)
}

func (h *Handler) handleUsers(c *Client) error {
	players := h.clients.AllPlayers()
	slices.SortFunc(players, func(a, b *model.Player) int {
		return strings.Compare(a.Name(), b.Name())
	})

	var sb strings.Builder
	for _, p := range players {
		fmt.Fprintf(&sb, "%s\t%d\n", p.Name(), p.Rating())
		p.Unref("player listing done")
	}
	return c.SendAck([]byte(sb.String()))
}

func (h *Handler) handleInvite(c *Client, hdr protocol.Header, payload []byte) error {
	targetRole := game.Role(hdr.Role)
	if targetRole != game.First && targetRole != game.Second {
		return c.SendNack()
	}

	target := h.clients.Lookup(string(payload))
	if target == nil || target == c {
		if target != nil {
			target.Unref("registry lookup by name")
		}
		return c.SendNack()
	}

	id, err := c.MakeInvitation(target, targetRole.Other(), targetRole)
	target.Unref("registry lookup by name")
	if err != nil {
		slog.Debug("invite failed", "error", err)
		return c.SendNack()
	}
	return c.Send(protocol.Header{Type: protocol.Ack, ID: uint8(id)}, nil)
}

func (h *Handler) handleAccept(c *Client, hdr protocol.Header) error {
	board, err := c.AcceptInvitation(int(hdr.ID))
	if err != nil {
		slog.Debug("accept failed", "error", err)
		return c.SendNack()
	}
	return c.SendAck([]byte(board))
}
