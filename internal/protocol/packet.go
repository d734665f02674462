// Package protocol implements the Jeux wire format: a fixed 16-byte header
// followed by an optional payload, all multi-byte fields in network byte order.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the fixed size of a packet header on the wire.
const HeaderSize = 16

// PacketType identifies the kind of a packet.
type PacketType uint8

const (
	NoPacket PacketType = iota
	Login               // client → server: log in under a username (payload)
	Users               // client → server: list logged-in players
	Invite              // client → server: invite a player (payload = target name)
	Revoke              // client → server: revoke an outstanding invitation
	Accept              // client → server: accept an invitation
	Decline             // client → server: decline an invitation
	Move                // client → server: make a move (payload = move string)
	Resign              // client → server: resign a game in progress
	Ack                 // server → client: request succeeded
	Nack                // server → client: request failed
	Invited             // server → client: you have been invited
	Revoked             // server → client: an invitation to you was revoked
	Accepted            // server → client: your invitation was accepted
	Declined            // server → client: your invitation was declined
	Moved               // server → client: opponent moved (payload = board)
	Resigned            // server → client: opponent resigned
	Ended               // server → client: game over (role = winner)
)

var packetNames = map[PacketType]string{
	NoPacket: "NONE",
	Login:    "LOGIN",
	Users:    "USERS",
	Invite:   "INVITE",
	Revoke:   "REVOKE",
	Accept:   "ACCEPT",
	Decline:  "DECLINE",
	Move:     "MOVE",
	Resign:   "RESIGN",
	Ack:      "ACK",
	Nack:     "NACK",
	Invited:  "INVITED",
	Revoked:  "REVOKED",
	Declined: "DECLINED",
	Accepted: "ACCEPTED",
	Moved:    "MOVED",
	Resigned: "RESIGNED",
	Ended:    "ENDED",
}

func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Header is the fixed-size packet header.  The reserved pad byte after Role
// is zero on send and ignored on receive.  Sec/Nsec carry the send time and
// are observational only; receivers treat them as opaque.
type Header struct {
	Type PacketType
	ID   uint8
	Role uint8
	Size uint16
	Sec  uint32
	Nsec uint32
}

// ErrPayloadMismatch reports a header size that disagrees with the payload
// actually supplied.
var ErrPayloadMismatch = errors.New("payload length does not match header size")

// WritePacket stamps hdr with the current time, sets its Size from payload,
// and writes the header followed by the payload to w.  Writes go through
// io.Writer, which loops over partial writes for us.
func WritePacket(w io.Writer, hdr Header, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	hdr.Size = uint16(len(payload))

	now := time.Now()
	hdr.Sec = uint32(now.Unix())
	hdr.Nsec = uint32(now.Nanosecond())

	var buf [HeaderSize]byte
	buf[0] = byte(hdr.Type)
	buf[1] = hdr.ID
	buf[2] = hdr.Role
	// buf[3] is the reserved pad byte, left zero
	binary.BigEndian.PutUint16(buf[4:6], hdr.Size)
	binary.BigEndian.PutUint32(buf[6:10], hdr.Sec)
	binary.BigEndian.PutUint32(buf[10:14], hdr.Nsec)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing packet header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing packet payload: %w", err)
		}
	}
	return nil
}

// ReadPacket reads one packet from r.  End-of-stream while reading the header
// is the normal termination signal and is returned as io.EOF unchanged;
// end-of-stream in the middle of the payload is a failure.
func ReadPacket(r io.Reader) (Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, fmt.Errorf("reading packet header: %w", err)
	}

	hdr := Header{
		Type: PacketType(buf[0]),
		ID:   buf[1],
		Role: buf[2],
		Size: binary.BigEndian.Uint16(buf[4:6]),
		Sec:  binary.BigEndian.Uint32(buf[6:10]),
		Nsec: binary.BigEndian.Uint32(buf[10:14]),
	}

	if hdr.Size == 0 {
		return hdr, nil, nil
	}

	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return hdr, nil, fmt.Errorf("reading packet payload: %w", err)
	}
	return hdr, payload, nil
}
