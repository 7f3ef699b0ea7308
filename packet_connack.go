package minimqtt

import (
	"bytes"
	"errors"
	"io"
)

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidReturnCode   = errors.New("invalid CONNACK return code")
)

// ConnectReturnCode is the connection result in a CONNACK packet.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectionAccepted          ConnectReturnCode = 0
	ErrRefusedProtocolVersion   ConnectReturnCode = 1
	ErrRefusedIdentifier        ConnectReturnCode = 2
	ErrRefusedServerUnavailable ConnectReturnCode = 3
	ErrRefusedBadCredentials    ConnectReturnCode = 4
	ErrRefusedNotAuthorized     ConnectReturnCode = 5
)

// String returns the human-readable description of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectionAccepted:
		return "Connection Accepted"
	case ErrRefusedProtocolVersion:
		return "Connection Refused - Incorrect Protocol Version"
	case ErrRefusedIdentifier:
		return "Connection Refused - ID Rejected"
	case ErrRefusedServerUnavailable:
		return "Connection Refused - Server unavailable"
	case ErrRefusedBadCredentials:
		return "Connection Refused - Incorrect username/password"
	case ErrRefusedNotAuthorized:
		return "Connection Refused - Unauthorized"
	default:
		return "Connection Refused - Unknown"
	}
}

// Valid returns true if the return code is defined by the protocol.
func (c ConnectReturnCode) Valid() bool {
	return c <= ErrRefusedNotAuthorized
}

// ConnackPacket represents an MQTT CONNACK packet.
type ConnackPacket struct {
	// SessionPresent indicates if a session exists from a previous connection.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ConnectReturnCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Connect Acknowledge Flags
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	if err := buf.WriteByte(flags); err != nil {
		return 0, err
	}

	// Return Code
	if err := buf.WriteByte(byte(p.ReturnCode)); err != nil {
		return 1, err
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketCONNACK,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	// Write variable header
	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}

	if header.RemainingLength != 2 {
		return 0, ErrMalformedAck
	}

	var totalRead int

	// Connect Acknowledge Flags
	var flagsBuf [1]byte
	n, err := io.ReadFull(r, flagsBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Reserved bits must be 0
	if flagsBuf[0]&0xFE != 0 {
		return totalRead, ErrInvalidConnackFlags
	}

	p.SessionPresent = flagsBuf[0]&0x01 != 0

	// Return Code
	var codeBuf [1]byte
	n, err = io.ReadFull(r, codeBuf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ReturnCode = ConnectReturnCode(codeBuf[0])

	if !p.ReturnCode.Valid() {
		return totalRead, ErrInvalidReturnCode
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return ErrInvalidReturnCode
	}

	// If the connection was refused, session present must be false
	if p.ReturnCode != ConnectionAccepted && p.SessionPresent {
		return ErrInvalidConnackFlags
	}

	return nil
}
