package minimqtt

import (
	"bytes"
	"errors"
	"io"
)

// ErrInvalidReturnCodeSuback is returned for SUBACK return codes outside the
// set allowed by the protocol.
var ErrInvalidReturnCodeSuback = errors.New("invalid SUBACK return code")

// SubackReturnCode is a per-filter result in a SUBACK packet.
type SubackReturnCode byte

// SUBACK return codes.
const (
	SubackGrantedQoS0 SubackReturnCode = 0x00
	SubackGrantedQoS1 SubackReturnCode = 0x01
	SubackGrantedQoS2 SubackReturnCode = 0x02
	SubackFailure     SubackReturnCode = 0x80
)

// Valid returns true if the return code is defined by the protocol.
func (c SubackReturnCode) Valid() bool {
	return c <= SubackGrantedQoS2 || c == SubackFailure
}

// SubackPacket represents an MQTT SUBACK packet.
type SubackPacket struct {
	ID          uint16
	ReturnCodes []SubackReturnCode
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// PacketID returns the packet identifier.
func (p *SubackPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Packet Identifier
	if _, err := encodeUint16(&buf, p.ID); err != nil {
		return 0, err
	}

	// Payload: return codes
	for _, rc := range p.ReturnCodes {
		if err := buf.WriteByte(byte(rc)); err != nil {
			return 0, err
		}
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketSUBACK,
		Flags:           0x00,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	// Packet Identifier
	var n int
	var err error
	p.ID, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	// Payload: return codes
	p.ReturnCodes = nil
	for totalRead < int(header.RemainingLength) {
		var rcBuf [1]byte
		n, err = io.ReadFull(r, rcBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		rc := SubackReturnCode(rcBuf[0])
		if !rc.Valid() {
			return totalRead, ErrInvalidReturnCodeSuback
		}
		p.ReturnCodes = append(p.ReturnCodes, rc)
	}

	if len(p.ReturnCodes) == 0 {
		return totalRead, ErrProtocolViolation
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.ID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReturnCodes) == 0 {
		return ErrProtocolViolation
	}
	for _, rc := range p.ReturnCodes {
		if !rc.Valid() {
			return ErrInvalidReturnCodeSuback
		}
	}
	return nil
}
