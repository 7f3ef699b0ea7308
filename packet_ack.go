package minimqtt

import (
	"errors"
	"io"
)

// ErrMalformedAck is returned when an acknowledgment packet has the wrong
// remaining length. PUBACK, PUBREC, PUBREL, PUBCOMP and UNSUBACK all carry
// exactly a 2-byte packet identifier.
var ErrMalformedAck = errors.New("malformed acknowledgment packet")

// encodeAck encodes an acknowledgment packet with the given packet type and flags.
func encodeAck(w io.Writer, packetType PacketType, flags byte, packetID uint16) (int, error) {
	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: 2,
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := encodeUint16(w, packetID)
	return total + n, err
}

// decodeAck decodes an acknowledgment packet consisting of a packet identifier.
func decodeAck(r io.Reader, header FixedHeader) (uint16, int, error) {
	if header.RemainingLength != 2 {
		return 0, 0, ErrMalformedAck
	}

	return decodeUint16(r)
}
