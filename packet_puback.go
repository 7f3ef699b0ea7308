//nolint:dupl // MQTT requires separate packet types with same structure
package minimqtt

import "io"

// PubackPacket represents an MQTT PUBACK packet.
// It acknowledges a QoS 1 PUBLISH.
type PubackPacket struct {
	ID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

// PacketID returns the packet identifier.
func (p *PubackPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubackPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBACK, 0x00, p.ID)
}

// Decode reads the packet from the reader.
func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBACK {
		return 0, ErrInvalidPacketType
	}
	var n int
	var err error
	p.ID, n, err = decodeAck(r, header)
	return n, err
}

// Validate validates the packet contents.
func (p *PubackPacket) Validate() error {
	return nil
}
