//nolint:dupl // MQTT requires separate packet types with same structure
package minimqtt

import "io"

// PubrecPacket represents an MQTT PUBREC packet.
// It is the first response in the QoS 2 handshake.
type PubrecPacket struct {
	ID uint16
}

// Type returns the packet type.
func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

// PacketID returns the packet identifier.
func (p *PubrecPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubrecPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREC, 0x00, p.ID)
}

// Decode reads the packet from the reader.
func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBREC {
		return 0, ErrInvalidPacketType
	}
	var n int
	var err error
	p.ID, n, err = decodeAck(r, header)
	return n, err
}

// Validate validates the packet contents.
func (p *PubrecPacket) Validate() error {
	return nil
}
