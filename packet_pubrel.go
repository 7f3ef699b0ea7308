package minimqtt

import "io"

// PubrelPacket represents an MQTT PUBREL packet.
// It releases a QoS 2 message and must carry fixed header flags 0x02.
type PubrelPacket struct {
	ID uint16
}

// Type returns the packet type.
func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

// PacketID returns the packet identifier.
func (p *PubrelPacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *PubrelPacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREL, 0x02, p.ID)
}

// Decode reads the packet from the reader.
func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBREL {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}
	var n int
	var err error
	p.ID, n, err = decodeAck(r, header)
	return n, err
}

// Validate validates the packet contents.
func (p *PubrelPacket) Validate() error {
	return nil
}
