package minimqtt

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrInvalidPacketID   = errors.New("invalid packet identifier")
	ErrProtocolViolation = errors.New("protocol violation")
)

// Subscription represents a topic filter with its requested QoS level.
type Subscription struct {
	TopicFilter string
	QoS         byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	ID            uint16
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// PacketID returns the packet identifier.
func (p *SubscribePacket) PacketID() uint16 { return p.ID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.ID = id }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Packet Identifier
	if _, err := encodeUint16(&buf, p.ID); err != nil {
		return 0, err
	}

	// Payload: subscriptions
	for _, sub := range p.Subscriptions {
		// Topic Filter
		if _, err := encodeString(&buf, sub.TopicFilter); err != nil {
			return 0, err
		}

		// Requested QoS
		if err := buf.WriteByte(sub.QoS & 0x03); err != nil {
			return 0, err
		}
	}

	// Write fixed header
	header := FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           0x02, // SUBSCRIBE must have flags 0x02
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
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
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

	// Payload: subscriptions
	p.Subscriptions = nil
	for totalRead < int(header.RemainingLength) {
		var sub Subscription

		// Topic Filter
		sub.TopicFilter, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		// Requested QoS
		var qosBuf [1]byte
		n, err = io.ReadFull(r, qosBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		// Reserved bits must be 0
		if qosBuf[0]&0xFC != 0 {
			return totalRead, ErrProtocolViolation
		}
		sub.QoS = qosBuf[0] & 0x03

		p.Subscriptions = append(p.Subscriptions, sub)
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrProtocolViolation
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.ID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.Subscriptions) == 0 {
		return ErrProtocolViolation
	}
	for _, sub := range p.Subscriptions {
		if sub.TopicFilter == "" {
			return ErrProtocolViolation
		}
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
	}
	return nil
}
