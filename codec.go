package minimqtt

import (
	"errors"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("minimqtt: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("minimqtt: unknown packet type")
	ErrIncompletePacket  = errors.New("minimqtt: incomplete packet")
)

// newPacket returns an empty packet struct for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if err := header.ValidateFlags(); err != nil {
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	// Read remaining bytes
	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, n, err
	}

	reader := newBytesReader(remaining)
	_, err = packet.Decode(reader, header)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// DecodePacket decodes one MQTT packet from the front of data.
// It returns the packet and the number of bytes consumed. When data holds
// less than one complete packet it returns ErrIncompletePacket with zero
// consumed so the caller can retry once more bytes arrive. Any other error
// means the stream is malformed and unrecoverable.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func DecodePacket(data []byte, maxSize uint32) (Packet, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrIncompletePacket
	}

	var header FixedHeader
	header.PacketType = PacketType(data[0] >> 4)
	header.Flags = data[0] & 0x0F

	if !header.PacketType.Valid() {
		return nil, 0, ErrInvalidPacketType
	}

	length, varintLen, err := decodeVarintBytes(data[1:])
	if err != nil {
		if errors.Is(err, ErrIncompletePacket) {
			return nil, 0, ErrIncompletePacket
		}
		return nil, 0, err
	}
	header.RemainingLength = length

	if err := header.ValidateFlags(); err != nil {
		return nil, 0, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, 0, ErrPacketTooLarge
	}

	headerLen := 1 + varintLen
	total := headerLen + int(header.RemainingLength)
	if len(data) < total {
		return nil, 0, ErrIncompletePacket
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, 0, err
	}

	reader := newBytesReader(data[headerLen:total])
	if _, err := packet.Decode(reader, header); err != nil {
		return nil, 0, err
	}

	return packet, total, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	// If max size check is needed, encode to buffer first
	if maxSize > 0 {
		var buf bytesBuffer
		n, err := packet.Encode(&buf)
		if err != nil {
			return 0, err
		}
		if uint32(n) > maxSize {
			return 0, ErrPacketTooLarge
		}
		return w.Write(buf.Bytes())
	}

	return packet.Encode(w)
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) *bytesReader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
