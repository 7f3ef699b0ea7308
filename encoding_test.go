package minimqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		size  int
	}{
		{"zero", 0, 1},
		{"one byte max", 127, 1},
		{"two bytes min", 128, 2},
		{"two bytes max", 16383, 2},
		{"three bytes min", 16384, 3},
		{"three bytes max", 2097151, 3},
		{"four bytes min", 2097152, 4},
		{"four bytes max", 268435455, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := encodeVarint(&buf, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.size, n)
			assert.Equal(t, tt.size, varintSize(tt.value))

			decoded, n, err := decodeVarint(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.size, n)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestVarintEncodeTooLarge(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeVarint(&buf, maxVarint+1)
	assert.ErrorIs(t, err, ErrVarintTooLarge)
}

func TestVarintDecodeMalformed(t *testing.T) {
	// Five continuation bytes exceed the four byte maximum.
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	_, _, err := decodeVarint(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrVarintMalformed)
}

func TestVarintBytesIncomplete(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"continuation without next byte", []byte{0x80}},
		{"three continuations", []byte{0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeVarintBytes(tt.data)
			assert.ErrorIs(t, err, ErrIncompletePacket)
		})
	}
}

func TestVarintBytesMalformed(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	_, _, err := decodeVarintBytes(data)
	assert.ErrorIs(t, err, ErrVarintMalformed)
}

func TestVarintBytesDecode(t *testing.T) {
	value, n, err := decodeVarintBytes([]byte{0xC1, 0x02})
	require.NoError(t, err)
	assert.Equal(t, uint32(321), value)
	assert.Equal(t, 2, n)
}

func TestStringEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"ascii", "hello"},
		{"topic", "sensors/kitchen/temperature"},
		{"utf8", "датчик/кухня"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := encodeString(&buf, tt.value)
			require.NoError(t, err)

			decoded, _, err := decodeString(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestStringEncodeInvalid(t *testing.T) {
	var buf bytes.Buffer

	_, err := encodeString(&buf, "bad\x00string")
	assert.ErrorIs(t, err, ErrStringContainsNull)

	_, err = encodeString(&buf, string([]byte{0xFF, 0xFE}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestStringDecodeInvalid(t *testing.T) {
	// Length prefix says 3, payload carries a null byte.
	data := []byte{0x00, 0x03, 'a', 0x00, 'b'}
	_, _, err := decodeString(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrStringContainsNull)
}

func TestBinaryEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03, 0xFF}

	_, err := encodeBinary(&buf, payload)
	require.NoError(t, err)

	decoded, _, err := decodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestUint16EncodeDecode(t *testing.T) {
	var buf bytes.Buffer

	_, err := encodeUint16(&buf, 0xABCD)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, buf.Bytes())

	value, _, err := decodeUint16(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xABCD), value)
}
