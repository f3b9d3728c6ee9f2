package loom

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVarUintRoundTrip(t *testing.T) {
	buf := NewByteBuffer(nil)
	values := []uint64{0, 1, 127, 128, 1 << 14, 1 << 21, 1 << 28, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		buf.WriteVarUint64(v)
	}
	for _, want := range values {
		got, err := buf.ReadVarUint64()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, 0, buf.Remaining())
}

func TestVarIntZigZag(t *testing.T) {
	buf := NewByteBuffer(nil)
	values := []int64{0, -1, 1, -64, 64, math.MinInt8, math.MaxInt8, math.MinInt32, math.MaxInt32, math.MinInt64, math.MaxInt64}
	for _, v := range values {
		buf.WriteVarInt64(v)
	}
	for _, want := range values {
		got, err := buf.ReadVarInt64()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestVarIntSmallMagnitudeIsShort(t *testing.T) {
	// Zig-zag keeps small negative values in one byte.
	buf := NewByteBuffer(nil)
	buf.WriteVarInt64(-1)
	require.Equal(t, 1, buf.WriterIndex())
	buf.Reset()
	buf.WriteVarInt64(63)
	require.Equal(t, 1, buf.WriterIndex())
}

func TestReadPastEndIsTruncated(t *testing.T) {
	buf := NewByteBuffer([]byte{0x01, 0x02})
	_, err := buf.ReadN(3)
	require.ErrorIs(t, err, ErrStreamTruncated)

	buf = NewByteBuffer(nil)
	_, err = buf.ReadByte_()
	require.ErrorIs(t, err, ErrStreamTruncated)

	buf = NewByteBuffer([]byte{0x80, 0x80})
	_, err = buf.ReadVarUint64()
	require.ErrorIs(t, err, ErrStreamTruncated)
}

func TestVarintOverflowIsCorrupted(t *testing.T) {
	buf := NewByteBuffer([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	_, err := buf.ReadVarUint64()
	require.ErrorIs(t, err, ErrStreamCorrupted)
}

func TestStringAndBytes(t *testing.T) {
	buf := NewByteBuffer(nil)
	buf.WriteString("héllo")
	buf.WriteString("")
	buf.WriteBytes([]byte{1, 2, 3})
	buf.WriteBytes(nil)
	buf.WriteBytes([]byte{})

	s, err := buf.ReadString()
	require.NoError(t, err)
	require.Equal(t, "héllo", s)
	s, err = buf.ReadString()
	require.NoError(t, err)
	require.Equal(t, "", s)
	b, err := buf.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
	b, err = buf.ReadBytes()
	require.NoError(t, err)
	require.Nil(t, b)
	b, err = buf.ReadBytes()
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Len(t, b, 0)
}

func TestFloatsAndBool(t *testing.T) {
	buf := NewByteBuffer(nil)
	buf.WriteFloat32(3.5)
	buf.WriteFloat64(-2.25)
	buf.WriteBool(true)
	buf.WriteBool(false)

	f32, err := buf.ReadFloat32()
	require.NoError(t, err)
	require.Equal(t, float32(3.5), f32)
	f64, err := buf.ReadFloat64()
	require.NoError(t, err)
	require.Equal(t, -2.25, f64)
	v, err := buf.ReadBool()
	require.NoError(t, err)
	require.True(t, v)
	v, err = buf.ReadBool()
	require.NoError(t, err)
	require.False(t, v)
}

func TestTimeRoundTrip(t *testing.T) {
	buf := NewByteBuffer(nil)
	utc := time.Date(2023, 4, 5, 6, 7, 8, 900, time.UTC)
	buf.WriteTime(utc)

	got, err := buf.ReadTime()
	require.NoError(t, err)
	require.True(t, utc.Equal(got))
	require.Equal(t, time.UTC, got.Location())
}

func TestDecimal128RoundTrip(t *testing.T) {
	buf := NewByteBuffer(nil)
	d := Decimal128{Lo: 0x0123456789abcdef, Hi: 0xfedcba9876543210}
	buf.WriteDecimal128(d)
	require.Equal(t, 16, buf.WriterIndex())

	got, err := buf.ReadDecimal128()
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestLengthNullMarker(t *testing.T) {
	buf := NewByteBuffer(nil)
	buf.WriteLength(-1)
	buf.WriteLength(0)
	buf.WriteLength(300)

	n, err := buf.ReadLength()
	require.NoError(t, err)
	require.Equal(t, -1, n)
	n, err = buf.ReadLength()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	n, err = buf.ReadLength()
	require.NoError(t, err)
	require.Equal(t, 300, n)
}
