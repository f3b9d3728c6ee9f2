package loom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ByteBuffer is a growable little-endian byte buffer with independent
// read and write cursors.
//
// Integers use unsigned LEB128 for non-negative values and zig-zag+LEB128
// for signed values. Floats are IEEE-754 little-endian.
type ByteBuffer struct {
	data        []byte
	readerIndex int
	writerIndex int
}

// NewByteBuffer wraps data for reading, or starts an empty growable buffer
// for writing when data is nil.
func NewByteBuffer(data []byte) *ByteBuffer {
	if data == nil {
		return &ByteBuffer{data: make([]byte, 0, 64)}
	}
	return &ByteBuffer{data: data, writerIndex: len(data)}
}

func (b *ByteBuffer) Reset() {
	b.data = b.data[:0]
	b.readerIndex = 0
	b.writerIndex = 0
}

func (b *ByteBuffer) WriterIndex() int { return b.writerIndex }
func (b *ByteBuffer) ReaderIndex() int { return b.readerIndex }

func (b *ByteBuffer) Remaining() int { return b.writerIndex - b.readerIndex }

// Bytes returns the written portion of the buffer. Callers that need an
// independent copy must clone it themselves.
func (b *ByteBuffer) Bytes() []byte { return b.data[:b.writerIndex] }

func (b *ByteBuffer) grow(n int) {
	need := b.writerIndex + n
	if need <= len(b.data) {
		return
	}
	newCap := len(b.data)*2 + n
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.writerIndex])
	b.data = grown
}

func (b *ByteBuffer) ensureReadable(n int) error {
	if b.readerIndex+n > b.writerIndex {
		return ErrStreamTruncated
	}
	return nil
}

// ---- fixed-width primitives ----

func (b *ByteBuffer) WriteByte_(v byte) {
	b.grow(1)
	b.data[b.writerIndex] = v
	b.writerIndex++
}

func (b *ByteBuffer) ReadByte_() (byte, error) {
	if err := b.ensureReadable(1); err != nil {
		return 0, err
	}
	v := b.data[b.readerIndex]
	b.readerIndex++
	return v, nil
}

func (b *ByteBuffer) WriteBool(v bool) {
	if v {
		b.WriteByte_(1)
	} else {
		b.WriteByte_(0)
	}
}

func (b *ByteBuffer) ReadBool() (bool, error) {
	v, err := b.ReadByte_()
	return v != 0, err
}

func (b *ByteBuffer) WriteInt8(v int8) { b.WriteByte_(byte(v)) }

func (b *ByteBuffer) ReadInt8() (int8, error) {
	v, err := b.ReadByte_()
	return int8(v), err
}

func (b *ByteBuffer) WriteFloat32(v float32) {
	b.grow(4)
	binary.LittleEndian.PutUint32(b.data[b.writerIndex:], math.Float32bits(v))
	b.writerIndex += 4
}

func (b *ByteBuffer) ReadFloat32() (float32, error) {
	if err := b.ensureReadable(4); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(b.data[b.readerIndex:]))
	b.readerIndex += 4
	return v, nil
}

func (b *ByteBuffer) WriteFloat64(v float64) {
	b.grow(8)
	binary.LittleEndian.PutUint64(b.data[b.writerIndex:], math.Float64bits(v))
	b.writerIndex += 8
}

func (b *ByteBuffer) ReadFloat64() (float64, error) {
	if err := b.ensureReadable(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(b.data[b.readerIndex:]))
	b.readerIndex += 8
	return v, nil
}

// ---- varint: unsigned LEB128 ----

func (b *ByteBuffer) WriteVarUint64(v uint64) {
	for v >= 0x80 {
		b.WriteByte_(byte(v) | 0x80)
		v >>= 7
	}
	b.WriteByte_(byte(v))
}

func (b *ByteBuffer) ReadVarUint64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		if shift >= 64 {
			return 0, fmt.Errorf("loom: %w: varint overflows 64 bits", ErrStreamCorrupted)
		}
		bt, err := b.ReadByte_()
		if err != nil {
			return 0, err
		}
		result |= uint64(bt&0x7f) << shift
		if bt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func (b *ByteBuffer) WriteVarUint32(v uint32) { b.WriteVarUint64(uint64(v)) }

func (b *ByteBuffer) ReadVarUint32() (uint32, error) {
	v, err := b.ReadVarUint64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("loom: %w: varuint32 out of range", ErrStreamCorrupted)
	}
	return uint32(v), nil
}

// ---- varint: zig-zag + LEB128, for signed values ----

func zigzagEncode64(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }
func zigzagDecode64(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func (b *ByteBuffer) WriteVarInt64(v int64) { b.WriteVarUint64(zigzagEncode64(v)) }

func (b *ByteBuffer) ReadVarInt64() (int64, error) {
	u, err := b.ReadVarUint64()
	if err != nil {
		return 0, err
	}
	return zigzagDecode64(u), nil
}

func (b *ByteBuffer) WriteVarInt32(v int32) { b.WriteVarInt64(int64(v)) }

func (b *ByteBuffer) ReadVarInt32() (int32, error) {
	v, err := b.ReadVarInt64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("loom: %w: varint32 out of range", ErrStreamCorrupted)
	}
	return int32(v), nil
}

// WriteLength writes a length as a zig-zagged varint; -1 denotes "null".
func (b *ByteBuffer) WriteLength(n int) { b.WriteVarInt64(int64(n)) }

func (b *ByteBuffer) ReadLength() (int, error) {
	v, err := b.ReadVarInt64()
	if err != nil {
		return 0, err
	}
	if v < -1 || v > math.MaxInt32 {
		return 0, fmt.Errorf("loom: %w: length %d out of range", ErrStreamCorrupted, v)
	}
	return int(v), nil
}

// ---- byte-slice / string payloads ----

func (b *ByteBuffer) Write(p []byte) {
	b.grow(len(p))
	copy(b.data[b.writerIndex:], p)
	b.writerIndex += len(p)
}

func (b *ByteBuffer) ReadN(n int) ([]byte, error) {
	if err := b.ensureReadable(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.readerIndex:b.readerIndex+n])
	b.readerIndex += n
	return out, nil
}

// WriteBytes writes a length-prefixed byte slice. A nil slice is encoded
// with length -1, distinct from a present, zero-length slice.
func (b *ByteBuffer) WriteBytes(p []byte) {
	if p == nil {
		b.WriteLength(-1)
		return
	}
	b.WriteLength(len(p))
	b.Write(p)
}

func (b *ByteBuffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadLength()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	return b.ReadN(n)
}

// WriteString writes a length-prefixed UTF-8 string. Length is the byte
// length, LEB128-encoded (unsigned: a Go string is never nil).
func (b *ByteBuffer) WriteString(s string) {
	b.WriteVarUint64(uint64(len(s)))
	b.Write([]byte(s))
}

func (b *ByteBuffer) ReadString() (string, error) {
	n, err := b.ReadVarUint64()
	if err != nil {
		return "", err
	}
	data, err := b.ReadN(int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *ByteBuffer) PeekByte() (byte, bool) {
	if b.readerIndex >= b.writerIndex {
		return 0, false
	}
	return b.data[b.readerIndex], true
}

// Rewind moves the reader cursor back to pos; used by the metadata block
// decoder when a checksum fails and the block must be treated as absent.
func (b *ByteBuffer) Rewind(pos int) { b.readerIndex = pos }
