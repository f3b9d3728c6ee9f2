package loom

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// Stream header layout: three magic bytes, a version byte, and two
// configuration flag bytes.
const (
	magic0        = 0x32
	magic1        = 0x66
	magic2        = 0x34
	streamVersion = 9

	headerSize     = 6
	maxMetadataLen = 255
)

// Session owns the configuration, the surrogate registries, and the
// per-stream writer/reader state, and offers both one-shot and
// open-stream modes. A Session is not safe for concurrent use and must
// not be reentered from hook handlers; wrap it in threadsafe.Session for
// pooling.
type Session struct {
	cfg     Config
	lastErr error
}

// New creates a Session: defaults first, then functional options, then
// the built-in surrogates.
func New(opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.surrogate == nil {
		cfg.surrogate = newSurrogateRegistry()
	}
	if err := registerBuiltinSurrogates(&cfg, cfg.surrogate); err != nil {
		// Only reachable if an option already exercised the registry, which
		// no shipped option does; surfaced on first use via lastErr.
		return &Session{cfg: cfg, lastErr: err}
	}
	cfg.logger.Debug("loom session created",
		zap.Bool("preserveReferences", cfg.ReferencePreservation != DoNotPreserve),
		zap.Bool("typeStamping", !cfg.DisableTypeStamping))
	return &Session{cfg: cfg}
}

// RegisterSurrogate adds an object-to-surrogate codec after construction.
// Registration is refused once the session has served its first
// serialization or deserialization.
func (s *Session) RegisterSurrogate(forType, wireType reflect.Type, toWire func(reflect.Value) (reflect.Value, error), fromWire func(reflect.Value, reflect.Value) error) error {
	return s.cfg.surrogate.register(&surrogateCodec{forType: forType, wireType: wireType, toWire: toWire, fromWire: fromWire})
}

// LastError returns the most recent failure surfaced by this session; the
// session's state is left inspectable after an error.
func (s *Session) LastError() error { return s.lastErr }

// LastOutcome classifies LastError.
func (s *Session) LastOutcome() Outcome { return Classify(s.lastErr) }

func (s *Session) fail(err error) error {
	if err != nil {
		s.lastErr = err
	}
	return err
}

// ---- one-shot mode ----

// Marshal serializes a single object graph into a fresh stream: header,
// then the root and every record it reaches.
func (s *Session) Marshal(v interface{}) ([]byte, error) {
	return s.MarshalWithMetadata(v, nil)
}

// MarshalWithMetadata is Marshal with an opaque caller metadata block
// (1..255 bytes) between the header and the body.
func (s *Session) MarshalWithMetadata(v interface{}, metadata []byte) ([]byte, error) {
	if s.lastErr != nil && errors.Is(s.lastErr, ErrSurrogateAfterFirstUse) {
		return nil, s.lastErr
	}
	if s.cfg.SerializationMethod == Generated {
		return nil, s.fail(fmt.Errorf("loom: %w: generated serialization back-end", ErrNotImplemented))
	}
	buf := NewByteBuffer(nil)
	writeHeader(buf, &s.cfg)
	if metadata != nil {
		if err := writeMetadata(buf, metadata); err != nil {
			return nil, s.fail(err)
		}
	}
	w := newWriter(&s.cfg)
	if err := w.WriteGraph(buf, v); err != nil {
		return nil, s.fail(err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a one-shot stream produced by Marshal into v, which
// must be a non-nil pointer. The whole stream must be consumed: a byte
// count mismatch after the root graph is an invalid-operation failure.
func (s *Session) Unmarshal(data []byte, v interface{}) error {
	_, err := s.UnmarshalWithMetadata(data, v)
	return err
}

// UnmarshalWithMetadata is Unmarshal, additionally returning the metadata
// block if one was present and intact. A corrupted or truncated block is
// treated as absent (nil).
func (s *Session) UnmarshalWithMetadata(data []byte, v interface{}) ([]byte, error) {
	if s.cfg.DeserializationMethod == Generated {
		return nil, s.fail(fmt.Errorf("loom: %w: generated deserialization back-end", ErrNotImplemented))
	}
	buf := NewByteBuffer(data)
	if err := readHeader(buf, &s.cfg); err != nil {
		return nil, s.fail(err)
	}
	meta, rejected := readMetadata(buf)
	if rejected && meta == nil && len(data) > headerSize && data[headerSize] != 0 {
		s.cfg.logger.Warn("metadata block rejected, treating as absent")
	}
	r := newReader(&s.cfg)
	if err := s.readRootInto(r, buf, v); err != nil {
		return meta, s.fail(err)
	}
	if buf.Remaining() != 0 {
		return meta, s.fail(fmt.Errorf("loom: %w: %d bytes left after root graph", ErrInvalidOperation, buf.Remaining()))
	}
	return meta, nil
}

// UnmarshalRequireMetadata is UnmarshalWithMetadata for callers that
// cannot proceed without the block: absence or corruption is an error
// instead of a nil result.
func (s *Session) UnmarshalRequireMetadata(data []byte, v interface{}) ([]byte, error) {
	meta, err := s.UnmarshalWithMetadata(data, v)
	if err != nil {
		return meta, err
	}
	if meta == nil {
		return nil, s.fail(fmt.Errorf("loom: %w: metadata block absent or failed checksum", ErrMetadataCorrupted))
	}
	return meta, nil
}

func (s *Session) readRootInto(r *Reader, buf *ByteBuffer, v interface{}) error {
	rv := reflect.ValueOf(v)
	if v == nil || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("loom: %w: target must be a non-nil pointer", ErrInvalidOperation)
	}
	target := rv.Elem()
	var expectT reflect.Type
	if target.Type().Kind() != reflect.Interface {
		expectT = target.Type()
	}
	out, err := r.readGraph(buf, expectT)
	if err != nil {
		return err
	}
	if !out.IsValid() {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	return adaptAssign(target, out)
}

// Serialize writes v through s with the static type inferred.
func Serialize[T any](s *Session, v T) ([]byte, error) {
	return s.Marshal(v)
}

// Deserialize decodes a one-shot stream into a T.
func Deserialize[T any](s *Session, data []byte) (T, error) {
	var out T
	err := s.Unmarshal(data, &out)
	return out, err
}

// ---- open-stream mode ----

// StreamWriter is the open-stream write handle: repeated WriteObject calls
// share one reference table and one type table, so an object written twice
// across roots is emitted once and referenced thereafter.
type StreamWriter struct {
	s       *Session
	w       *Writer
	dst     *ByteBuffer
	scratch *ByteBuffer // staging area when buffering is on; drained by Flush
}

// OpenWriter writes the stream header to dst and returns a handle for
// repeated root writes.
func (s *Session) OpenWriter(dst *ByteBuffer) (*StreamWriter, error) {
	if s.cfg.SerializationMethod == Generated {
		return nil, s.fail(fmt.Errorf("loom: %w: generated serialization back-end", ErrNotImplemented))
	}
	writeHeader(dst, &s.cfg)
	sw := &StreamWriter{s: s, w: newWriter(&s.cfg), dst: dst}
	if s.cfg.UseBuffering {
		sw.scratch = NewByteBuffer(nil)
	}
	return sw, nil
}

func (sw *StreamWriter) target() *ByteBuffer {
	if sw.scratch != nil {
		return sw.scratch
	}
	return sw.dst
}

// WriteObject encodes one root; reference and type tables persist between
// calls.
func (sw *StreamWriter) WriteObject(root interface{}) error {
	return sw.s.fail(sw.w.WriteGraph(sw.target(), root))
}

// Flush forces buffered bytes out to the bound stream.
func (sw *StreamWriter) Flush() {
	if sw.scratch != nil && sw.scratch.WriterIndex() > 0 {
		sw.dst.Write(sw.scratch.Bytes())
		sw.scratch.Reset()
	}
}

// Rebind flushes and rebinds the handle to a new stream, preserving the
// reference and type tables; the new stream gets its own header.
func (sw *StreamWriter) Rebind(dst *ByteBuffer) {
	sw.Flush()
	sw.dst = dst
	writeHeader(dst, &sw.s.cfg)
}

// StreamReader is the open-stream read handle: repeated ReadObject calls
// share the id and type mapping built by earlier calls on the same
// stream.
type StreamReader struct {
	s                 *Session
	r                 *Reader
	buf               *ByteBuffer
	metadata          []byte
	metadataAmbiguous bool
}

// OpenReader validates the header (and optional metadata block) of data
// and returns a handle for repeated root reads.
func (s *Session) OpenReader(data []byte) (*StreamReader, error) {
	if s.cfg.DeserializationMethod == Generated {
		return nil, s.fail(fmt.Errorf("loom: %w: generated deserialization back-end", ErrNotImplemented))
	}
	buf := NewByteBuffer(data)
	if err := readHeader(buf, &s.cfg); err != nil {
		return nil, s.fail(err)
	}
	meta, rejected := readMetadata(buf)
	return &StreamReader{s: s, r: newReader(&s.cfg), buf: buf, metadata: meta, metadataAmbiguous: rejected}, nil
}

// Metadata returns the metadata block read at open, nil when absent.
func (sr *StreamReader) Metadata() []byte { return sr.metadata }

// LastMetadataAmbiguous reports whether a candidate metadata block was
// rejected and rewound, which is indistinguishable from a body that
// happens to begin with a plausible length byte.
func (sr *StreamReader) LastMetadataAmbiguous() bool { return sr.metadataAmbiguous }

// More reports whether unread bytes remain.
func (sr *StreamReader) More() bool { return sr.buf.Remaining() > 0 }

// ReadObject decodes one root into v (a non-nil pointer).
func (sr *StreamReader) ReadObject(v interface{}) error {
	return sr.s.fail(sr.s.readRootInto(sr.r, sr.buf, v))
}

// Rebind attaches the handle to a new stream, preserving the id and type
// mapping; the new stream must carry its own valid header.
func (sr *StreamReader) Rebind(data []byte) error {
	buf := NewByteBuffer(data)
	if err := readHeader(buf, &sr.s.cfg); err != nil {
		return sr.s.fail(err)
	}
	meta, rejected := readMetadata(buf)
	sr.buf = buf
	sr.metadata = meta
	sr.metadataAmbiguous = rejected
	return nil
}

// ReadMany decodes roots until end-of-stream and returns them together
// once all are read; it does not yield roots one at a time. Only legal
// with buffering disabled.
func ReadMany[T any](sr *StreamReader) ([]T, error) {
	if sr.s.cfg.UseBuffering {
		return nil, sr.s.fail(fmt.Errorf("loom: %w: ReadMany requires buffering disabled", ErrInvalidOperation))
	}
	var out []T
	for sr.More() {
		var v T
		if err := sr.ReadObject(&v); err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ---- header and metadata framing ----

func writeHeader(buf *ByteBuffer, cfg *Config) {
	buf.WriteByte_(magic0)
	buf.WriteByte_(magic1)
	buf.WriteByte_(magic2)
	buf.WriteByte_(streamVersion)
	if cfg.ReferencePreservation != DoNotPreserve {
		buf.WriteByte_(1)
	} else {
		buf.WriteByte_(0)
	}
	if cfg.DisableTypeStamping {
		buf.WriteByte_(0)
	} else {
		buf.WriteByte_(1)
	}
}

func readHeader(buf *ByteBuffer, cfg *Config) error {
	b0, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	b1, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	b2, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	if b0 != magic0 || b1 != magic1 || b2 != magic2 {
		return fmt.Errorf("loom: %w: %02x %02x %02x", ErrWrongMagic, b0, b1, b2)
	}
	version, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	if version != streamVersion {
		return fmt.Errorf("loom: %w: stream version %d, core version %d", ErrWrongVersion, version, streamVersion)
	}
	refByte, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	stampByte, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	wantRefs := cfg.ReferencePreservation != DoNotPreserve
	if (refByte == 1) != wantRefs {
		return fmt.Errorf("loom: %w: reference preservation flag %d", ErrWrongStreamConfig, refByte)
	}
	if (stampByte == 1) != !cfg.DisableTypeStamping {
		return fmt.Errorf("loom: %w: type stamping flag %d", ErrWrongStreamConfig, stampByte)
	}
	return nil
}

func writeMetadata(buf *ByteBuffer, metadata []byte) error {
	if len(metadata) == 0 || len(metadata) > maxMetadataLen {
		return fmt.Errorf("loom: %w: metadata length %d not in 1..%d", ErrArgumentOutOfRange, len(metadata), maxMetadataLen)
	}
	buf.WriteByte_(byte(len(metadata)))
	buf.Write(metadata)
	var sum byte
	for _, b := range metadata {
		sum ^= b
	}
	buf.WriteByte_(sum)
	return nil
}

// readMetadata attempts to parse an optional metadata block. Any failure
// (zero length, truncation, checksum mismatch) rewinds the stream and
// reports the block absent, so old-format streams without metadata stay
// readable. The boolean reports whether a candidate block was rejected,
// which is observable via StreamReader.LastMetadataAmbiguous.
func readMetadata(buf *ByteBuffer) ([]byte, bool) {
	pos := buf.ReaderIndex()
	b, ok := buf.PeekByte()
	if !ok {
		return nil, false
	}
	length := int(b)
	if length == 0 {
		// Length 0 is defined invalid; indistinguishable from a body that
		// happens to start with a zero byte.
		return nil, true
	}
	_, _ = buf.ReadByte_()
	payload, err := buf.ReadN(length)
	if err != nil {
		buf.Rewind(pos)
		return nil, true
	}
	sum, err := buf.ReadByte_()
	if err != nil {
		buf.Rewind(pos)
		return nil, true
	}
	var x byte
	for _, c := range payload {
		x ^= c
	}
	if x != sum {
		buf.Rewind(pos)
		return nil, true
	}
	return payload, false
}

// ---- error classification ----

// Outcome is the discriminated classification of a read/write result.
type Outcome int

const (
	Ok Outcome = iota
	OutcomeWrongMagic
	OutcomeWrongVersion
	OutcomeWrongStreamConfiguration
	OutcomeMetadataCorrupted
	OutcomeStreamTruncated
	OutcomeStreamCorrupted
	OutcomeTypeStructureChanged
	OutcomeInvalidOperation
	OutcomeArgumentOutOfRange
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "Ok"
	case OutcomeWrongMagic:
		return "WrongMagic"
	case OutcomeWrongVersion:
		return "WrongVersion"
	case OutcomeWrongStreamConfiguration:
		return "WrongStreamConfiguration"
	case OutcomeMetadataCorrupted:
		return "MetadataCorrupted"
	case OutcomeStreamTruncated:
		return "StreamTruncated"
	case OutcomeStreamCorrupted:
		return "StreamCorrupted"
	case OutcomeTypeStructureChanged:
		return "TypeStructureChanged"
	case OutcomeInvalidOperation:
		return "InvalidOperation"
	case OutcomeArgumentOutOfRange:
		return "ArgumentOutOfRange"
	default:
		return "Failed"
	}
}

// Classify maps an error to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ok
	case errors.Is(err, ErrWrongMagic):
		return OutcomeWrongMagic
	case errors.Is(err, ErrWrongVersion):
		return OutcomeWrongVersion
	case errors.Is(err, ErrWrongStreamConfig):
		return OutcomeWrongStreamConfiguration
	case errors.Is(err, ErrMetadataCorrupted):
		return OutcomeMetadataCorrupted
	case errors.Is(err, ErrStreamTruncated):
		return OutcomeStreamTruncated
	case errors.Is(err, ErrStreamCorrupted):
		return OutcomeStreamCorrupted
	case errors.Is(err, ErrTypeStructureChanged):
		return OutcomeTypeStructureChanged
	case errors.Is(err, ErrInvalidOperation):
		return OutcomeInvalidOperation
	case errors.Is(err, ErrArgumentOutOfRange):
		return OutcomeArgumentOutOfRange
	default:
		return OutcomeFailed
	}
}
