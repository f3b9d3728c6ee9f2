package loom

import (
	"fmt"
)

// StreamInfo is a structural summary of a loom stream, produced without
// any knowledge of local types: header fields, the metadata block, every
// type stamp encountered, and record counts. Reference ids are followed
// only far enough to walk record boundaries; no values are materialised.
type StreamInfo struct {
	Version             byte
	ReferencesPreserved bool
	TypeStamping        bool
	Metadata            []byte
	Roots               int
	Records             int
	Types               []TypeSummary
}

// TypeSummary is one stamp as it appeared on the wire.
type TypeSummary struct {
	ID          TypeID
	Name        string
	Fingerprint uint64
	Fields      []string
}

// Inspect walks a stream structurally. It requires type stamping to have
// been enabled on the writing session: without stamps there is no
// self-contained description of record layout to drive the walk.
func Inspect(data []byte) (*StreamInfo, error) {
	buf := NewByteBuffer(data)
	info := &StreamInfo{}

	b0, err := buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	b1, err := buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	b2, err := buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	if b0 != magic0 || b1 != magic1 || b2 != magic2 {
		return nil, fmt.Errorf("loom: %w: %02x %02x %02x", ErrWrongMagic, b0, b1, b2)
	}
	if info.Version, err = buf.ReadByte_(); err != nil {
		return nil, err
	}
	refByte, err := buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	stampByte, err := buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	info.ReferencesPreserved = refByte == 1
	info.TypeStamping = stampByte == 1
	if !info.TypeStamping {
		return nil, fmt.Errorf("loom: %w: cannot inspect a stream written without type stamps", ErrInvalidOperation)
	}
	info.Metadata, _ = readMetadata(buf)

	w := &inspectWalker{types: newTypeTable(), refs: newRefReader()}
	for buf.Remaining() > 0 {
		rootID, err := buf.ReadVarInt64()
		if err != nil {
			return nil, err
		}
		if rootID != -1 {
			if _, err := w.refs.readRef(rootID); err != nil {
				return nil, err
			}
		}
		for w.processed < w.refs.nextID {
			if err := w.walkRecord(buf); err != nil {
				return nil, err
			}
			w.processed++
			info.Records++
		}
		info.Roots++
	}

	for id := TypeID(firstDynamicTypeID); int(id) < len(w.types.byID); id++ {
		td := w.types.byID[id]
		if td == nil {
			continue
		}
		ts := TypeSummary{ID: id, Name: td.Name, Fingerprint: td.Fingerprint}
		for _, f := range td.Fields {
			ts.Fields = append(ts.Fields, f.Name)
		}
		info.Types = append(info.Types, ts)
	}
	return info, nil
}

// inspectWalker is a value-free record walker: the stream-side stamps
// alone decide how many bytes each body occupies.
type inspectWalker struct {
	types     *typeTable
	refs      *refReader
	processed int64
}

func (w *inspectWalker) walkRecord(buf *ByteBuffer) error {
	raw, err := buf.ReadVarInt64()
	if err != nil {
		return err
	}
	tag := TypeID(raw)
	switch {
	case tag >= firstDynamicTypeID:
		td, err := w.types.resolveOrReadStamp(buf, tag)
		if err != nil {
			return err
		}
		return w.walkStructBody(buf, td)
	case tag == TypeSequence || tag == TypeSet:
		elem, err := w.types.readFieldTypeRef(buf)
		if err != nil {
			return err
		}
		n, err := buf.ReadLength()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := w.walkField(buf, elem); err != nil {
				return err
			}
		}
		return nil
	case tag == TypeMapping:
		key, err := w.types.readFieldTypeRef(buf)
		if err != nil {
			return err
		}
		val, err := w.types.readFieldTypeRef(buf)
		if err != nil {
			return err
		}
		n, err := buf.ReadLength()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := w.walkField(buf, key); err != nil {
				return err
			}
			if err := w.walkField(buf, val); err != nil {
				return err
			}
		}
		return nil
	case tag.isPrimitive():
		return skipPrimitiveValue(buf, tag)
	default:
		return fmt.Errorf("loom: %w: record with type tag %d", ErrStreamCorrupted, tag)
	}
}

func (w *inspectWalker) walkStructBody(buf *ByteBuffer, td *TypeDescriptor) error {
	for i := range td.Fields {
		if err := w.walkField(buf, td.Fields[i].Type); err != nil {
			return err
		}
	}
	return nil
}

func (w *inspectWalker) walkField(buf *ByteBuffer, ftr *FieldTypeRef) error {
	switch {
	case ftr.Tag == TypeDynamic,
		ftr.Desc != nil && ftr.Ptr,
		ftr.Tag == TypeSequence, ftr.Tag == TypeSet, ftr.Tag == TypeMapping:
		id, err := buf.ReadVarInt64()
		if err != nil {
			return err
		}
		if id == -1 {
			return nil
		}
		_, err = w.refs.readRef(id)
		return err
	case ftr.Desc != nil:
		return w.walkStructBody(buf, ftr.Desc)
	default:
		return skipPrimitiveValue(buf, ftr.Tag)
	}
}
