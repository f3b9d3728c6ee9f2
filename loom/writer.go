package loom

import (
	"fmt"
	"reflect"
)

// Writer encodes object graphs: it walks a value's fields in stamp order,
// substitutes surrogates, tracks references, and drains a breadth-first
// queue of newly-discovered objects rather than recursing naively, so
// cyclic and deeply-diamond-shaped graphs terminate without unbounded
// stack growth.
type Writer struct {
	cfg       *Config
	types     *typeTable
	refs      *refTable
	fieldIdx  map[reflect.Type]map[string]localFieldEntry
	processed int
	depth     int

	// rootStruct is the single struct type permitted in a stream written
	// with type stamping disabled; a second distinct type is an error.
	rootStruct reflect.Type
}

type localFieldEntry struct {
	field reflect.StructField
	index []int
}

func newWriter(cfg *Config) *Writer {
	tt := newTypeTable()
	tt.stampingDisabled = cfg.DisableTypeStamping
	tt.surrogates = cfg.surrogate
	return &Writer{
		cfg:      cfg,
		types:    tt,
		refs:     newRefTable(cfg.ReferencePreservation),
		fieldIdx: make(map[reflect.Type]map[string]localFieldEntry),
	}
}

func (w *Writer) reset() {
	w.types.reset()
	w.refs = newRefTable(w.cfg.ReferencePreservation)
	w.processed = 0
	w.depth = 0
	w.rootStruct = nil
}

func (w *Writer) fieldIndexFor(t reflect.Type) map[string]localFieldEntry {
	if m, ok := w.fieldIdx[t]; ok {
		return m
	}
	m := make(map[string]localFieldEntry)
	for name, e := range localFieldIndex(t) {
		m[name] = localFieldEntry{field: e.field, index: e.index}
	}
	w.fieldIdx[t] = m
	return m
}

// WriteGraph writes one full object graph to buf: the root reference slot,
// followed by every object it (transitively) reaches, each as a
// self-describing record in discovery order.
func (w *Writer) WriteGraph(buf *ByteBuffer, root interface{}) error {
	rv := reflect.ValueOf(root)
	if w.cfg.ReferencePreservation == DoNotPreserve {
		// Without reference tracking a cycle would enqueue forever; reject
		// it before touching the stream.
		if err := detectCycles(rv); err != nil {
			return err
		}
	}
	id, err := w.writeRootRef(rv)
	if err != nil {
		return err
	}
	buf.WriteVarInt64(id)
	return w.drain(buf)
}

func (w *Writer) writeRootRef(rv reflect.Value) (int64, error) {
	if !rv.IsValid() || isNilRef(rv) {
		return -1, nil
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		id, _, _, err := w.refs.assignOrFetch(rv)
		return id, err
	default:
		return w.refs.assignOrFetchDynamic(rv), nil
	}
}

func (w *Writer) drain(buf *ByteBuffer) error {
	for {
		item, idx, more := w.refs.drainQueued(w.processed)
		if !more {
			return nil
		}
		w.processed = idx
		if err := w.writeDynamicTagged(buf, item); err != nil {
			return err
		}
	}
}

// detectCycles walks the graph depth-first with an on-path set, the check
// that replaces reference tracking's natural cycle handling when the
// caller opted out of preservation.
func detectCycles(root reflect.Value) error {
	onPath := make(map[refKey]bool)
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		if !v.IsValid() || isNilRef(v) {
			return nil
		}
		key, tracked := identityKey(v)
		if tracked {
			if onPath[key] {
				return fmt.Errorf("loom: %w: cyclic reference with ReferencePreservation=DoNotPreserve", ErrInvalidOperation)
			}
			onPath[key] = true
		}
		var err error
		switch v.Kind() {
		case reflect.Ptr, reflect.Interface:
			err = walk(v.Elem())
		case reflect.Struct:
			for i := 0; i < v.NumField() && err == nil; i++ {
				sf := v.Type().Field(i)
				if !sf.IsExported() && !sf.Anonymous {
					continue
				}
				err = walk(v.Field(i))
			}
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len() && err == nil; i++ {
				err = walk(v.Index(i))
			}
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() && err == nil {
				if err = walk(iter.Key()); err == nil {
					err = walk(iter.Value())
				}
			}
		}
		if tracked {
			delete(onPath, key)
		}
		return err
	}
	return walk(root)
}

// writeDynamicTagged writes a self-describing record: a type tag
// (+ stamp, the first time that type is used) followed by the value's
// body. Used for queued records, interface-typed field targets, and
// surrogate substitutes, anywhere the reader cannot already infer the
// type from surrounding static context.
func (w *Writer) writeDynamicTagged(buf *ByteBuffer, v reflect.Value) error {
	if c := w.cfg.surrogate.lookup(v.Type()); c != nil {
		sub, err := c.toWire(v)
		if err != nil {
			return err
		}
		// An identity substitution (time.Time) falls through to its native
		// framing; anything else restarts dispatch on the substitute.
		if sub.Type() != v.Type() {
			return w.writeDynamicTagged(buf, sub)
		}
	}
	ft, err := buildFieldTypeRef(w.types, v.Type())
	if err != nil {
		return err
	}
	if ft.Tag == TypeDynamic {
		return fmt.Errorf("loom: %w: %s", ErrNoSerializerForType, v.Type())
	}
	return w.writeTaggedByRef(buf, v, ft)
}

// writeTaggedByRef writes a self-describing record: its type framing
// (stamped struct id, or collection kind plus element framing, or a
// primitive tag) followed by the body. Every queued record decodes
// standalone; the reader needs the referencing field's context only to
// pick a local type for it.
func (w *Writer) writeTaggedByRef(buf *ByteBuffer, v reflect.Value, ft *FieldTypeRef) error {
	switch {
	case ft.Desc != nil:
		if w.cfg.DisableTypeStamping {
			if w.rootStruct == nil {
				w.rootStruct = ft.Desc.GoType
			} else if w.rootStruct != ft.Desc.GoType {
				return fmt.Errorf("loom: %w: %s after %s", ErrHeterogeneousStream, ft.Desc.GoType, w.rootStruct)
			}
		}
		if _, err := w.types.ensureWriteStamp(buf, ft.Desc); err != nil {
			return err
		}
		return w.writeStructFields(buf, v, ft.Desc)
	case ft.Tag == TypeSequence:
		buf.WriteVarInt64(int64(TypeSequence))
		if err := w.types.writeFieldTypeRef(buf, ft.Elem); err != nil {
			return err
		}
		return w.writeSequenceBody(buf, v, ft.Elem)
	case ft.Tag == TypeSet:
		buf.WriteVarInt64(int64(TypeSet))
		if err := w.types.writeFieldTypeRef(buf, ft.Elem); err != nil {
			return err
		}
		return w.writeSetBody(buf, v, ft.Elem)
	case ft.Tag == TypeMapping:
		buf.WriteVarInt64(int64(TypeMapping))
		if err := w.types.writeFieldTypeRef(buf, ft.Key); err != nil {
			return err
		}
		if err := w.types.writeFieldTypeRef(buf, ft.Elem); err != nil {
			return err
		}
		return w.writeMappingBody(buf, v, ft.Key, ft.Elem)
	default:
		buf.WriteVarInt64(int64(ft.Tag))
		return writePrimitiveValue(buf, ft.Tag, v)
	}
}

// writeFieldValue writes one struct field whose declared type ft is known
// statically from the enclosing stamp. No tag is emitted for inline
// (value-kind) struct fields or primitives, since the stamp already told
// the reader what to expect; only reference-kind fields need an id.
func (w *Writer) writeFieldValue(buf *ByteBuffer, v reflect.Value, ft *FieldTypeRef) error {
	switch {
	case ft.Tag == TypeDynamic:
		return w.writeDynamicField(buf, v)
	case ft.Desc != nil && ft.Ptr:
		return w.writeTrackedRef(buf, v)
	case ft.Desc != nil:
		return w.writeInlineStructField(buf, v, ft.Desc)
	case ft.Tag == TypeSequence, ft.Tag == TypeSet, ft.Tag == TypeMapping:
		return w.writeTrackedRef(buf, v)
	default:
		return writePrimitiveValue(buf, ft.Tag, v)
	}
}

// writeInlineStructField writes a value-kind struct field's body in place.
// Surrogate-able types never reach here: the stamp already demoted them to
// dynamic slots.
func (w *Writer) writeInlineStructField(buf *ByteBuffer, v reflect.Value, desc *TypeDescriptor) error {
	if w.depth >= w.cfg.MaxDepth {
		return fmt.Errorf("loom: %w: max depth %d exceeded", ErrInvalidOperation, w.cfg.MaxDepth)
	}
	w.depth++
	err := w.writeStructFields(buf, v, desc)
	w.depth--
	return err
}

// writeTrackedRef writes a reference slot for a pointer, slice, or map
// field: -1 for nil, otherwise the assigned id. The referent's body is
// written later by drain, once per distinct referent.
func (w *Writer) writeTrackedRef(buf *ByteBuffer, v reflect.Value) error {
	if isNilRef(v) {
		buf.WriteVarInt64(-1)
		return nil
	}
	id, _, trackable, err := w.refs.assignOrFetch(v)
	if err != nil {
		return err
	}
	if !trackable {
		// No pointer identity (an array field, for instance): force a fresh
		// id so the value still travels as its own record.
		id = w.refs.assignOrFetchDynamic(v)
	}
	buf.WriteVarInt64(id)
	return nil
}

func (w *Writer) writeDynamicField(buf *ByteBuffer, v reflect.Value) error {
	if !v.IsValid() || isNilRef(v) {
		buf.WriteVarInt64(-1)
		return nil
	}
	concrete := v
	if v.Kind() == reflect.Interface {
		concrete = v.Elem()
	}
	id := w.refs.assignOrFetchDynamic(concrete)
	buf.WriteVarInt64(id)
	return nil
}

func hookArg(v reflect.Value) interface{} {
	if v.CanAddr() {
		return v.Addr().Interface()
	}
	return v.Interface()
}

func (w *Writer) writeStructFields(buf *ByteBuffer, v reflect.Value, desc *TypeDescriptor) error {
	hs := w.cfg.hookFor(desc.GoType)
	if hs != nil && hs.pre != nil {
		if err := hs.pre(hookArg(v)); err != nil {
			return err
		}
	}
	idx := w.fieldIndexFor(desc.GoType)
	for _, fd := range desc.Fields {
		entry, ok := idx[fd.Name]
		if !ok {
			return fmt.Errorf("loom: %w: descriptor field %q missing on %s", ErrInvalidOperation, fd.Name, desc.GoType)
		}
		fv := v.FieldByIndex(entry.index)
		if err := w.writeFieldValue(buf, fv, fd.Type); err != nil {
			return fmt.Errorf("loom: field %s.%s: %w", desc.Name, fd.Name, err)
		}
	}
	if hs != nil && hs.post != nil {
		return hs.post(hookArg(v))
	}
	return nil
}

func (w *Writer) writeSequenceBody(buf *ByteBuffer, v reflect.Value, elemRef *FieldTypeRef) error {
	n := v.Len()
	buf.WriteLength(n)
	for i := 0; i < n; i++ {
		ev := v.Index(i)
		if err := w.writeFieldValue(buf, ev, elemRef); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeSetBody(buf *ByteBuffer, v reflect.Value, elemRef *FieldTypeRef) error {
	keys := v.MapKeys()
	buf.WriteLength(len(keys))
	for _, k := range keys {
		if err := w.writeFieldValue(buf, k, elemRef); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeMappingBody(buf *ByteBuffer, v reflect.Value, keyRef, valRef *FieldTypeRef) error {
	keys := v.MapKeys()
	buf.WriteLength(len(keys))
	for _, k := range keys {
		if err := w.writeFieldValue(buf, k, keyRef); err != nil {
			return err
		}
		val := v.MapIndex(k)
		if err := w.writeFieldValue(buf, val, valRef); err != nil {
			return err
		}
	}
	return nil
}
