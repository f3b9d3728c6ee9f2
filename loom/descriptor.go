package loom

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/spaolacci/murmur3"
)

// TypeDescriptor is a type stamp: fully-qualified name, module tag,
// base-type chain, and a flattened field list sorted ascending by name
// with a structural fingerprint over it. Sorting makes the layout
// insensitive to source declaration order.
type TypeDescriptor struct {
	Name        string
	ModuleID    [16]byte
	Fingerprint uint64
	BaseTypes   []*TypeDescriptor // immediate embedded-struct ancestors, declaration order
	Fields      []FieldDescriptor // own + promoted-from-embeds fields, ascending by Name
	GoType      reflect.Type      // set when built from reflection; nil for stamps parsed from a stream

	// synthetic marks a descriptor created on the read side of a stream
	// written with type stamping disabled: only the id crossed the wire,
	// so the structural description must come from the local type.
	synthetic bool
}

// FieldDescriptor is one entry of a stamp's field list.
type FieldDescriptor struct {
	Name          string
	DeclaringType *TypeDescriptor
	Type          *FieldTypeRef
}

// FieldTypeRef is a field's declared type: a fixed primitive/collection
// tag, a recursively-described collection, or a reference to another
// struct's TypeDescriptor.
type FieldTypeRef struct {
	Tag  TypeID
	Desc *TypeDescriptor // set for struct types (Tag is the stream type-id when parsed, TypeNull when built by reflection)
	Ptr  bool            // true when the field's declared Go type is *T, not T
	Elem *FieldTypeRef   // Sequence/Set element type, or Mapping value type
	Key  *FieldTypeRef   // Mapping key type
}

// TypeDynamic marks a field whose static type is an interface: its actual
// type is resolved per-instance at write time, the same way a polymorphic
// field is handled by fory's DynamicFieldType.
const TypeDynamic TypeID = -1

// typeTable assigns stream-local type-ids on first sight and remembers
// which ids have already had their stamp emitted or parsed. Stamps are
// written eagerly and inline at the point of first use, never batched;
// object headers, base-type references, and field-type references all go
// through the same table. Ids are not portable across sessions.
type typeTable struct {
	idByGoType    map[reflect.Type]TypeID
	byID          []*TypeDescriptor // index 0..firstDynamicTypeID-1 unused
	nextID        TypeID
	localByGoType map[reflect.Type]*TypeDescriptor // structural cache, reflection side

	// stampingDisabled suppresses stamp bodies on the wire (only ids
	// cross); the surrogate registry, when present, forces fields whose
	// type has a registered substitution into dynamic slots so the
	// substitute's own framing travels with the record instead of a stamp
	// describing the original type.
	stampingDisabled bool
	surrogates       *surrogateRegistry
}

func newTypeTable() *typeTable {
	tt := &typeTable{
		idByGoType:    make(map[reflect.Type]TypeID),
		nextID:        firstDynamicTypeID,
		localByGoType: make(map[reflect.Type]*TypeDescriptor),
	}
	tt.byID = make([]*TypeDescriptor, firstDynamicTypeID)
	return tt
}

func (tt *typeTable) reset() {
	tt.idByGoType = make(map[reflect.Type]TypeID)
	tt.byID = make([]*TypeDescriptor, firstDynamicTypeID)
	tt.nextID = firstDynamicTypeID
	// localByGoType (the pure-reflection structural cache) is intentionally
	// NOT cleared: structural descriptors don't change across sessions for
	// the same running process, only stream-local id assignment does.
}

func (tt *typeTable) ensureID(td *TypeDescriptor) (TypeID, bool) {
	if td.GoType != nil {
		if id, ok := tt.idByGoType[td.GoType]; ok {
			return id, false
		}
	}
	id := tt.nextID
	tt.nextID++
	if td.GoType != nil {
		tt.idByGoType[td.GoType] = id
	}
	tt.growByID(id)
	tt.byID[id] = td
	return id, true
}

func (tt *typeTable) growByID(id TypeID) {
	for TypeID(len(tt.byID)) <= id {
		tt.byID = append(tt.byID, nil)
	}
}

// ensureWriteStamp writes a type reference: the assigned id, followed by
// the full stamp body the first time that id is used.
func (tt *typeTable) ensureWriteStamp(buf *ByteBuffer, td *TypeDescriptor) (TypeID, error) {
	id, isNew := tt.ensureID(td)
	buf.WriteVarInt64(int64(id))
	if !isNew || tt.stampingDisabled {
		return id, nil
	}
	if err := tt.writeStampBody(buf, td); err != nil {
		return id, err
	}
	return id, nil
}

func (tt *typeTable) writeStampBody(buf *ByteBuffer, td *TypeDescriptor) error {
	buf.WriteString(td.Name)
	buf.Write(td.ModuleID[:])
	buf.WriteVarUint64(td.Fingerprint)
	buf.WriteVarUint64(uint64(len(td.BaseTypes)))
	for _, bt := range td.BaseTypes {
		if _, err := tt.ensureWriteStamp(buf, bt); err != nil {
			return err
		}
	}
	buf.WriteVarUint64(uint64(len(td.Fields)))
	for _, f := range td.Fields {
		buf.WriteString(f.Name)
		if _, err := tt.ensureWriteStamp(buf, f.DeclaringType); err != nil {
			return err
		}
		if err := tt.writeFieldTypeRef(buf, f.Type); err != nil {
			return err
		}
	}
	return nil
}

func (tt *typeTable) writeFieldTypeRef(buf *ByteBuffer, f *FieldTypeRef) error {
	switch {
	case f.Tag == TypeSequence || f.Tag == TypeSet:
		buf.WriteVarInt64(int64(f.Tag))
		return tt.writeFieldTypeRef(buf, f.Elem)
	case f.Tag == TypeMapping:
		buf.WriteVarInt64(int64(f.Tag))
		if err := tt.writeFieldTypeRef(buf, f.Key); err != nil {
			return err
		}
		return tt.writeFieldTypeRef(buf, f.Elem)
	case f.Desc != nil:
		if f.Ptr {
			buf.WriteVarInt64(int64(TypePointer))
		}
		_, err := tt.ensureWriteStamp(buf, f.Desc)
		return err
	default:
		buf.WriteVarInt64(int64(f.Tag))
		return nil
	}
}

// resolveOrReadStamp resolves a type-id already read from the wire to its
// TypeDescriptor, parsing the stamp body on first sight. The slot is
// reserved before recursing so self-referential struct graphs (a Node
// whose field type references Node itself) terminate correctly.
func (tt *typeTable) resolveOrReadStamp(buf *ByteBuffer, id TypeID) (*TypeDescriptor, error) {
	if int(id) < len(tt.byID) && tt.byID[id] != nil {
		return tt.byID[id], nil
	}
	if id < firstDynamicTypeID {
		return nil, fmt.Errorf("loom: %w: primitive type-id %d has no stamp", ErrStreamCorrupted, id)
	}
	td := &TypeDescriptor{}
	tt.growByID(id)
	tt.byID[id] = td
	if tt.stampingDisabled {
		td.synthetic = true
		return td, nil
	}
	if err := tt.readStampBody(buf, td); err != nil {
		return nil, err
	}
	return td, nil
}

func (tt *typeTable) readStampBody(buf *ByteBuffer, td *TypeDescriptor) error {
	name, err := buf.ReadString()
	if err != nil {
		return err
	}
	td.Name = name
	modBytes, err := buf.ReadN(16)
	if err != nil {
		return err
	}
	copy(td.ModuleID[:], modBytes)
	fp, err := buf.ReadVarUint64()
	if err != nil {
		return err
	}
	td.Fingerprint = fp

	baseCount, err := buf.ReadVarUint64()
	if err != nil {
		return err
	}
	td.BaseTypes = make([]*TypeDescriptor, baseCount)
	for i := range td.BaseTypes {
		id, err := buf.ReadVarInt64()
		if err != nil {
			return err
		}
		bt, err := tt.resolveOrReadStamp(buf, TypeID(id))
		if err != nil {
			return err
		}
		td.BaseTypes[i] = bt
	}

	fieldCount, err := buf.ReadVarUint64()
	if err != nil {
		return err
	}
	td.Fields = make([]FieldDescriptor, fieldCount)
	for i := range td.Fields {
		fname, err := buf.ReadString()
		if err != nil {
			return err
		}
		declID, err := buf.ReadVarInt64()
		if err != nil {
			return err
		}
		declType, err := tt.resolveOrReadStamp(buf, TypeID(declID))
		if err != nil {
			return err
		}
		ftype, err := tt.readFieldTypeRef(buf)
		if err != nil {
			return err
		}
		td.Fields[i] = FieldDescriptor{Name: fname, DeclaringType: declType, Type: ftype}
	}
	return nil
}

func (tt *typeTable) readFieldTypeRef(buf *ByteBuffer) (*FieldTypeRef, error) {
	raw, err := buf.ReadVarInt64()
	if err != nil {
		return nil, err
	}
	tag := TypeID(raw)
	switch {
	case tag == TypeSequence || tag == TypeSet:
		elem, err := tt.readFieldTypeRef(buf)
		if err != nil {
			return nil, err
		}
		return &FieldTypeRef{Tag: tag, Elem: elem}, nil
	case tag == TypeMapping:
		key, err := tt.readFieldTypeRef(buf)
		if err != nil {
			return nil, err
		}
		elem, err := tt.readFieldTypeRef(buf)
		if err != nil {
			return nil, err
		}
		return &FieldTypeRef{Tag: tag, Key: key, Elem: elem}, nil
	case tag == TypePointer:
		inner, err := tt.readFieldTypeRef(buf)
		if err != nil {
			return nil, err
		}
		if inner.Desc == nil {
			return nil, fmt.Errorf("loom: %w: pointer marker not followed by a struct type", ErrStreamCorrupted)
		}
		inner.Ptr = true
		return inner, nil
	case tag >= firstDynamicTypeID:
		desc, err := tt.resolveOrReadStamp(buf, tag)
		if err != nil {
			return nil, err
		}
		return &FieldTypeRef{Tag: tag, Desc: desc}, nil
	default:
		return &FieldTypeRef{Tag: tag}, nil
	}
}

// ---- building TypeDescriptors from reflection (write side) ----

func qualifiedName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

const moduleIDSeedLo, moduleIDSeedHi = 0, 1

func deriveModuleID(t reflect.Type) [16]byte {
	key := []byte(qualifiedName(t))
	lo := murmur3.Sum64WithSeed(key, moduleIDSeedLo)
	hi := murmur3.Sum64WithSeed(key, moduleIDSeedHi)
	var id [16]byte
	for i := 0; i < 8; i++ {
		id[i] = byte(lo >> (8 * i))
		id[8+i] = byte(hi >> (8 * i))
	}
	return id
}

const fingerprintSeed = 47

func computeFingerprint(fields []FieldDescriptor) uint64 {
	buf := NewByteBuffer(nil)
	for _, f := range fields {
		buf.WriteString(f.Name)
		writeFieldTypeSignature(buf, f.Type)
	}
	return murmur3.Sum64WithSeed(buf.Bytes(), fingerprintSeed)
}

// writeFieldTypeSignature appends a structural signature for a field type
// used only for fingerprinting, never emitted on the wire.
func writeFieldTypeSignature(buf *ByteBuffer, f *FieldTypeRef) {
	buf.WriteVarInt64(int64(f.Tag))
	buf.WriteBool(f.Ptr)
	switch {
	case f.Desc != nil:
		buf.WriteVarUint64(f.Desc.Fingerprint)
	case f.Elem != nil:
		writeFieldTypeSignature(buf, f.Elem)
	}
	if f.Key != nil {
		writeFieldTypeSignature(buf, f.Key)
	}
}

// buildTypeDescriptor reflects over t (a struct type) and returns its
// (cached) structural TypeDescriptor. Anonymous embedded struct fields
// become BaseTypes, and their fields are promoted into this type's own
// flattened, sorted Fields list, the Go analogue of flattening a CLR
// inheritance chain's instance fields into one member list.
func buildTypeDescriptor(tt *typeTable, t reflect.Type) (*TypeDescriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("loom: %w: %s is not a struct type", ErrInvalidOperation, t)
	}
	if cached, ok := tt.localByGoType[t]; ok {
		return cached, nil
	}
	td := &TypeDescriptor{Name: qualifiedName(t), ModuleID: deriveModuleID(t), GoType: t}
	tt.localByGoType[t] = td // cache before recursing: breaks self-embedding cycles

	var fields []FieldDescriptor
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			baseDesc, err := buildTypeDescriptor(tt, sf.Type)
			if err != nil {
				return nil, err
			}
			td.BaseTypes = append(td.BaseTypes, baseDesc)
			fields = append(fields, baseDesc.Fields...)
			continue
		}
		ftRef, err := buildFieldTypeRef(tt, sf.Type)
		if err != nil {
			return nil, fmt.Errorf("loom: field %s.%s: %w", t.Name(), sf.Name, err)
		}
		fields = append(fields, FieldDescriptor{Name: sf.Name, DeclaringType: td, Type: ftRef})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	td.Fields = fields
	td.Fingerprint = computeFingerprint(fields)
	return td, nil
}

func buildFieldTypeRef(tt *typeTable, ft reflect.Type) (*FieldTypeRef, error) {
	switch {
	case ft == timeType:
		return &FieldTypeRef{Tag: TypeTime}, nil
	case ft == decimalType:
		return &FieldTypeRef{Tag: TypeDecimal}, nil
	case ft == byteSliceType:
		return &FieldTypeRef{Tag: TypeBytes}, nil
	case ft.Kind() == reflect.Interface:
		return &FieldTypeRef{Tag: TypeDynamic}, nil
	}
	if tag, ok := primitiveTagForKind(ft.Kind()); ok {
		return &FieldTypeRef{Tag: tag}, nil
	}
	// A type with a registered surrogate is stamped as a dynamic slot: the
	// substitute's record carries its own framing, so the stamp must not
	// commit to the original type's layout, which may not even be walkable
	// by reflection.
	if tt.surrogates != nil && tt.surrogates.lookup(ft) != nil {
		return &FieldTypeRef{Tag: TypeDynamic}, nil
	}
	if kind, elem, key := classifyCollection(ft); kind != NotCollection {
		elemRef, err := buildFieldTypeRef(tt, elem)
		if err != nil {
			return nil, err
		}
		if kind == Mapping {
			keyRef, err := buildFieldTypeRef(tt, key)
			if err != nil {
				return nil, err
			}
			return &FieldTypeRef{Tag: TypeMapping, Key: keyRef, Elem: elemRef}, nil
		}
		return &FieldTypeRef{Tag: kind.typeID(), Elem: elemRef}, nil
	}
	isPtr := ft.Kind() == reflect.Ptr
	elemType := ft
	if isPtr {
		elemType = ft.Elem()
	}
	if elemType.Kind() == reflect.Ptr {
		return nil, fmt.Errorf("loom: %w: multi-level pointer %s", ErrInvalidOperation, ft)
	}
	if elemType.Kind() == reflect.Struct {
		desc, err := buildTypeDescriptor(tt, elemType)
		if err != nil {
			return nil, err
		}
		return &FieldTypeRef{Desc: desc, Ptr: isPtr}, nil
	}
	return nil, fmt.Errorf("loom: %w: unsupported field kind %s", ErrInvalidOperation, ft.Kind())
}
