package loom

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type orderedA struct {
	Alpha int32
	Beta  string
	Gamma float64
}

type orderedB struct {
	Gamma float64
	Alpha int32
	Beta  string
}

func TestFingerprintIgnoresDeclarationOrder(t *testing.T) {
	tt := newTypeTable()
	da, err := buildTypeDescriptor(tt, reflect.TypeOf(orderedA{}))
	require.NoError(t, err)
	db, err := buildTypeDescriptor(tt, reflect.TypeOf(orderedB{}))
	require.NoError(t, err)
	require.Equal(t, da.Fingerprint, db.Fingerprint)

	// Fields are carried ascending by name regardless of source order.
	names := func(td *TypeDescriptor) []string {
		var out []string
		for _, f := range td.Fields {
			out = append(out, f.Name)
		}
		return out
	}
	require.Equal(t, []string{"Alpha", "Beta", "Gamma"}, names(da))
	require.Equal(t, names(da), names(db))
}

type stampBase struct {
	ID int64
}

type stampDerived struct {
	stampBase
	Label string
}

func TestEmbeddedStructBecomesBaseType(t *testing.T) {
	tt := newTypeTable()
	td, err := buildTypeDescriptor(tt, reflect.TypeOf(stampDerived{}))
	require.NoError(t, err)
	require.Len(t, td.BaseTypes, 1)
	require.Contains(t, td.BaseTypes[0].Name, "stampBase")

	// Promoted fields appear in the flattened, sorted list.
	require.Len(t, td.Fields, 2)
	require.Equal(t, "ID", td.Fields[0].Name)
	require.Equal(t, "Label", td.Fields[1].Name)
	require.Equal(t, td.BaseTypes[0], td.Fields[0].DeclaringType)
}

type selfRef struct {
	Next  *selfRef
	Value int32
}

func TestStampRoundTripOnWire(t *testing.T) {
	wtt := newTypeTable()
	td, err := buildTypeDescriptor(wtt, reflect.TypeOf(selfRef{}))
	require.NoError(t, err)

	buf := NewByteBuffer(nil)
	id, err := wtt.ensureWriteStamp(buf, td)
	require.NoError(t, err)
	require.Equal(t, firstDynamicTypeID, id)

	// A second reference to the same type is id-only.
	before := buf.WriterIndex()
	id2, err := wtt.ensureWriteStamp(buf, td)
	require.NoError(t, err)
	require.Equal(t, id, id2)
	require.Equal(t, before+1, buf.WriterIndex())

	rtt := newTypeTable()
	raw, err := buf.ReadVarInt64()
	require.NoError(t, err)
	got, err := rtt.resolveOrReadStamp(buf, TypeID(raw))
	require.NoError(t, err)
	require.Equal(t, td.Name, got.Name)
	require.Equal(t, td.ModuleID, got.ModuleID)
	require.Equal(t, td.Fingerprint, got.Fingerprint)
	require.Len(t, got.Fields, 2)
	require.Equal(t, "Next", got.Fields[0].Name)
	require.True(t, got.Fields[0].Type.Ptr)
	require.Same(t, got, got.Fields[0].Type.Desc)
	require.Equal(t, TypeInt32, got.Fields[1].Type.Tag)
}

func TestCollectionClassification(t *testing.T) {
	kind, elem, _ := classifyCollection(reflect.TypeOf([]int32{}))
	require.Equal(t, Sequence, kind)
	require.Equal(t, reflect.TypeOf(int32(0)), elem)

	kind, elem, _ = classifyCollection(reflect.TypeOf(map[string]struct{}{}))
	require.Equal(t, Set, kind)
	require.Equal(t, reflect.TypeOf(""), elem)

	kind, elem, key := classifyCollection(reflect.TypeOf(map[string]int64{}))
	require.Equal(t, Mapping, kind)
	require.Equal(t, reflect.TypeOf(int64(0)), elem)
	require.Equal(t, reflect.TypeOf(""), key)

	kind, _, _ = classifyCollection(reflect.TypeOf(struct{}{}))
	require.Equal(t, NotCollection, kind)

	require.False(t, elementTypeIsSealed(reflect.TypeOf((*interface{})(nil)).Elem()))
	require.True(t, elementTypeIsSealed(reflect.TypeOf(int32(0))))
}
