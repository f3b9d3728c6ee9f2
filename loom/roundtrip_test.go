package loom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scalarBag struct {
	B   bool
	I8  int8
	I16 int16
	I32 int32
	I64 int64
	U8  uint8
	U16 uint16
	U32 uint32
	U64 uint64
	F32 float32
	F64 float64
	S   string
	Raw []byte
	At  time.Time
	Dec Decimal128
}

func TestRoundTripScalars(t *testing.T) {
	s := New()
	in := scalarBag{
		B: true, I8: -8, I16: -1600, I32: -320000, I64: -64000000000,
		U8: 8, U16: 1600, U32: 320000, U64: 64000000000,
		F32: 1.5, F64: -2.75, S: "weave", Raw: []byte{9, 8, 7},
		At:  time.Date(2024, 11, 2, 3, 4, 5, 0, time.UTC),
		Dec: Decimal128{Lo: 42, Hi: 7},
	}
	data, err := s.Marshal(&in)
	require.NoError(t, err)

	var out *scalarBag
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, in.B, out.B)
	require.Equal(t, in.I64, out.I64)
	require.Equal(t, in.U64, out.U64)
	require.Equal(t, in.S, out.S)
	require.Equal(t, in.Raw, out.Raw)
	require.Equal(t, in.Dec, out.Dec)
	require.True(t, in.At.Equal(out.At))
	require.Equal(t, Ok, s.LastOutcome())
}

type pair struct {
	Left  *leaf
	Right *leaf
}

type leaf struct {
	Value int32
}

func TestSharedLeafPreservesIdentity(t *testing.T) {
	s := New()
	c := &leaf{Value: 7}
	in := &pair{Left: c, Right: c}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *pair
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, int32(7), out.Left.Value)
	require.Same(t, out.Left, out.Right)
}

func TestDistinctLeavesStayDistinct(t *testing.T) {
	s := New()
	in := &pair{Left: &leaf{Value: 1}, Right: &leaf{Value: 2}}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *pair
	require.NoError(t, s.Unmarshal(data, &out))
	require.NotSame(t, out.Left, out.Right)
	require.Equal(t, int32(1), out.Left.Value)
	require.Equal(t, int32(2), out.Right.Value)
}

type ringNode struct {
	Name string
	Next *ringNode
}

func TestCycleRoundTrip(t *testing.T) {
	s := New()
	a := &ringNode{Name: "a"}
	b := &ringNode{Name: "b"}
	a.Next, b.Next = b, a

	data, err := s.Marshal(a)
	require.NoError(t, err)

	var out *ringNode
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, "a", out.Name)
	require.Equal(t, "b", out.Next.Name)
	require.Same(t, out, out.Next.Next)
}

func TestSelfCycle(t *testing.T) {
	s := New()
	n := &ringNode{Name: "loop"}
	n.Next = n
	data, err := s.Marshal(n)
	require.NoError(t, err)

	var out *ringNode
	require.NoError(t, s.Unmarshal(data, &out))
	require.Same(t, out, out.Next)
}

func TestNilReferenceFields(t *testing.T) {
	s := New()
	in := &pair{Left: &leaf{Value: 3}}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *pair
	require.NoError(t, s.Unmarshal(data, &out))
	require.Nil(t, out.Right)
	require.Equal(t, int32(3), out.Left.Value)
}

func TestNilRoot(t *testing.T) {
	s := New()
	var in *pair
	data, err := s.Marshal(in)
	require.NoError(t, err)

	out := &pair{Left: &leaf{}}
	holder := &out
	require.NoError(t, s.Unmarshal(data, holder))
	require.Nil(t, *holder)
}

type inventory struct {
	Items   []string
	Counts  map[string]int64
	Tags    map[string]struct{}
	Fixed   [3]int32
	Nested  [][]int32
	Keyed   map[int32]*leaf
	Friends []*leaf
}

func TestCollectionsRoundTrip(t *testing.T) {
	s := New()
	shared := &leaf{Value: 11}
	in := &inventory{
		Items:   []string{"axe", "rope"},
		Counts:  map[string]int64{"axe": 1, "rope": 2},
		Tags:    map[string]struct{}{"camp": {}, "tools": {}},
		Fixed:   [3]int32{7, 8, 9},
		Nested:  [][]int32{{1}, {2, 3}},
		Keyed:   map[int32]*leaf{5: shared},
		Friends: []*leaf{shared, shared},
	}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *inventory
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, in.Items, out.Items)
	require.Equal(t, in.Counts, out.Counts)
	require.Equal(t, in.Tags, out.Tags)
	require.Equal(t, in.Fixed, out.Fixed)
	require.Equal(t, in.Nested, out.Nested)
	require.Equal(t, int32(11), out.Keyed[5].Value)
	require.Same(t, out.Friends[0], out.Friends[1])
	require.Same(t, out.Friends[0], out.Keyed[5])
}

func TestEmptyAndNilCollections(t *testing.T) {
	s := New()
	in := &inventory{Items: []string{}}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *inventory
	require.NoError(t, s.Unmarshal(data, &out))
	require.NotNil(t, out.Items)
	require.Len(t, out.Items, 0)
	require.Nil(t, out.Counts)
	require.Nil(t, out.Friends)
}

type innerPart struct {
	Label string
}

type outerPart struct {
	In    innerPart
	Count int32
}

func TestInlineStructField(t *testing.T) {
	s := New()
	in := &outerPart{In: innerPart{Label: "deep"}, Count: 4}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *outerPart
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, "deep", out.In.Label)
	require.Equal(t, int32(4), out.Count)
}

type baseRecord struct {
	ID int64
}

type derivedRecord struct {
	baseRecord
	Note string
}

func TestEmbeddedBaseRoundTrip(t *testing.T) {
	s := New()
	in := &derivedRecord{baseRecord: baseRecord{ID: 99}, Note: "promoted"}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *derivedRecord
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, int64(99), out.ID)
	require.Equal(t, "promoted", out.Note)
}

type dynBox struct {
	V interface{}
}

type point struct {
	X, Y int32
}

func TestDynamicFieldRoundTrip(t *testing.T) {
	s := New(WithRegisteredType(point{}))

	for _, in := range []interface{}{int64(12), "boxed", int32(-5)} {
		data, err := s.Marshal(&dynBox{V: in})
		require.NoError(t, err)
		var out *dynBox
		require.NoError(t, s.Unmarshal(data, &out))
		require.Equal(t, in, out.V)
	}

	data, err := s.Marshal(&dynBox{V: &point{X: 1, Y: 2}})
	require.NoError(t, err)
	var out *dynBox
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, &point{X: 1, Y: 2}, out.V)
}

func TestDynamicStructNeedsRegistration(t *testing.T) {
	w := New()
	data, err := w.Marshal(&dynBox{V: &point{X: 1}})
	require.NoError(t, err)

	r := New() // no WithRegisteredType
	var out *dynBox
	err = r.Unmarshal(data, &out)
	require.ErrorIs(t, err, ErrTypeStructureChanged)
	require.Equal(t, OutcomeTypeStructureChanged, r.LastOutcome())
}

func TestRootValueStruct(t *testing.T) {
	s := New()
	data, err := Serialize(s, leaf{Value: 21})
	require.NoError(t, err)

	out, err := Deserialize[leaf](s, data)
	require.NoError(t, err)
	require.Equal(t, int32(21), out.Value)
}

func TestRootPrimitiveAndCollections(t *testing.T) {
	s := New()

	data, err := Serialize(s, int32(123))
	require.NoError(t, err)
	n, err := Deserialize[int32](s, data)
	require.NoError(t, err)
	require.Equal(t, int32(123), n)

	data, err = Serialize(s, []string{"x", "y"})
	require.NoError(t, err)
	sl, err := Deserialize[[]string](s, data)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, sl)

	data, err = Serialize(s, map[string]int32{"k": 9})
	require.NoError(t, err)
	m, err := Deserialize[map[string]int32](s, data)
	require.NoError(t, err)
	require.Equal(t, map[string]int32{"k": 9}, m)
}

type sliceCycleHolder struct {
	Selves []*sliceCycleHolder
}

func TestSliceContainingOwner(t *testing.T) {
	s := New()
	h := &sliceCycleHolder{}
	h.Selves = []*sliceCycleHolder{h, h}
	data, err := s.Marshal(h)
	require.NoError(t, err)

	var out *sliceCycleHolder
	require.NoError(t, s.Unmarshal(data, &out))
	require.Len(t, out.Selves, 2)
	require.Same(t, out, out.Selves[0])
	require.Same(t, out, out.Selves[1])
}

func TestSharedSliceIdentity(t *testing.T) {
	type twoLists struct {
		A []int32
		B []int32
	}
	s := New()
	shared := []int32{1, 2, 3}
	in := &twoLists{A: shared, B: shared}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *twoLists
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, shared, out.A)
	// Same backing array: writing through A is visible through B.
	out.A[0] = 42
	require.Equal(t, int32(42), out.B[0])
}
