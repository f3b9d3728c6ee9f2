package loom

import (
	"fmt"
	"reflect"
)

// refTable is the writer-side object-to-id map. Referential identity, not
// value equality, determines whether two fields share a slot. Assignment
// happens in discovery order and is queued so the main write loop can
// process newly-discovered objects breadth-first.
type refTable struct {
	preserve ReferencePreservation
	ids      map[refKey]int64
	order    []reflect.Value // drain targets: already dereferenced to the value to be written
	nextID   int64
}

func newRefTable(preserve ReferencePreservation) *refTable {
	return &refTable{preserve: preserve, ids: make(map[refKey]int64)}
}

// refKey is the sharing-detection key: an address alone is not enough,
// since zero-size allocations and empty slices of different types can
// share one (the runtime's zero base).
type refKey struct {
	ptr uintptr
	t   reflect.Type
}

// identityKey returns the pointer-identity key used to detect sharing: the
// address a pointer/map/slice/chan value refers to, qualified by type.
// Value types (structs passed by value, primitives) have no identity and
// are never tracked.
func identityKey(v reflect.Value) (refKey, bool) {
	if !v.IsValid() {
		return refKey{}, false
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		if v.IsNil() {
			return refKey{}, false
		}
		return refKey{ptr: v.Pointer(), t: v.Type()}, true
	default:
		return refKey{}, false
	}
}

func isNilRef(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

func dereferenced(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}

// assignOrFetch tracks v (a pointer, map, or slice value) and returns its
// id. Under Preserve/UseWeakReference, repeat sightings of the same
// referent return the same id (trackable=true, wasNew=false). Under
// DoNotPreserve, every sighting gets a fresh id; cycles are rejected up
// front by the writer's pre-traversal check, so repeat sightings here are
// always legitimate copies.
func (rt *refTable) assignOrFetch(v reflect.Value) (id int64, wasNew bool, trackable bool, err error) {
	key, ok := identityKey(v)
	if !ok {
		return 0, true, false, nil
	}
	if rt.preserve != DoNotPreserve {
		if existing, seen := rt.ids[key]; seen {
			return existing, false, true, nil
		}
	}
	id = rt.nextID
	rt.nextID++
	if rt.preserve != DoNotPreserve {
		rt.ids[key] = id
	}
	rt.order = append(rt.order, dereferenced(v))
	return id, true, true, nil
}

// assignOrFetchDynamic is assignOrFetch's counterpart for interface-typed
// (dynamic) fields: the boxed value is always id-tracked, even when its
// dynamic kind carries no natural pointer identity (e.g. an int boxed in
// an interface{} field), so the record stream stays uniform.
func (rt *refTable) assignOrFetchDynamic(v reflect.Value) int64 {
	key, ok := identityKey(v)
	if !ok {
		id := rt.nextID
		rt.nextID++
		rt.order = append(rt.order, v)
		return id
	}
	if rt.preserve != DoNotPreserve {
		if existing, seen := rt.ids[key]; seen {
			return existing
		}
	}
	id := rt.nextID
	rt.nextID++
	if rt.preserve != DoNotPreserve {
		rt.ids[key] = id
	}
	rt.order = append(rt.order, dereferenced(v))
	return id
}

// drainQueued pops the next object queued by assignOrFetch that has not
// yet had its body written. A deferred queue, not naive recursion, so
// diamond-shaped and cyclic graphs terminate.
func (rt *refTable) drainQueued(processed int) (v reflect.Value, idx int, more bool) {
	if processed >= len(rt.order) {
		return reflect.Value{}, processed, false
	}
	return rt.order[processed], processed + 1, true
}

// refReader is the reader-side id-to-object table. Shells are reserved
// (allocated but not yet populated) before recursing into an object's
// fields, which is how cyclic graphs resolve: a back-reference to an
// in-progress object receives the same, already-allocated pointer.
type refReader struct {
	objects []reflect.Value
	nextID  int64
	fixups  map[int64][]func(reflect.Value)
}

func newRefReader() *refReader {
	return &refReader{fixups: make(map[int64][]func(reflect.Value))}
}

// readRef interprets a varint already read from the wire as a reference
// slot: -1 is null, a value equal to the current high-water mark is a
// freshly discovered id (the caller must reserve a shell and queue a
// body-read), and anything lower is a back-reference to an
// already-reserved (possibly still-populating) slot.
func (rr *refReader) readRef(id int64) (isNew bool, err error) {
	if id == -1 {
		return false, nil
	}
	if id < 0 {
		return false, fmt.Errorf("loom: %w: negative reference id %d", ErrStreamCorrupted, id)
	}
	if id == rr.nextID {
		rr.nextID++
		rr.objects = append(rr.objects, reflect.Value{})
		return true, nil
	}
	if id < rr.nextID {
		return false, nil
	}
	return false, fmt.Errorf("loom: %w: id %d skips ahead of high-water mark %d", ErrStreamCorrupted, id, rr.nextID)
}

// reserve binds id's final value at whichever point (reference site or
// definition site) it first becomes available. Any fixups queued by
// earlier back-edges to id run immediately, in registration order.
func (rr *refReader) reserve(id int64, v reflect.Value) {
	rr.objects[id] = v
	pending := rr.fixups[id]
	delete(rr.fixups, id)
	for _, fn := range pending {
		fn(v)
	}
}

// tryResolve returns id's value if it is already available (populated or
// an early-allocated shell), without erroring when it is not; callers
// fall back to addFixup in that case.
func (rr *refReader) tryResolve(id int64) (reflect.Value, bool) {
	if id < 0 || id >= int64(len(rr.objects)) || !rr.objects[id].IsValid() {
		return reflect.Value{}, false
	}
	return rr.objects[id], true
}

// addFixup registers fn to run the moment id is reserved. Used for any
// reference whose target's Go value cannot exist yet: a slice/map whose
// length is unknown until its own body is read, a dynamic field whose
// concrete type is unknown until its record is read, or a surrogate
// awaiting restoration.
func (rr *refReader) addFixup(id int64, fn func(reflect.Value)) {
	rr.fixups[id] = append(rr.fixups[id], fn)
}

// wanted reports whether any back-edge is waiting on id's value; used to
// decide between erroring and structurally discarding a record whose type
// has no local counterpart (a skipped field's subtree).
func (rr *refReader) wanted(id int64) bool { return len(rr.fixups[id]) > 0 }

func (rr *refReader) resolve(id int64) (reflect.Value, error) {
	if id < 0 || id >= int64(len(rr.objects)) || !rr.objects[id].IsValid() {
		return reflect.Value{}, fmt.Errorf("loom: %w: id %d", ErrUnknownReference, id)
	}
	return rr.objects[id], nil
}

// allocateShell creates an addressable, zero-valued instance of t
// suitable for population after the fact. No constructor logic runs.
func allocateShell(t reflect.Type, length int) reflect.Value {
	switch t.Kind() {
	case reflect.Ptr:
		return reflect.New(t.Elem())
	case reflect.Slice:
		return reflect.MakeSlice(t, length, length)
	case reflect.Map:
		return reflect.MakeMapWithSize(t, length)
	default:
		return reflect.New(t).Elem()
	}
}
