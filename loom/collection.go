package loom

import "reflect"

// CollectionKind classifies how a container type is framed on the wire.
type CollectionKind uint8

const (
	NotCollection CollectionKind = iota
	Sequence                     // length + ordered elements
	Set                          // unordered unique elements
	Mapping                      // length + ordered key/value pairs
)

var emptyStructType = reflect.TypeOf(struct{}{})

// classifyCollection inspects a reflect.Type and returns its collection
// kind plus the element type(s) needed for framing. A map whose value
// type is the empty struct is treated as a Set.
func classifyCollection(t reflect.Type) (kind CollectionKind, elem, key reflect.Type) {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return Sequence, t.Elem(), nil
	case reflect.Map:
		if t.Elem() == emptyStructType {
			return Set, t.Key(), nil
		}
		return Mapping, t.Elem(), t.Key()
	default:
		return NotCollection, nil, nil
	}
}

func (k CollectionKind) typeID() TypeID {
	switch k {
	case Sequence:
		return TypeSequence
	case Set:
		return TypeSet
	case Mapping:
		return TypeMapping
	default:
		return TypeNull
	}
}

// elementTypeIsSealed reports whether a collection's declared element type
// is concrete enough that per-element type tags can be omitted from the
// wire. Interfaces are never sealed; everything else (a concrete struct,
// primitive, or nested collection) is.
func elementTypeIsSealed(t reflect.Type) bool {
	return t != nil && t.Kind() != reflect.Interface
}
