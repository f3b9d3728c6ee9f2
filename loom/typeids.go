package loom

// TypeID is a per-stream, monotonically assigned type identifier. A fixed
// range is reserved for primitives and collection-kind markers, which are
// never stamped; every user-defined struct type gets a dynamically
// assigned id, starting at firstDynamicTypeID, the first time it is
// encountered.
type TypeID int32

const (
	TypeNull TypeID = iota // reserved, never written: null references travel as reference id -1
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBytes
	TypeTime
	TypeDecimal
	TypeSequence // component H: ordered, length-framed collection
	TypeSet      // component H: unordered unique-element collection
	TypeMapping  // component H: ordered key/value pairs
	TypePointer  // marker: the stamped struct type that follows is held by pointer

	firstDynamicTypeID
)

func (t TypeID) isPrimitive() bool {
	return t >= TypeBool && t <= TypeDecimal
}

func (t TypeID) isCollectionKind() bool {
	return t == TypeSequence || t == TypeSet || t == TypeMapping
}

func (t TypeID) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeTime:
		return "time"
	case TypeDecimal:
		return "decimal128"
	case TypeSequence:
		return "sequence"
	case TypeSet:
		return "set"
	case TypeMapping:
		return "mapping"
	case TypePointer:
		return "pointer"
	default:
		return "struct"
	}
}

// integerWidth classifies integer primitive tags by signedness and bit
// width, used by reconcile.go to decide whether a stream-side field may
// widen into a larger local field of the same signedness.
func integerWidth(t TypeID) (bits int, signed bool, ok bool) {
	switch t {
	case TypeInt8:
		return 8, true, true
	case TypeInt16:
		return 16, true, true
	case TypeInt32:
		return 32, true, true
	case TypeInt64:
		return 64, true, true
	case TypeUint8:
		return 8, false, true
	case TypeUint16:
		return 16, false, true
	case TypeUint32:
		return 32, false, true
	case TypeUint64:
		return 64, false, true
	default:
		return 0, false, false
	}
}
