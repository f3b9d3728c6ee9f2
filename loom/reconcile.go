package loom

import (
	"fmt"
	"reflect"
)

// fieldInstruction is one entry of a reconciled field map: for every
// field the stream describes, what the reader must do with the bytes that
// follow.
type fieldInstruction struct {
	streamField FieldDescriptor
	localField  *reflect.StructField // nil => skip, stream field has no local counterpart
	localIndex  []int                // reflect.Value.FieldByIndex path, when localField != nil
}

// reconcilePlan is the outcome of matching a stream TypeDescriptor against
// a local struct type: an ordered instruction per stream field (wire order
// is fixed at write time), plus the local fields that must be
// default-initialized because the stream never mentions them.
type reconcilePlan struct {
	instructions []fieldInstruction
	defaultLocal [][]int // index paths for local fields absent from the stream
}

// localFieldIndex walks t (following anonymous embedded structs) and
// returns every field's name, reflect.StructField and index path: the
// flattened view reconciliation compares against, matching how
// buildTypeDescriptor flattens the same struct for the write side.
func localFieldIndex(t reflect.Type) map[string]struct {
	field reflect.StructField
	index []int
} {
	out := make(map[string]struct {
		field reflect.StructField
		index []int
	})
	var walk func(t reflect.Type, prefix []int)
	walk = func(t reflect.Type, prefix []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			idx := append(append([]int{}, prefix...), i)
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, idx)
				continue
			}
			if !sf.IsExported() {
				continue
			}
			out[sf.Name] = struct {
				field reflect.StructField
				index []int
			}{sf, idx}
		}
	}
	walk(t, nil)
	return out
}

// compatKey guards the recursive descent against self-referential types:
// a (stream type, local type) pair already on the checking path is assumed
// compatible, the same trick buildTypeDescriptor uses to terminate on
// self-embedding.
type compatKey struct {
	sd *TypeDescriptor
	lt reflect.Type
}

// compatibleField reports whether a stream field's declared type may be
// read into a local field of type lt: identical primitive tag, a widening
// integer conversion of the same signedness, or (recursively) a
// structurally matching user type.
func compatibleField(tol VersionTolerance, sf *FieldTypeRef, lt reflect.Type) bool {
	return compatibleFieldSeen(tol, sf, lt, make(map[compatKey]bool))
}

func compatibleFieldSeen(tol VersionTolerance, sf *FieldTypeRef, lt reflect.Type, seen map[compatKey]bool) bool {
	switch {
	case sf.Desc != nil:
		if lt.Kind() == reflect.Ptr {
			lt = lt.Elem()
		}
		return lt.Kind() == reflect.Struct && structurallyCompatibleSeen(tol, sf.Desc, lt, seen)
	case sf.Tag == TypeSequence:
		if lt.Kind() != reflect.Slice && lt.Kind() != reflect.Array {
			return false
		}
		return compatibleFieldSeen(tol, sf.Elem, lt.Elem(), seen)
	case sf.Tag == TypeSet:
		if lt.Kind() != reflect.Map || lt.Elem() != emptyStructType {
			return false
		}
		return compatibleFieldSeen(tol, sf.Elem, lt.Key(), seen)
	case sf.Tag == TypeMapping:
		if lt.Kind() != reflect.Map || lt.Elem() == emptyStructType {
			return false
		}
		return compatibleFieldSeen(tol, sf.Key, lt.Key(), seen) && compatibleFieldSeen(tol, sf.Elem, lt.Elem(), seen)
	case sf.Tag == TypeDynamic:
		// A dynamic slot defers its real type to the referenced record;
		// reconciliation happens when that record is materialised.
		return true
	case sf.Tag == TypeTime:
		return lt == timeType
	case sf.Tag == TypeDecimal:
		return lt == decimalType
	case sf.Tag == TypeBytes:
		return lt == byteSliceType
	default:
		localTag, ok := primitiveTagForKind(lt.Kind())
		if !ok {
			return false
		}
		if localTag == sf.Tag {
			return true
		}
		sBits, sSigned, sOK := integerWidth(sf.Tag)
		lBits, lSigned, lOK := integerWidth(localTag)
		return sOK && lOK && sSigned == lSigned && lBits >= sBits
	}
}

// structurallyCompatible decides whether a stream-described struct type
// can stand in for a local struct type. An exact fingerprint match is
// always accepted; otherwise, each stream field must have either a
// compatible local counterpart or be tolerated as added/removed per the
// configured VersionTolerance.
func structurallyCompatible(tol VersionTolerance, sd *TypeDescriptor, lt reflect.Type) bool {
	return structurallyCompatibleSeen(tol, sd, lt, make(map[compatKey]bool))
}

func structurallyCompatibleSeen(tol VersionTolerance, sd *TypeDescriptor, lt reflect.Type, seen map[compatKey]bool) bool {
	key := compatKey{sd: sd, lt: lt}
	if seen[key] {
		return true
	}
	seen[key] = true
	local := localFieldIndex(lt)
	for _, sf := range sd.Fields {
		entry, ok := local[sf.Name]
		if !ok {
			if !tol.has(AllowFieldRemoval) {
				return false
			}
			continue
		}
		if !compatibleFieldSeen(tol, sf.Type, entry.field.Type, seen) {
			return false
		}
	}
	if !tol.has(AllowFieldAddition) {
		streamNames := make(map[string]bool, len(sd.Fields))
		for _, sf := range sd.Fields {
			streamNames[sf.Name] = true
		}
		for name := range local {
			if !streamNames[name] {
				return false
			}
		}
	}
	return true
}

// buildReconcilePlan matches a stream TypeDescriptor against a local Go
// struct type and returns the per-field read/skip/default instructions.
func buildReconcilePlan(tol VersionTolerance, sd *TypeDescriptor, lt reflect.Type) (*reconcilePlan, error) {
	for lt.Kind() == reflect.Ptr {
		lt = lt.Elem()
	}
	local := localFieldIndex(lt)
	plan := &reconcilePlan{}
	seen := make(map[string]bool, len(sd.Fields))

	for _, sf := range sd.Fields {
		seen[sf.Name] = true
		entry, ok := local[sf.Name]
		if !ok {
			if !tol.has(AllowFieldRemoval) {
				return nil, fmt.Errorf("loom: %w: stream field %q has no local counterpart on %s", ErrTypeStructureChanged, sf.Name, lt)
			}
			plan.instructions = append(plan.instructions, fieldInstruction{streamField: sf})
			continue
		}
		if !compatibleField(tol, sf.Type, entry.field.Type) {
			return nil, fmt.Errorf("loom: %w: field %q type mismatch on %s", ErrTypeStructureChanged, sf.Name, lt)
		}
		field := entry.field
		index := entry.index
		plan.instructions = append(plan.instructions, fieldInstruction{streamField: sf, localField: &field, localIndex: index})
	}

	if !tol.has(AllowFieldAddition) {
		for name := range local {
			if !seen[name] {
				return nil, fmt.Errorf("loom: %w: local field %q absent from stream on %s", ErrTypeStructureChanged, name, lt)
			}
		}
	}
	for name, entry := range local {
		if !seen[name] {
			plan.defaultLocal = append(plan.defaultLocal, append([]int{}, entry.index...))
		}
	}
	return plan, nil
}
