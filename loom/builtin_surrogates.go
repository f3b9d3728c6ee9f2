package loom

import (
	"fmt"
	"reflect"
)

// timeSurrogate substitutes a time.Time with itself: the identity mapping
// tells the writer's dynamic dispatch to fall through to the native
// TypeTime framing. Statically-typed time.Time fields are framed as
// TypeTime by buildFieldTypeRef before any surrogate lookup. time.Time's
// unexported fields make it unwalkable by the reflection field walker, so
// the registration is always on and not user-removable.
func timeSurrogate() *surrogateCodec {
	return &surrogateCodec{
		forType:  timeType,
		wireType: timeType,
		toWire: func(v reflect.Value) (reflect.Value, error) {
			return v, nil
		},
		fromWire: func(surrogate reflect.Value, dst reflect.Value) error {
			dst.Set(surrogate)
			return nil
		},
	}
}

// ComparerDictionary is a string-keyed dictionary whose lookup identity is
// defined by a caller-supplied normalization function (case folding,
// trimming, and so on). It is the hash-table-with-comparer variant from
// the collection taxonomy: the wire carries only the original keys and
// values; the comparer is reattached locally on read by the surrogate
// registered via WithComparerDictionary.
type ComparerDictionary struct {
	normalize func(key string) string
	entries   map[string]comparerEntry
}

type comparerEntry struct {
	OriginalKey string
	Value       interface{}
}

func NewComparerDictionary(normalize func(string) string) *ComparerDictionary {
	if normalize == nil {
		normalize = func(s string) string { return s }
	}
	return &ComparerDictionary{normalize: normalize, entries: make(map[string]comparerEntry)}
}

func (d *ComparerDictionary) Set(key string, value interface{}) {
	d.entries[d.normalize(key)] = comparerEntry{OriginalKey: key, Value: value}
}

func (d *ComparerDictionary) Get(key string) (interface{}, bool) {
	e, ok := d.entries[d.normalize(key)]
	return e.Value, ok
}

func (d *ComparerDictionary) Len() int { return len(d.entries) }

// comparerDictionaryWireForm is what actually crosses the wire: the
// original (pre-normalization) keys paired with their values. Pair order
// follows the underlying map's iteration order; entry content, not byte
// layout, is what round-trips.
type comparerDictionaryWireForm struct {
	Keys   []string
	Values []interface{}
}

var comparerDictType = reflect.TypeOf(ComparerDictionary{})

// comparerDictionarySurrogate converts a ComparerDictionary to and from
// its wire form. Each Value travels through a dynamic slot, so its runtime
// type is recorded alongside it the same way any interface-typed field is.
func comparerDictionarySurrogate(normalize func(string) string) *surrogateCodec {
	return &surrogateCodec{
		forType:  comparerDictType,
		wireType: reflect.TypeOf(comparerDictionaryWireForm{}),
		toWire: func(v reflect.Value) (reflect.Value, error) {
			if v.Kind() == reflect.Ptr {
				v = v.Elem()
			}
			d, ok := v.Interface().(ComparerDictionary)
			if !ok {
				return reflect.Value{}, fmt.Errorf("loom: %w: %s is not a ComparerDictionary", ErrInvalidOperation, v.Type())
			}
			form := comparerDictionaryWireForm{}
			for _, e := range d.entries {
				form.Keys = append(form.Keys, e.OriginalKey)
				form.Values = append(form.Values, e.Value)
			}
			return reflect.ValueOf(form), nil
		},
		fromWire: func(surrogate reflect.Value, dst reflect.Value) error {
			form, ok := surrogate.Interface().(comparerDictionaryWireForm)
			if !ok {
				return fmt.Errorf("loom: %w: unexpected surrogate payload for ComparerDictionary", ErrStreamCorrupted)
			}
			d := NewComparerDictionary(normalize)
			for i, k := range form.Keys {
				d.Set(k, form.Values[i])
			}
			dst.Set(reflect.ValueOf(*d))
			return nil
		},
	}
}
