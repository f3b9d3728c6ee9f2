package loom

import (
	"encoding"
	"fmt"
	"reflect"
	"sync"
)

// surrogateCodec converts between an object's native form and a wire-ready
// substitute. The substitute is itself written/read through the normal
// object pipeline, so a surrogate can return any serializable value: a
// primitive, a []byte, or another struct entirely.
type surrogateCodec struct {
	forType reflect.Type
	// wireType is the Go type toWire produces; the reader uses it to pick
	// a local type for the substitute's record before handing the decoded
	// value to fromWire.
	wireType reflect.Type
	toWire   func(v reflect.Value) (reflect.Value, error)
	fromWire func(surrogate reflect.Value, dst reflect.Value) error
}

// surrogateRegistry holds the registered substitution codecs. Entries are
// tried most-specific first: exact type, then nearest registered
// base/interface. Registration is refused once the registry has served a
// lookup.
type surrogateRegistry struct {
	mu       sync.RWMutex
	byType   map[reflect.Type]*surrogateCodec
	ifaces   []*surrogateCodec // interface-typed entries, checked via Implements
	usedOnce bool
}

func newSurrogateRegistry() *surrogateRegistry {
	return &surrogateRegistry{byType: make(map[reflect.Type]*surrogateCodec)}
}

func (r *surrogateRegistry) register(c *surrogateCodec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usedOnce {
		return fmt.Errorf("loom: %w: surrogate for %s", ErrSurrogateAfterFirstUse, c.forType)
	}
	if c.forType.Kind() == reflect.Interface {
		r.ifaces = append(r.ifaces, c)
		return nil
	}
	r.byType[c.forType] = c
	return nil
}

// lookup returns the most specific surrogate for t: an exact match first,
// then the nearest registered base type reachable by unwrapping a single
// level of pointer indirection, then any registered interface t implements.
func (r *surrogateRegistry) lookup(t reflect.Type) *surrogateCodec {
	r.mu.Lock()
	r.usedOnce = true
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byType[t]; ok {
		return c
	}
	if t.Kind() == reflect.Ptr {
		if c, ok := r.byType[t.Elem()]; ok {
			return c
		}
	}
	for _, c := range r.ifaces {
		if t.Implements(c.forType) {
			return c
		}
		// Pointer-receiver implementations still match the value type: the
		// writer queues dereferenced values.
		if t.Kind() != reflect.Ptr && reflect.PtrTo(t).Implements(c.forType) {
			return c
		}
	}
	return nil
}

var (
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	textMarshalerType     = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType   = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// registerBuiltinSurrogates installs the always-on time.Time surrogate
// and, when enabled by Config, the encoding.BinaryMarshaler/TextMarshaler
// surrogates. A user type that also implements BinaryMarshaler keeps its
// own explicit registration: the exact-match byType lookup takes priority,
// and ifaces are only consulted when no exact match exists.
func registerBuiltinSurrogates(cfg *Config, r *surrogateRegistry) error {
	if cfg.SupportForISerializable {
		if err := r.register(&surrogateCodec{
			forType:  binaryMarshalerType,
			wireType: byteSliceType,
			toWire: func(v reflect.Value) (reflect.Value, error) {
				if !v.Type().Implements(binaryMarshalerType) {
					p := reflect.New(v.Type())
					p.Elem().Set(v)
					v = p
				}
				m := v.Interface().(encoding.BinaryMarshaler)
				data, err := m.MarshalBinary()
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(data), nil
			},
			fromWire: func(surrogate reflect.Value, dst reflect.Value) error {
				target := dst
				if target.Kind() != reflect.Ptr {
					target = dst.Addr()
				}
				if !target.Type().Implements(binaryUnmarshalerType) {
					return fmt.Errorf("loom: %w: %s has no BinaryUnmarshaler", ErrNoSerializerForType, dst.Type())
				}
				return target.Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(surrogate.Bytes())
			},
		}); err != nil {
			return err
		}
	}
	if cfg.SupportForIXmlSerializable {
		if err := r.register(&surrogateCodec{
			forType:  textMarshalerType,
			wireType: reflect.TypeOf(""),
			toWire: func(v reflect.Value) (reflect.Value, error) {
				if !v.Type().Implements(textMarshalerType) {
					p := reflect.New(v.Type())
					p.Elem().Set(v)
					v = p
				}
				m := v.Interface().(encoding.TextMarshaler)
				data, err := m.MarshalText()
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(string(data)), nil
			},
			fromWire: func(surrogate reflect.Value, dst reflect.Value) error {
				target := dst
				if target.Kind() != reflect.Ptr {
					target = dst.Addr()
				}
				if !target.Type().Implements(textUnmarshalerType) {
					return fmt.Errorf("loom: %w: %s has no TextUnmarshaler", ErrNoSerializerForType, dst.Type())
				}
				return target.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(surrogate.String()))
			},
		}); err != nil {
			return err
		}
	}
	return r.register(timeSurrogate())
}
