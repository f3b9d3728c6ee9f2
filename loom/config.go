package loom

import (
	"reflect"

	"go.uber.org/zap"
)

// ReferencePreservation selects how shared and cyclic references are
// handled.
type ReferencePreservation uint8

const (
	DoNotPreserve ReferencePreservation = iota
	Preserve
	UseWeakReference
)

// SerializationMethod / DeserializationMethod select the write/read
// back-end. Only Reflection is implemented; Generated is reserved for a
// code-generation back-end with identical observable behaviour that this
// core does not ship.
type SerializationMethod uint8

const (
	Reflection SerializationMethod = iota
	Generated
)

// VersionTolerance is a bitset of the layout drifts a reader will accept
// when reconciling a stream type against its local counterpart.
type VersionTolerance uint16

const (
	AllowFieldAddition VersionTolerance = 1 << iota
	AllowFieldRemoval
	AllowFieldMove
	AllowAssemblyVersionChange
	AllowGuidChange
	AllowTypeNameChange
)

func (v VersionTolerance) has(flag VersionTolerance) bool { return v&flag != 0 }

// Config holds the recognised configuration surface. All options are
// defaulted; construct via New(opts...).
type Config struct {
	ReferencePreservation       ReferencePreservation
	SerializationMethod         SerializationMethod
	DeserializationMethod       SerializationMethod
	TreatCollectionAsUserObject bool
	UseBuffering                bool
	DisableTypeStamping         bool
	ForceStampVerification      bool
	VersionTolerance            VersionTolerance
	SupportForISerializable     bool
	SupportForIXmlSerializable  bool
	MaxDepth                    int

	logger       *zap.Logger
	hooks        map[reflect.Type]*hookSet
	surrogate    *surrogateRegistry
	typeRegistry map[string]reflect.Type
}

func (c *Config) localTypeByName(name string) (reflect.Type, bool) {
	t, ok := c.typeRegistry[name]
	return t, ok
}

func (c *Config) hookFor(t reflect.Type) *hookSet {
	if c.hooks == nil {
		return nil
	}
	return c.hooks[t]
}

func (c *Config) hookSlot(t reflect.Type) *hookSet {
	if c.hooks == nil {
		c.hooks = make(map[reflect.Type]*hookSet)
	}
	hs, ok := c.hooks[t]
	if !ok {
		hs = &hookSet{}
		c.hooks[t] = hs
	}
	return hs
}

func defaultConfig() Config {
	return Config{
		ReferencePreservation:      Preserve,
		SerializationMethod:        Reflection,
		DeserializationMethod:      Reflection,
		MaxDepth:                   1000,
		SupportForISerializable:    false,
		SupportForIXmlSerializable: false,
		logger:                     zap.NewNop(),
		surrogate:                  newSurrogateRegistry(),
	}
}

// Option configures a Session the way fory.Option configures a Fory
// instance (fory/fory.go).
type Option func(*Config)

func WithReferencePreservation(v ReferencePreservation) Option {
	return func(c *Config) { c.ReferencePreservation = v }
}

func WithSerializationMethod(v SerializationMethod) Option {
	return func(c *Config) { c.SerializationMethod = v }
}

func WithDeserializationMethod(v SerializationMethod) Option {
	return func(c *Config) { c.DeserializationMethod = v }
}

func WithTreatCollectionAsUserObject(v bool) Option {
	return func(c *Config) { c.TreatCollectionAsUserObject = v }
}

func WithBuffering(v bool) Option {
	return func(c *Config) { c.UseBuffering = v }
}

func WithTypeStampingDisabled(v bool) Option {
	return func(c *Config) { c.DisableTypeStamping = v }
}

func WithForceStampVerification(v bool) Option {
	return func(c *Config) { c.ForceStampVerification = v }
}

func WithVersionTolerance(v VersionTolerance) Option {
	return func(c *Config) { c.VersionTolerance = v }
}

func WithISerializableSupport(v bool) Option {
	return func(c *Config) { c.SupportForISerializable = v }
}

func WithIXmlSerializableSupport(v bool) Option {
	return func(c *Config) { c.SupportForIXmlSerializable = v }
}

func WithMaxDepth(n int) Option {
	return func(c *Config) { c.MaxDepth = n }
}

// WithPreSerializationHook registers fn to run before any value of type T
// is written.
func WithPreSerializationHook(t reflect.Type, fn PreSerializationHook) Option {
	return func(c *Config) { c.hookSlot(t).pre = fn }
}

// WithPostSerializationHook registers fn to run after any value of type T
// is written.
func WithPostSerializationHook(t reflect.Type, fn PostSerializationHook) Option {
	return func(c *Config) { c.hookSlot(t).post = fn }
}

// WithPostDeserializationHook registers fn to run after any value of type
// T is populated on read.
func WithPostDeserializationHook(t reflect.Type, fn PostDeserializationHook) Option {
	return func(c *Config) { c.hookSlot(t).read = fn }
}

// WithRegisteredType makes a concrete type resolvable by name when it
// reaches the reader only through an interface-typed (dynamic) field,
// where no static field type is available to consult. sample may be a
// zero value of the type; only its reflect.Type is used.
func WithRegisteredType(sample interface{}) Option {
	return func(c *Config) {
		t := reflect.TypeOf(sample)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if c.typeRegistry == nil {
			c.typeRegistry = make(map[string]reflect.Type)
		}
		c.typeRegistry[qualifiedName(t)] = t
	}
}

// WithSurrogate registers a custom object-to-surrogate codec, gated the same
// way as the built-ins: once a Session built from this Config has served
// its first lookup, further registration fails with
// ErrSurrogateAfterFirstUse. wireType is the type toWire produces; the
// reader materialises the substitute as that type before handing it to
// fromWire.
func WithSurrogate(forType, wireType reflect.Type, toWire func(reflect.Value) (reflect.Value, error), fromWire func(reflect.Value, reflect.Value) error) Option {
	return func(c *Config) {
		if c.surrogate == nil {
			c.surrogate = newSurrogateRegistry()
		}
		_ = c.surrogate.register(&surrogateCodec{forType: forType, wireType: wireType, toWire: toWire, fromWire: fromWire})
	}
}

// WithComparerDictionary enables round-tripping of ComparerDictionary
// values, reattaching normalize as the key comparer on read.
func WithComparerDictionary(normalize func(string) string) Option {
	return func(c *Config) {
		if c.surrogate == nil {
			c.surrogate = newSurrogateRegistry()
		}
		_ = c.surrogate.register(comparerDictionarySurrogate(normalize))
	}
}

// WithLogger installs a structured logger for session lifecycle and
// reconciliation diagnostics (never the primitive-codec hot path). The
// default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}
