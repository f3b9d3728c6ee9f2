package loom

// PreSerializationHook runs immediately before an object's fields are
// written. A non-nil error aborts the whole write.
type PreSerializationHook func(obj interface{}) error

// PostSerializationHook runs immediately after an object's fields are
// written.
type PostSerializationHook func(obj interface{}) error

// PostDeserializationHook runs after the whole graph is populated, once
// per materialised object, in id order. For cyclic input, id order is not
// graph-traversal order.
type PostDeserializationHook func(obj interface{}) error

// hookSet groups the three hook kinds a Config may register for a given
// type. Hooks are looked up by exact reflect.Type; there is no base-type
// or interface inheritance.
type hookSet struct {
	pre  PreSerializationHook
	post PostSerializationHook
	read PostDeserializationHook
}
