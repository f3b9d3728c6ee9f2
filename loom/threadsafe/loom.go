// Package threadsafe provides a thread-safe wrapper around loom.Session
// using sync.Pool. It offers loom.Session's one-shot Marshal and Unmarshal
// plus the generic Serialize/Deserialize helpers (not the metadata
// variants) and is safe for concurrent use; each call takes a pooled
// session, built from the same options, for its duration.
package threadsafe

import (
	"sync"

	"github.com/965022-oss/loom/loom"
)

// Session is a thread-safe wrapper around loom.Session.
type Session struct {
	pool sync.Pool
}

// New creates a new thread-safe Session. The options are applied to every
// pooled instance.
func New(opts ...loom.Option) *Session {
	s := &Session{}
	s.pool = sync.Pool{
		New: func() any {
			return loom.New(opts...)
		},
	}
	return s
}

func (s *Session) acquire() *loom.Session {
	return s.pool.Get().(*loom.Session)
}

func (s *Session) release(inner *loom.Session) {
	s.pool.Put(inner)
}

// Marshal serializes a value using a pooled session.
func (s *Session) Marshal(v interface{}) ([]byte, error) {
	inner := s.acquire()
	defer s.release(inner)
	return inner.Marshal(v)
}

// Unmarshal deserializes data into v using a pooled session.
func (s *Session) Unmarshal(data []byte, v interface{}) error {
	inner := s.acquire()
	defer s.release(inner)
	return inner.Unmarshal(data, v)
}

// Serialize serializes a value with type T inferred, thread-safe.
func Serialize[T any](s *Session, v T) ([]byte, error) {
	inner := s.acquire()
	defer s.release(inner)
	return loom.Serialize(inner, v)
}

// Deserialize deserializes data to type T, thread-safe.
func Deserialize[T any](s *Session, data []byte) (T, error) {
	inner := s.acquire()
	defer s.release(inner)
	return loom.Deserialize[T](inner, data)
}
