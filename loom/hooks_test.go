package loom

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializationHookOrder(t *testing.T) {
	var events []string
	note := func(tag string) func(interface{}) error {
		return func(interface{}) error {
			events = append(events, tag)
			return nil
		}
	}
	s := New(
		WithPreSerializationHook(reflect.TypeOf(pair{}), note("pre-pair")),
		WithPostSerializationHook(reflect.TypeOf(pair{}), note("post-pair")),
		WithPreSerializationHook(reflect.TypeOf(leaf{}), note("pre-leaf")),
		WithPostSerializationHook(reflect.TypeOf(leaf{}), note("post-leaf")),
	)

	shared := &leaf{Value: 7}
	_, err := s.Marshal(&pair{Left: shared, Right: shared})
	require.NoError(t, err)

	// Definition order: the pair's body completes before the leaf's body
	// begins, and the shared leaf fires exactly once.
	require.Equal(t, []string{"pre-pair", "post-pair", "pre-leaf", "post-leaf"}, events)
}

func TestPostDeserializationHookRunsAfterPopulation(t *testing.T) {
	w := New()
	shared := &leaf{Value: 7}
	data, err := w.Marshal(&pair{Left: shared, Right: shared})
	require.NoError(t, err)

	var seen []int32
	r := New(WithPostDeserializationHook(reflect.TypeOf(leaf{}), func(o interface{}) error {
		l := o.(*leaf)
		seen = append(seen, l.Value)
		l.Value += 100
		return nil
	}))
	var out *pair
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, []int32{7}, seen) // once per unique object
	require.Equal(t, int32(107), out.Left.Value)
	require.Same(t, out.Left, out.Right)
}

func TestHookErrorsPropagate(t *testing.T) {
	boom := errors.New("hook refused")
	s := New(WithPreSerializationHook(reflect.TypeOf(leaf{}), func(interface{}) error {
		return boom
	}))
	_, err := s.Marshal(&leaf{Value: 1})
	require.ErrorIs(t, err, boom)

	w := New()
	data, err := w.Marshal(&leaf{Value: 1})
	require.NoError(t, err)

	r := New(WithPostDeserializationHook(reflect.TypeOf(leaf{}), func(interface{}) error {
		return boom
	}))
	var out *leaf
	err = r.Unmarshal(data, &out)
	require.ErrorIs(t, err, boom)
}

func TestPreHookMutationIsSerialized(t *testing.T) {
	s := New(WithPreSerializationHook(reflect.TypeOf(leaf{}), func(o interface{}) error {
		o.(*leaf).Value *= 2
		return nil
	}))
	data, err := s.Marshal(&leaf{Value: 5})
	require.NoError(t, err)

	r := New()
	var out *leaf
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, int32(10), out.Value)
}
