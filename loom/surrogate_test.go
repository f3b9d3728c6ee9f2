package loom

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type temperature struct {
	Celsius float64
}

type temperatureWire struct {
	Millidegrees int64
}

func temperatureOptions() Option {
	return WithSurrogate(
		reflect.TypeOf(temperature{}),
		reflect.TypeOf(temperatureWire{}),
		func(v reflect.Value) (reflect.Value, error) {
			c := v.Interface().(temperature)
			return reflect.ValueOf(temperatureWire{Millidegrees: int64(c.Celsius * 1000)}), nil
		},
		func(w reflect.Value, dst reflect.Value) error {
			ww := w.Interface().(temperatureWire)
			dst.Set(reflect.ValueOf(temperature{Celsius: float64(ww.Millidegrees) / 1000}))
			return nil
		},
	)
}

type thermostat struct {
	Room    string
	Current temperature
}

func TestCustomSurrogateRoundTrip(t *testing.T) {
	w := New(temperatureOptions())
	in := &thermostat{Room: "lab", Current: temperature{Celsius: 21.5}}
	data, err := w.Marshal(in)
	require.NoError(t, err)

	r := New(temperatureOptions())
	var out *thermostat
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, "lab", out.Room)
	require.Equal(t, 21.5, out.Current.Celsius)
}

func TestSurrogateAsRoot(t *testing.T) {
	s := New(temperatureOptions())
	data, err := s.Marshal(&temperature{Celsius: -40})
	require.NoError(t, err)

	var out *temperature
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, float64(-40), out.Celsius)
}

func TestSurrogateRegistrationGate(t *testing.T) {
	s := New()
	_, err := s.Marshal(&leaf{Value: 1})
	require.NoError(t, err)

	err = s.RegisterSurrogate(
		reflect.TypeOf(temperature{}),
		reflect.TypeOf(temperatureWire{}),
		func(v reflect.Value) (reflect.Value, error) { return v, nil },
		func(w, dst reflect.Value) error { return nil },
	)
	require.ErrorIs(t, err, ErrSurrogateAfterFirstUse)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestSurrogateRegistrationBeforeUse(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterSurrogate(
		reflect.TypeOf(temperature{}),
		reflect.TypeOf(temperatureWire{}),
		func(v reflect.Value) (reflect.Value, error) {
			c := v.Interface().(temperature)
			return reflect.ValueOf(temperatureWire{Millidegrees: int64(c.Celsius * 1000)}), nil
		},
		func(w reflect.Value, dst reflect.Value) error {
			ww := w.Interface().(temperatureWire)
			dst.Set(reflect.ValueOf(temperature{Celsius: float64(ww.Millidegrees) / 1000}))
			return nil
		},
	))
	data, err := s.Marshal(&temperature{Celsius: 3})
	require.NoError(t, err)
	var out *temperature
	require.NoError(t, s.Unmarshal(data, &out))
	require.Equal(t, float64(3), out.Celsius)
}

type sealedBlob struct {
	hidden string
}

func (b sealedBlob) MarshalBinary() ([]byte, error) {
	return []byte("blob:" + b.hidden), nil
}

func (b *sealedBlob) UnmarshalBinary(data []byte) error {
	s := string(data)
	if !strings.HasPrefix(s, "blob:") {
		return fmt.Errorf("bad blob payload %q", s)
	}
	b.hidden = strings.TrimPrefix(s, "blob:")
	return nil
}

type blobCarrier struct {
	Payload sealedBlob
	Note    string
}

func TestBinaryMarshalerSurrogate(t *testing.T) {
	opts := []Option{WithISerializableSupport(true)}
	w := New(opts...)
	in := &blobCarrier{Payload: sealedBlob{hidden: "secret"}, Note: "n"}
	data, err := w.Marshal(in)
	require.NoError(t, err)

	r := New(opts...)
	var out *blobCarrier
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, "secret", out.Payload.hidden)
	require.Equal(t, "n", out.Note)
}

type tagName struct {
	value string
}

func (n tagName) MarshalText() ([]byte, error) { return []byte(n.value), nil }
func (n *tagName) UnmarshalText(b []byte) error {
	n.value = string(b)
	return nil
}

type tagged struct {
	Name tagName
}

func TestTextMarshalerSurrogate(t *testing.T) {
	opts := []Option{WithIXmlSerializableSupport(true)}
	w := New(opts...)
	data, err := w.Marshal(&tagged{Name: tagName{value: "v1.2"}})
	require.NoError(t, err)

	r := New(opts...)
	var out *tagged
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, "v1.2", out.Name.value)
}

type clockEntry struct {
	Stamp time.Time
	What  interface{}
}

func TestTimeInsideDynamicField(t *testing.T) {
	s := New()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &clockEntry{Stamp: at, What: at.Add(time.Hour)}
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out *clockEntry
	require.NoError(t, s.Unmarshal(data, &out))
	require.True(t, at.Equal(out.Stamp))
	got, ok := out.What.(time.Time)
	require.True(t, ok)
	require.True(t, at.Add(time.Hour).Equal(got))
}

type appConfig struct {
	Settings ComparerDictionary
	Owner    string
}

func TestComparerDictionaryRoundTrip(t *testing.T) {
	opts := []Option{WithComparerDictionary(strings.ToLower)}
	w := New(opts...)

	d := NewComparerDictionary(strings.ToLower)
	d.Set("Timeout", int64(30))
	d.Set("Region", "eu-west")
	in := &appConfig{Settings: *d, Owner: "ops"}
	data, err := w.Marshal(in)
	require.NoError(t, err)

	r := New(opts...)
	var out *appConfig
	require.NoError(t, r.Unmarshal(data, &out))
	require.Equal(t, "ops", out.Owner)
	require.Equal(t, 2, out.Settings.Len())

	// Lookup goes through the reattached comparer.
	v, ok := out.Settings.Get("TIMEOUT")
	require.True(t, ok)
	require.Equal(t, int64(30), v)
	v, ok = out.Settings.Get("region")
	require.True(t, ok)
	require.Equal(t, "eu-west", v)
}
