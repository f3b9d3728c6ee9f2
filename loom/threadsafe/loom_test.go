package threadsafe

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/965022-oss/loom/loom"
)

type job struct {
	ID   int64
	Name string
}

func TestConcurrentRoundTrips(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int64) {
			defer wg.Done()
			for n := int64(0); n < 20; n++ {
				in := &job{ID: worker*100 + n, Name: "w"}
				data, err := s.Marshal(in)
				if err != nil {
					errs <- err
					return
				}
				var out *job
				if err := s.Unmarshal(data, &out); err != nil {
					errs <- err
					return
				}
				if out.ID != in.ID {
					errs <- fmt.Errorf("id mismatch: %d != %d", out.ID, in.ID)
					return
				}
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestGenericHelpers(t *testing.T) {
	s := New(loom.WithVersionTolerance(loom.AllowFieldAddition))
	data, err := Serialize(s, job{ID: 3, Name: "gen"})
	require.NoError(t, err)

	out, err := Deserialize[job](s, data)
	require.NoError(t, err)
	require.Equal(t, int64(3), out.ID)
	require.Equal(t, "gen", out.Name)
}
