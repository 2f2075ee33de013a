package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/segid/errs"
	"github.com/Lzww0608/segid/segbuf"
)

// countingReserver is a trivial segbuf.Reserver used only so Buffer
// construction in tests doesn't need a real DRS client.
type countingReserver struct{ n int64 }

func (r *countingReserver) Reserve(ctx context.Context, tag string) (int64, int64, error) {
	lo := atomic.AddInt64(&r.n, 100) - 100
	return lo, lo + 100, nil
}

func TestRegistry_GetOrCreate_LazyMaterialization(t *testing.T) {
	var validated int32
	var built int32

	validate := func(ctx context.Context, tag string) error {
		atomic.AddInt32(&validated, 1)
		return nil
	}
	newBuf := func(tag string) *segbuf.Buffer {
		atomic.AddInt32(&built, 1)
		return segbuf.New(tag, &countingReserver{})
	}

	reg := New(validate, newBuf, nil)

	buf1, err := reg.GetOrCreate(context.Background(), "orders")
	require.NoError(t, err)
	buf2, err := reg.GetOrCreate(context.Background(), "orders")
	require.NoError(t, err)

	assert.Same(t, buf1, buf2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&validated))
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
}

func TestRegistry_UnknownTagFails(t *testing.T) {
	validate := func(ctx context.Context, tag string) error { return errs.ErrUnknownTag }
	newBuf := func(tag string) *segbuf.Buffer { return segbuf.New(tag, &countingReserver{}) }

	reg := New(validate, newBuf, nil)

	_, err := reg.GetOrCreate(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrUnknownTag)

	// A failed creation must not be cached as a Buffer: a second lookup of
	// the same tag, still unknown, fails the same way.
	_, err = reg.GetOrCreate(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrUnknownTag)
}

func TestRegistry_ConcurrentFirstUse_ExactlyOneBuffer(t *testing.T) {
	var built int32
	newBuf := func(tag string) *segbuf.Buffer {
		atomic.AddInt32(&built, 1)
		return segbuf.New(tag, &countingReserver{})
	}
	validate := func(ctx context.Context, tag string) error { return nil }
	reg := New(validate, newBuf, nil)

	const callers = 50
	var wg sync.WaitGroup
	bufs := make([]*segbuf.Buffer, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			buf, err := reg.GetOrCreate(context.Background(), "orders")
			require.NoError(t, err)
			bufs[idx] = buf
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, bufs[0], bufs[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
}

func TestRegistry_DifferentTagsGetDistinctBuffers(t *testing.T) {
	validate := func(ctx context.Context, tag string) error { return nil }
	newBuf := func(tag string) *segbuf.Buffer { return segbuf.New(tag, &countingReserver{}) }
	reg := New(validate, newBuf, nil)

	a, err := reg.GetOrCreate(context.Background(), "orders")
	require.NoError(t, err)
	b, err := reg.GetOrCreate(context.Background(), "payments")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}
