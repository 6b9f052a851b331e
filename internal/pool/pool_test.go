package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id    string
	count int
}

func (i *item) Reset() { *i = item{} }

func TestAcquireRelease(t *testing.T) {
	p := New[item](2)
	require.Equal(t, 2, p.Available())

	h, it, ok := p.Acquire()
	require.True(t, ok)
	it.id = "a"
	it.count = 3
	assert.Equal(t, 1, p.InUse())
	assert.Same(t, it, p.Get(h))

	require.True(t, p.Release(h))
	assert.Nil(t, p.Get(h))
	assert.False(t, p.Release(h), "double release must be ignored")
	assert.Equal(t, 2, p.Available())

	// slot comes back reset
	for i := 0; i < 2; i++ {
		_, again, ok := p.Acquire()
		require.True(t, ok)
		assert.Empty(t, again.id)
		assert.Zero(t, again.count)
	}
}

func TestAcquireExhausted(t *testing.T) {
	p := New[item](1)
	_, _, ok := p.Acquire()
	require.True(t, ok)
	_, _, ok = p.Acquire()
	assert.False(t, ok)
	assert.EqualValues(t, 1, p.Stats().Misses)
}

func TestAcquireWaitBlocksUntilRelease(t *testing.T) {
	p := New[item](1)
	h, _, _ := p.Acquire()

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(h)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, it, err := p.AcquireWait(ctx)
	require.NoError(t, err)
	require.NotNil(t, it)
}

func TestAcquireWaitContextCanceled(t *testing.T) {
	p := New[item](1)
	p.Acquire()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := p.AcquireWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Close()
	_, _, err = p.AcquireWait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAcquireNeverDoubleIssues(t *testing.T) {
	const size = 64
	p := New[item](size)

	var (
		mu   sync.Mutex
		seen = make(map[*item]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < size*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, it, ok := p.Acquire()
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[it] {
				t.Errorf("slot %p issued twice", it)
			}
			seen[it] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, size)
	assert.Zero(t, p.Available())
}
