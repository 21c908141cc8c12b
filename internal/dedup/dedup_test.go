package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Seen(t *testing.T) {
	for _, capacity := range []int{0, 10} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			f, err := New(capacity)
			require.NoError(t, err)

			assert.False(t, f.Seen("Submit report by 2024-01-20"))
			assert.True(t, f.Seen("Submit report by 2024-01-20"))
			assert.True(t, f.Seen("  Submit report by 2024-01-20\n"), "surrounding whitespace is ignored")
			assert.False(t, f.Seen("Submit report by 2024-01-21"), "near duplicates are distinct")
			assert.Equal(t, 2, f.Len())
		})
	}
}

func TestFilter_BoundedEvictsOldest(t *testing.T) {
	f, err := New(2)
	require.NoError(t, err)

	assert.False(t, f.Seen("a"))
	assert.False(t, f.Seen("b"))
	assert.True(t, f.Seen("a")) // a is now most recent
	assert.False(t, f.Seen("c")) // evicts b

	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Seen("a"))
	assert.False(t, f.Seen("b"))
}

func TestFilter_ForgetAndReset(t *testing.T) {
	f, err := New(0)
	require.NoError(t, err)

	f.Seen("x")
	f.Forget("x")
	assert.False(t, f.Seen("x"))

	f.Seen("y")
	f.Reset()
	assert.Equal(t, 0, f.Len())
	assert.False(t, f.Seen("y"))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("hello"), Fingerprint(" hello \t"))
	assert.Len(t, Fingerprint("hello"), 64)
	assert.NotEqual(t, Fingerprint("hello"), Fingerprint("Hello"))
}

func TestFilter_Concurrent(t *testing.T) {
	f, err := New(100)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !f.Seen("same message") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
