package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
)

func TestAllocatePort_Deterministic(t *testing.T) {
	t.Parallel()

	used := map[int]bool{}
	first, err := AllocatePort("loki", used, 9000, 100)
	require.NoError(t, err)
	second, err := AllocatePort("loki", used, 9000, 100)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same name and free pool yields the same port")
	assert.GreaterOrEqual(t, first, 9000)
	assert.Less(t, first, 9100)
}

func TestAllocatePort_ProbesPastUsed(t *testing.T) {
	t.Parallel()

	used := map[int]bool{}
	first, err := AllocatePort("loki", used, 9000, 100)
	require.NoError(t, err)

	used[first] = true
	next, err := AllocatePort("loki", used, 9000, 100)
	require.NoError(t, err)
	assert.NotEqual(t, first, next)
}

func TestAllocatePort_Exhausted(t *testing.T) {
	t.Parallel()

	used := map[int]bool{9000: true, 9001: true}
	_, err := AllocatePort("loki", used, 9000, 2)
	assert.ErrorIs(t, err, gateway.ErrPortRangeExhausted)
}

func TestPortAllocator_ConcurrentReservesAreUnique(t *testing.T) {
	t.Parallel()

	const n = 20
	alloc := NewPortAllocator(9000, n)

	var mu sync.Mutex
	ports := make(map[int]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := alloc.Reserve(name)
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if prev, taken := ports[port]; taken {
				t.Errorf("port %d handed to both %q and %q", port, prev, name)
			}
			ports[port] = name
		}()
	}
	wg.Wait()
	assert.Len(t, ports, n)
}

func TestPortAllocator_ReserveExact(t *testing.T) {
	t.Parallel()

	alloc := NewPortAllocator(9000, 10)
	require.NoError(t, alloc.ReserveExact(9001))
	assert.ErrorIs(t, alloc.ReserveExact(9001), gateway.ErrPortRangeExhausted)

	alloc.Release(9001)
	assert.NoError(t, alloc.ReserveExact(9001))
}
