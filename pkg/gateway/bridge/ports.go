package bridge

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// AllocatePort picks a port for the named server inside
// [basePort, basePort+rangeSize). The server name seeds the starting slot so
// allocations are stable across restarts, with linear probing past ports
// already in use. Pure function so it can be tested without sockets.
func AllocatePort(name string, used map[int]bool, basePort, rangeSize int) (int, error) {
	if rangeSize <= 0 {
		return 0, fmt.Errorf("%w: range size %d", gateway.ErrPortRangeExhausted, rangeSize)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	start := int(h.Sum32()) % rangeSize
	if start < 0 {
		start += rangeSize
	}

	for i := 0; i < rangeSize; i++ {
		port := basePort + (start+i)%rangeSize
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d ports from %d in use", gateway.ErrPortRangeExhausted, rangeSize, basePort)
}

// PortAllocator hands out bridge ports with an atomic check-and-reserve so
// concurrent conversions can never pick the same port.
type PortAllocator struct {
	mu        sync.Mutex
	basePort  int
	rangeSize int
	used      map[int]bool
}

// NewPortAllocator creates an allocator over [basePort, basePort+rangeSize).
func NewPortAllocator(basePort, rangeSize int) *PortAllocator {
	return &PortAllocator{
		basePort:  basePort,
		rangeSize: rangeSize,
		used:      make(map[int]bool),
	}
}

// Reserve allocates and marks a port for the named server.
func (a *PortAllocator) Reserve(name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, err := AllocatePort(name, a.used, a.basePort, a.rangeSize)
	if err != nil {
		return 0, err
	}
	a.used[port] = true
	return port, nil
}

// ReserveExact marks a specific port as in use, for restoring a bridge on
// its previously recorded port after a gateway restart.
func (a *PortAllocator) ReserveExact(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.used[port] {
		return fmt.Errorf("%w: port %d already reserved", gateway.ErrPortRangeExhausted, port)
	}
	a.used[port] = true
	return nil
}

// Release returns a port to the pool.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}
