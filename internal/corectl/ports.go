// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package corectl

import "fmt"

// PortPool hands out local inbound listener ports from a fixed contiguous
// range.  It is safe for concurrent use.
//
// The pool must be sized to the scan worker budget so that a free port is
// always available when a worker holds a slot.  Acquire therefore never
// blocks; an empty pool indicates a bookkeeping bug rather than contention.
type PortPool struct {
	free chan uint16
}

// NewPortPool returns a pool that hands out the size consecutive ports
// starting at base.
func NewPortPool(base uint16, size int) (*PortPool, error) {
	if size <= 0 {
		str := fmt.Sprintf("port pool size %d must be positive", size)
		return nil, makeError(ErrInvalidConfig, str)
	}
	if int(base)+size-1 > 0xffff {
		str := fmt.Sprintf("port pool %d+%d exceeds the valid port range",
			base, size)
		return nil, makeError(ErrInvalidConfig, str)
	}

	free := make(chan uint16, size)
	for i := 0; i < size; i++ {
		free <- base + uint16(i)
	}
	return &PortPool{free: free}, nil
}

// Acquire removes a port from the pool.  It fails with ErrPoolExhausted when
// no port is available, which indicates the pool is smaller than the number
// of concurrent holders.
func (p *PortPool) Acquire() (uint16, error) {
	select {
	case port := <-p.free:
		return port, nil
	default:
		str := fmt.Sprintf("no free ports in pool of %d", cap(p.free))
		return 0, makeError(ErrPoolExhausted, str)
	}
}

// Release returns a previously acquired port to the pool.
func (p *PortPool) Release(port uint16) {
	select {
	case p.free <- port:
	default:
		// Only possible when a port is released more times than it was
		// acquired.
		log.Warnf("Port %d released to a full pool", port)
	}
}

// Size returns the total number of ports managed by the pool.
func (p *PortPool) Size() int {
	return cap(p.free)
}
