package multiplex

import (
	"fmt"
	"math"
	"sync/atomic"
)

// streamIDGenerator hands out ids for locally initiated streams and checks
// ids the peer claims for its own. Clients use odd ids, servers even, so the
// two sides can never collide. Ids are never reused within a session.
type streamIDGenerator struct {
	// atomic. Wider than the wire's uint32 so exhaustion is detectable
	// instead of silently wrapping.
	nextID uint64

	oddParity bool
}

func makeStreamIDGenerator(isClient bool) *streamIDGenerator {
	gen := &streamIDGenerator{oddParity: isClient}
	if isClient {
		gen.nextID = 1
	} else {
		gen.nextID = 2
	}
	return gen
}

// next returns a fresh local stream id: nonzero, role parity, strictly
// increasing by 2 per call.
func (gen *streamIDGenerator) next() (uint32, error) {
	id := atomic.AddUint64(&gen.nextID, 2) - 2
	if id > math.MaxUint32 {
		return 0, ErrIDExhausted
	}
	return uint32(id), nil
}

// validatePeerStreamID checks an id carried by a peer SYN. The peer must use
// the opposite parity; anything else indicates a protocol or role-mismatch
// bug on the other side. Stateless, doesn't touch the counter.
func (gen *streamIDGenerator) validatePeerStreamID(id uint32) error {
	if id == 0 {
		return fmt.Errorf("%w: zero id", ErrInvalidPeerStreamID)
	}
	if (id%2 == 1) == gen.oddParity {
		return fmt.Errorf("%w: id %v has local parity", ErrInvalidPeerStreamID, id)
	}
	return nil
}
