package multiplex

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamIDGeneratorParity(t *testing.T) {
	client := makeStreamIDGenerator(true)
	for _, want := range []uint32{1, 3, 5, 7} {
		id, err := client.next()
		assert.NoError(t, err)
		assert.Equal(t, want, id)
	}

	server := makeStreamIDGenerator(false)
	for _, want := range []uint32{2, 4, 6, 8} {
		id, err := server.next()
		assert.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestStreamIDGeneratorExhaustion(t *testing.T) {
	gen := makeStreamIDGenerator(true)
	atomic.StoreUint64(&gen.nextID, math.MaxUint32)

	// the last representable id is still issuable
	id, err := gen.next()
	assert.NoError(t, err)
	assert.EqualValues(t, math.MaxUint32, id)

	_, err = gen.next()
	assert.Equal(t, ErrIDExhausted, err)
	_, err = gen.next()
	assert.Equal(t, ErrIDExhausted, err)
}

func TestValidatePeerStreamID(t *testing.T) {
	client := makeStreamIDGenerator(true)
	assert.True(t, errors.Is(client.validatePeerStreamID(0), ErrInvalidPeerStreamID))
	assert.True(t, errors.Is(client.validatePeerStreamID(1), ErrInvalidPeerStreamID))
	assert.NoError(t, client.validatePeerStreamID(2))

	server := makeStreamIDGenerator(false)
	assert.True(t, errors.Is(server.validatePeerStreamID(0), ErrInvalidPeerStreamID))
	assert.True(t, errors.Is(server.validatePeerStreamID(4), ErrInvalidPeerStreamID))
	assert.NoError(t, server.validatePeerStreamID(7))

	// validation is independent of the counter
	_, _ = client.next()
	assert.NoError(t, client.validatePeerStreamID(2))
}
