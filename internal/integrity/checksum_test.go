package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	sum, err := Checksum([]byte("state"))
	require.NoError(t, err)
	assert.Len(t, sum, 64, "BLAKE2b-256 hex digest")

	again, err := Checksum([]byte("state"))
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	other, err := Checksum([]byte("other state"))
	require.NoError(t, err)
	assert.NotEqual(t, sum, other)

	_, err = Checksum(nil)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	state := []byte(`{"nodes":[]}`)
	sum, err := Checksum(state)
	require.NoError(t, err)

	assert.NoError(t, Verify(state, sum))
	assert.Error(t, Verify([]byte("tampered"), sum))
	assert.Error(t, Verify(state, "deadbeef"))
	assert.Error(t, Verify(state, ""))
}
