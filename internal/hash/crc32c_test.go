package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Castagnoli check value from RFC 3720.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.Zero(t, CRC32C(nil))

	assert.NotEqual(t, CRC32C([]byte("key-a")), CRC32C([]byte("key-b")))
}

func TestNewCRC32C_MatchesOneShot(t *testing.T) {
	data := []byte("incremental hashing input")

	h := NewCRC32C()
	h.Write(data[:10])
	h.Write(data[10:])
	assert.Equal(t, CRC32C(data), h.Sum32())
}
