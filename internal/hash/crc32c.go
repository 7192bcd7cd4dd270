// Package hash provides the entry hashing used to key cache records.
//
// All entry hashes use CRC32-Castagnoli (CRC32C): hardware accelerated on
// x86 (SSE4.2) and ARM (CRC extension), with better error detection than
// CRC32-IEEE. The same polynomial is used for entry file checksums, so a
// single table serves both purposes.
package hash

import (
	"hash"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32 for streaming use.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}
