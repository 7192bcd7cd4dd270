// Package entryfile implements the on-disk format of a single cache entry.
//
// Each entry is one file named by the zero-padded hex form of its entry
// hash. The layout is:
//
//	magic     uint32  "MFB1"
//	crc       uint32  CRC32C of everything after this field
//	keySize   uint32
//	valueSize uint32  logical (uncompressed) value size
//	key       [keySize]byte
//	payload   value bytes, or a compression frame
//
// All integers are little-endian. Readers verify the magic, the checksum
// and the key bytes before trusting a file; any mismatch is reported as an
// error and the caller treats the entry as absent.
package entryfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hupe1980/blobcache/internal/compress"
	"github.com/hupe1980/blobcache/internal/fs"
	"github.com/hupe1980/blobcache/internal/hash"
)

const (
	// HeaderSize is the fixed length of the entry file header.
	HeaderSize = 16

	// TempPattern is the name pattern of in-flight temp files. Stale ones
	// are swept on startup.
	TempPattern = "tmp-entry-*"

	magic = uint32(0x3142464D) // "MFB1"

	// crcOffset is where the checksummed region begins.
	crcOffset = 8
)

var (
	// ErrMalformed indicates a truncated or structurally invalid entry file.
	ErrMalformed = errors.New("entryfile: malformed entry")
	// ErrChecksum indicates the stored checksum does not match the contents.
	ErrChecksum = errors.New("entryfile: checksum mismatch")
)

// Header is the fixed-size prefix of every entry file.
type Header struct {
	KeySize   int
	ValueSize int
}

// ParseHeader decodes and validates the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrMalformed, len(b), HeaderSize)
	}
	if binary.LittleEndian.Uint32(b[0:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	return Header{
		KeySize:   int(binary.LittleEndian.Uint32(b[8:12])),
		ValueSize: int(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

// Encode builds the complete file image for an entry.
func Encode(key, value []byte, codec compress.Codec) ([]byte, error) {
	if codec == nil {
		codec = compress.None
	}
	payload, err := codec.Compress(value)
	if err != nil {
		return nil, err
	}

	data := make([]byte, HeaderSize+len(key)+len(payload))
	binary.LittleEndian.PutUint32(data[0:4], magic)
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(key)))
	binary.LittleEndian.PutUint32(data[12:16], uint32(len(value)))
	copy(data[HeaderSize:], key)
	copy(data[HeaderSize+len(key):], payload)
	binary.LittleEndian.PutUint32(data[4:8], hash.CRC32C(data[crcOffset:]))
	return data, nil
}

// Decode parses a complete file image and returns the stored key and value.
// The returned slices may alias data when no decompression or copying is
// required.
func Decode(data []byte, codec compress.Codec) (key, value []byte, err error) {
	if codec == nil {
		codec = compress.None
	}
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < HeaderSize+hdr.KeySize {
		return nil, nil, fmt.Errorf("%w: key truncated", ErrMalformed)
	}
	if stored := binary.LittleEndian.Uint32(data[4:8]); stored != hash.CRC32C(data[crcOffset:]) {
		return nil, nil, ErrChecksum
	}
	key = data[HeaderSize : HeaderSize+hdr.KeySize]
	value, err = codec.Decompress(data[HeaderSize+hdr.KeySize:], hdr.ValueSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return key, value, nil
}

// FileName returns the base name of the entry file for hash.
func FileName(hash uint32) string {
	return fmt.Sprintf("%08x", hash)
}

// ParseFileName reports the entry hash encoded in an entry file name.
func ParseFileName(name string) (uint32, bool) {
	if len(name) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ReadHeader reads and validates the header of the entry file at path.
func ReadHeader(fsys fs.FileSystem, path string) (Header, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ParseHeader(buf)
}

// ReadFile reads a complete entry file image.
func ReadFile(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	data := make([]byte, fi.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// WriteFile atomically persists a file image: the data is staged in a temp
// file in the same directory, synced, and renamed into place so readers
// never observe a torn entry.
func WriteFile(fsys fs.FileSystem, dir, name string, data []byte) error {
	f, tmpPath, err := fsys.CreateTemp(dir, TempPattern)
	if err != nil {
		return err
	}

	cleanup := func() { _ = fsys.Remove(tmpPath) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := fsys.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		cleanup()
		return err
	}
	return nil
}
