package sstable

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// CompressedReader exposes the uncompressed contents of a compressed Data.db
// component. It is safe for concurrent use.
type CompressedReader struct {
	r    io.ReaderAt
	info *CompressionInfo
	comp Compression

	maxOffset int64 // compressed file size
}

// NewCompressedReader opens a reader over size bytes of compressed data in r,
// as described by info.
func NewCompressedReader(r io.ReaderAt, size int64, info *CompressionInfo) (*CompressedReader, error) {
	comp, err := info.Compression()
	if err != nil {
		return nil, err
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	if n := len(info.Offsets); n != 0 && info.Offsets[n-1]+4 > uint64(size) {
		return nil, formatError(size, "chunk offsets", errors.Wrapf(ErrTruncated, "chunk %d starts at %d", n-1, info.Offsets[n-1]))
	}

	return &CompressedReader{
		r:         r,
		info:      info,
		comp:      comp,
		maxOffset: size,
	}, nil
}

// Size returns the uncompressed data length.
func (r *CompressedReader) Size() int64 { return int64(r.info.DataLength) }

// NumChunks returns the number of stored chunks.
func (r *CompressedReader) NumChunks() int { return len(r.info.Offsets) }

// AppendChunk decompresses the n-th chunk and appends it to dst.
func (r *CompressedReader) AppendChunk(dst []byte, n int) ([]byte, error) {
	if n < 0 || n >= len(r.info.Offsets) {
		return dst, errors.Errorf("sstable: chunk %d out of range", n)
	}

	min := int64(r.info.Offsets[n])
	max := r.maxOffset
	if next := n + 1; next < len(r.info.Offsets) {
		max = int64(r.info.Offsets[next])
	}
	if max-min < 4 {
		return dst, formatError(min, "chunk", ErrTruncated)
	}

	raw := fetchBuffer(int(max - min))
	defer releaseBuffer(raw)

	if m, err := r.r.ReadAt(raw, min); m < len(raw) && (err == nil || err == io.EOF) {
		return dst, formatError(min, "chunk", ErrTruncated)
	} else if err != nil && err != io.EOF {
		return dst, err
	}

	stored := raw[:len(raw)-4]
	if binary.BigEndian.Uint32(raw[len(stored):]) != chunkChecksum(stored) {
		return dst, formatError(min, "chunk", ErrBadChecksum)
	}

	size := r.info.chunkSize(n)
	if len(stored) >= int(r.info.MaxCompressedLength) {
		if len(stored) < size {
			return dst, formatError(min, "chunk", errors.Wrapf(ErrBadCompression, "uncompressed chunk of %d bytes, expected %d", len(stored), size))
		}
		return append(dst, stored[:size]...), nil
	}

	dst, err := decompressChunk(r.comp, dst, stored, size)
	if err != nil {
		return dst, formatError(min, "chunk", err)
	}
	return dst, nil
}

// ReadAt implements io.ReaderAt over the uncompressed data.
func (r *CompressedReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("sstable: negative offset")
	}

	var read int
	for read < len(p) {
		pos := off + int64(read)
		if pos >= r.Size() {
			return read, io.EOF
		}

		n := int(pos / int64(r.info.ChunkLength))
		plain, err := r.AppendChunk(fetchBuffer(0), n)
		if err != nil {
			releaseBuffer(plain)
			return read, err
		}

		read += copy(p[read:], plain[pos-int64(n)*int64(r.info.ChunkLength):])
		releaseBuffer(plain)
	}
	return read, nil
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p[:0])
	}
}
