package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression is the chunk compression codec of a compressed Data.db.
type Compression uint8

// Supported compression codecs.
const (
	SnappyCompression Compression = iota + 1
	LZ4Compression
	DeflateCompression
	ZstdCompression
)

const compressorPackage = "org.apache.cassandra.io.compress."

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c <= ZstdCompression
}

// ClassName returns the compressor class name stored in CompressionInfo.db.
func (c Compression) ClassName() string {
	switch c {
	case SnappyCompression:
		return "SnappyCompressor"
	case LZ4Compression:
		return "LZ4Compressor"
	case DeflateCompression:
		return "DeflateCompressor"
	case ZstdCompression:
		return "ZstdCompressor"
	}
	return ""
}

func (c Compression) String() string {
	if s := c.ClassName(); s != "" {
		return s
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// ParseCompression parses a simple or fully qualified compressor class name.
func ParseCompression(name string) (Compression, error) {
	short := strings.TrimPrefix(name, compressorPackage)
	for c := SnappyCompression; c <= ZstdCompression; c++ {
		if c.ClassName() == short {
			return c, nil
		}
	}
	return 0, errors.Wrapf(ErrBadCompression, "compressor %q", name)
}

// --------------------------------------------------------------------

// CompressionOption is a single compressor parameter.
type CompressionOption struct {
	Key, Value string
}

// CompressionInfo holds the contents of a CompressionInfo.db component.
type CompressionInfo struct {
	Compressor          string // compressor class name
	Options             []CompressionOption
	ChunkLength         uint32 // uncompressed chunk length
	MaxCompressedLength uint32 // chunks stored with at least this many bytes are not compressed
	DataLength          uint64 // uncompressed data length
	Offsets             []uint64
}

// Compression resolves the compressor class name.
func (ci *CompressionInfo) Compression() (Compression, error) {
	return ParseCompression(ci.Compressor)
}

// chunkSize returns the uncompressed length of chunk i.
func (ci *CompressionInfo) chunkSize(i int) int {
	start := uint64(i) * uint64(ci.ChunkLength)
	if n := ci.DataLength - start; n < uint64(ci.ChunkLength) {
		return int(n)
	}
	return int(ci.ChunkLength)
}

func (ci *CompressionInfo) validate() error {
	if ci.ChunkLength == 0 {
		return errors.Wrap(ErrBadCompression, "zero chunk length")
	}
	if want := (ci.DataLength + uint64(ci.ChunkLength) - 1) / uint64(ci.ChunkLength); want != uint64(len(ci.Offsets)) {
		return errors.Wrapf(ErrBadCompression, "%d chunks for %d bytes of data", len(ci.Offsets), ci.DataLength)
	}
	for i := 1; i < len(ci.Offsets); i++ {
		if ci.Offsets[i] < ci.Offsets[i-1]+4 {
			return errors.Wrapf(ErrBadCompression, "chunk %d offset %d out of order", i, ci.Offsets[i])
		}
	}
	return nil
}

// MaxCompressedLength returns the stored length limit for chunks of
// chunkLength bytes at the given minimum compression ratio. Ratios <= 1
// disable the limit.
func MaxCompressedLength(chunkLength uint32, minCompressRatio float64) uint32 {
	if minCompressRatio <= 1 {
		return math.MaxInt32
	}
	return uint32(math.Ceil(float64(chunkLength) / minCompressRatio))
}

// ReadCompressionInfo decodes a CompressionInfo.db component.
func ReadCompressionInfo(r io.Reader) (*CompressionInfo, error) {
	c := newCursor(r)
	ci := new(CompressionInfo)

	name, err := c.readShortBytes("compressor")
	if err != nil {
		return nil, err
	}
	ci.Compressor = string(name)

	n, err := c.readUint32("compression options")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := c.readShortBytes("compression option")
		if err != nil {
			return nil, err
		}
		val, err := c.readShortBytes("compression option")
		if err != nil {
			return nil, err
		}
		ci.Options = append(ci.Options, CompressionOption{Key: string(key), Value: string(val)})
	}

	if ci.ChunkLength, err = c.readUint32("chunk length"); err != nil {
		return nil, err
	}
	if ci.MaxCompressedLength, err = c.readUint32("max compressed length"); err != nil {
		return nil, err
	}
	if ci.DataLength, err = c.readUint64("data length"); err != nil {
		return nil, err
	}

	start := c.off
	if n, err = c.readUint32("chunk count"); err != nil {
		return nil, err
	}
	ci.Offsets = make([]uint64, 0, minInt(int(n), 1<<16))
	for i := uint32(0); i < n; i++ {
		off, err := c.readUint64("chunk offset")
		if err != nil {
			return nil, err
		}
		ci.Offsets = append(ci.Offsets, off)
	}

	if err := ci.validate(); err != nil {
		return nil, formatError(start, "chunk offsets", err)
	}
	return ci, nil
}

// AppendCompressionInfo appends the encoded form of ci to dst.
func AppendCompressionInfo(dst []byte, ci *CompressionInfo) ([]byte, error) {
	var err error

	if dst, err = appendShortBytes(dst, []byte(ci.Compressor), "compressor"); err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(ci.Options)))
	for _, o := range ci.Options {
		if dst, err = appendShortBytes(dst, []byte(o.Key), "compression option"); err != nil {
			return dst, err
		}
		if dst, err = appendShortBytes(dst, []byte(o.Value), "compression option"); err != nil {
			return dst, err
		}
	}
	dst = binary.BigEndian.AppendUint32(dst, ci.ChunkLength)
	dst = binary.BigEndian.AppendUint32(dst, ci.MaxCompressedLength)
	dst = binary.BigEndian.AppendUint64(dst, ci.DataLength)

	if err := ci.validate(); err != nil {
		return dst, formatError(int64(len(dst)), "chunk offsets", err)
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(ci.Offsets)))
	for _, off := range ci.Offsets {
		dst = binary.BigEndian.AppendUint64(dst, off)
	}
	return dst, nil
}

// --------------------------------------------------------------------

// compressChunk appends the compressed form of src to dst.
func compressChunk(c Compression, dst, src []byte) ([]byte, error) {
	switch c {
	case SnappyCompression:
		return append(dst, snappy.Encode(nil, src)...), nil

	case LZ4Compression:
		n := len(dst)
		dst = growBytes(dst, 4+lz4.CompressBlockBound(len(src)))
		binary.LittleEndian.PutUint32(dst[n:], uint32(len(src)))
		sz, err := lz4.CompressBlock(src, dst[n+4:], nil)
		if err != nil {
			return dst[:n], errors.Wrap(ErrBadCompression, err.Error())
		}
		return dst[:n+4+sz], nil

	case DeflateCompression:
		buf := bytes.NewBuffer(dst)
		zw := zlib.NewWriter(buf)
		if _, err := zw.Write(src); err != nil {
			return dst, err
		}
		if err := zw.Close(); err != nil {
			return dst, err
		}
		return buf.Bytes(), nil

	case ZstdCompression:
		return zstdEncoder().EncodeAll(src, dst), nil
	}
	return dst, errors.Wrapf(ErrBadCompression, "codec %v", c)
}

// decompressChunk appends the size decompressed bytes of src to dst.
func decompressChunk(c Compression, dst, src []byte, size int) ([]byte, error) {
	var (
		n   = len(dst)
		err error
	)

	switch c {
	case SnappyCompression:
		var plain []byte
		if plain, err = snappy.Decode(nil, src); err == nil {
			dst = append(dst, plain...)
		}

	case LZ4Compression:
		if len(src) < 4 {
			return dst, errors.Wrap(ErrBadCompression, "short lz4 chunk")
		} else if sz := binary.LittleEndian.Uint32(src); uint64(sz) != uint64(size) {
			return dst, errors.Wrapf(ErrBadCompression, "lz4 chunk of %d bytes, expected %d", sz, size)
		}
		dst = growBytes(dst, size)
		var sz int
		if sz, err = lz4.UncompressBlock(src[4:], dst[n:]); err == nil {
			dst = dst[:n+sz]
		} else {
			dst = dst[:n]
		}

	case DeflateCompression:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(src)); err == nil {
			buf := bytes.NewBuffer(dst)
			_, err = io.Copy(buf, zr)
			_ = zr.Close()
			dst = buf.Bytes()
		}

	case ZstdCompression:
		dst, err = zstdDecoder().DecodeAll(src, dst)

	default:
		return dst, errors.Wrapf(ErrBadCompression, "codec %v", c)
	}

	if err != nil {
		return dst[:n], errors.Wrap(ErrBadCompression, err.Error())
	} else if len(dst)-n != size {
		return dst[:n], errors.Wrapf(ErrBadCompression, "chunk decompressed to %d bytes, expected %d", len(dst)-n, size)
	}
	return dst, nil
}

// chunkChecksum returns the CRC32 which follows every stored chunk.
func chunkChecksum(p []byte) uint32 { return crc32.ChecksumIEEE(p) }

func growBytes(p []byte, n int) []byte {
	if sz := len(p) + n; sz <= cap(p) {
		return p[:sz]
	}
	q := make([]byte, len(p)+n)
	copy(q, p)
	return q
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func initZstd() {
	var err error
	if zstdEnc, err = zstd.NewWriter(nil); err != nil {
		panic("sstable: zstd.NewWriter: " + err.Error())
	}
	if zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0)); err != nil {
		panic("sstable: zstd.NewReader: " + err.Error())
	}
}

func zstdEncoder() *zstd.Encoder {
	zstdOnce.Do(initZstd)
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdOnce.Do(initZstd)
	return zstdDec
}
