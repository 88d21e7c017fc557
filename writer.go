package sstable

import (
	"encoding/binary"
	"io"
)

// CompressedWriterOptions define compressed writer specific options.
type CompressedWriterOptions struct {
	// ChunkLength is the uncompressed size in bytes of each chunk.
	// Default: 16KiB.
	ChunkLength int

	// MinCompressRatio is the minimum compression ratio a chunk must
	// achieve, otherwise it is stored uncompressed. Values <= 1 disable
	// the check.
	// Default: 0.
	MinCompressRatio float64

	// The compression codec to use.
	// Default: LZ4Compression.
	Compression Compression

	// Options are recorded in CompressionInfo.db as they are.
	Options []CompressionOption
}

func (o *CompressedWriterOptions) norm() *CompressedWriterOptions {
	var oo CompressedWriterOptions
	if o != nil {
		oo = *o
	}

	if oo.ChunkLength < 1 {
		oo.ChunkLength = 1 << 14
	}
	if !oo.Compression.isValid() {
		oo.Compression = LZ4Compression
	}

	return &oo
}

// CompressedWriter writes a compressed Data.db component, splitting the
// input into chunks. Info returns the matching CompressionInfo once the
// writer is closed.
type CompressedWriter struct {
	w io.Writer
	o *CompressedWriterOptions

	info   CompressionInfo
	offset uint64 // compressed bytes written

	buf []byte // plain buffer
	cmp []byte // compressed buffer
	tmp []byte // scratch buffer
}

// NewCompressedWriter wraps a writer and returns a CompressedWriter.
func NewCompressedWriter(w io.Writer, o *CompressedWriterOptions) *CompressedWriter {
	o = o.norm()
	return &CompressedWriter{
		w: w,
		o: o,
		info: CompressionInfo{
			Compressor:          o.Compression.ClassName(),
			Options:             o.Options,
			ChunkLength:         uint32(o.ChunkLength),
			MaxCompressedLength: MaxCompressedLength(uint32(o.ChunkLength), o.MinCompressRatio),
		},
		buf: make([]byte, 0, o.ChunkLength),
		tmp: make([]byte, 4),
	}
}

// Write implements io.Writer.
func (w *CompressedWriter) Write(p []byte) (int, error) {
	if w.tmp == nil {
		return 0, errClosed
	}

	var n int
	for len(p) != 0 {
		m := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+m]
		w.info.DataLength += uint64(m)
		n += m
		p = p[m:]

		if len(w.buf) == cap(w.buf) {
			if err := w.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Close flushes the last chunk. It does not close the underlying writer.
func (w *CompressedWriter) Close() error {
	if w.tmp == nil {
		return errClosed
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.tmp = nil
	return nil
}

// Info returns the compression info of the chunks written so far.
func (w *CompressedWriter) Info() *CompressionInfo {
	info := w.info
	info.Offsets = append([]uint64(nil), w.info.Offsets...)
	return &info
}

func (w *CompressedWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	var err error
	if w.cmp, err = compressChunk(w.o.Compression, w.cmp[:0], w.buf); err != nil {
		return err
	}

	chunk := w.cmp
	if max := int(w.info.MaxCompressedLength); len(chunk) >= max {
		chunk = append(w.cmp[:0], w.buf...)
		for len(chunk) < max { // short tail chunks are padded to stay uncompressed
			chunk = append(chunk, 0)
		}
	}

	w.info.Offsets = append(w.info.Offsets, w.offset)
	w.buf = w.buf[:0]

	binary.BigEndian.PutUint32(w.tmp, chunkChecksum(chunk))
	if err := w.writeRaw(chunk); err != nil {
		return err
	}
	return w.writeRaw(w.tmp)
}

func (w *CompressedWriter) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += uint64(n)
	return err
}
