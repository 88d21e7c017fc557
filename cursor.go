package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// cursor is a forward-only byte reader which tracks its absolute offset.
// When backed by an io.ReaderAt it can also be repositioned.
type cursor struct {
	br   *bufio.Reader
	ra   io.ReaderAt
	size int64
	off  int64
	tmp  [16]byte
}

func newCursor(r io.Reader) *cursor {
	return &cursor{br: bufio.NewReader(r), size: -1}
}

func newCursorAt(r io.ReaderAt, size int64, bufSize int) *cursor {
	return &cursor{
		br:   bufio.NewReaderSize(io.NewSectionReader(r, 0, size), bufSize),
		ra:   r,
		size: size,
	}
}

// seek repositions a cursor created by newCursorAt.
func (c *cursor) seek(off int64) {
	c.off = off
	c.br.Reset(io.NewSectionReader(c.ra, off, c.size-off))
}

// atEOF returns true if no more bytes can be read.
func (c *cursor) atEOF() (bool, error) {
	if _, err := c.br.Peek(1); err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, c.fail("input", err)
	}
	return false, nil
}

func (c *cursor) fail(field string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrTruncated
	}
	return formatError(c.off, field, err)
}

func (c *cursor) readByte(field string) (byte, error) {
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, c.fail(field, err)
	}
	c.off++
	return b, nil
}

func (c *cursor) readFull(p []byte, field string) error {
	n, err := io.ReadFull(c.br, p)
	if err != nil {
		return c.fail(field, err)
	}
	c.off += int64(n)
	return nil
}

func (c *cursor) readBytes(n uint64, field string) ([]byte, error) {
	if c.size >= 0 && n > uint64(c.size-c.off) {
		return nil, c.fail(field, ErrTruncated)
	} else if n > math.MaxInt32 {
		return nil, c.fail(field, ErrOverflow)
	}

	// without a known size, grow the buffer as data arrives
	if c.size < 0 && n > 1<<16 {
		var buf bytes.Buffer
		m, err := buf.ReadFrom(io.LimitReader(c.br, int64(n)))
		if err == nil && uint64(m) < n {
			err = ErrTruncated
		}
		if err != nil {
			return nil, c.fail(field, err)
		}
		c.off += m
		return buf.Bytes(), nil
	}

	p := make([]byte, int(n))
	if err := c.readFull(p, field); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *cursor) readUint16(field string) (uint16, error) {
	if err := c.readFull(c.tmp[:2], field); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(c.tmp[:2]), nil
}

func (c *cursor) readUint32(field string) (uint32, error) {
	if err := c.readFull(c.tmp[:4], field); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(c.tmp[:4]), nil
}

func (c *cursor) readUint64(field string) (uint64, error) {
	if err := c.readFull(c.tmp[:8], field); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(c.tmp[:8]), nil
}

func (c *cursor) readFloat64(field string) (float64, error) {
	u, err := c.readUint64(field)
	return math.Float64frombits(u), err
}

func (c *cursor) readUvarint(field string) (uint64, error) {
	first, err := c.readByte(field)
	if err != nil {
		return 0, err
	}

	extra := varintExtra(first)
	if extra == 0 {
		return uint64(first), nil
	}

	c.tmp[0] = first
	if err := c.readFull(c.tmp[1:extra+1], field); err != nil {
		return 0, err
	}
	v, _ := Uvarint(c.tmp[:extra+1])
	return v, nil
}

// readVarBytes reads a varint length followed by that many bytes.
func (c *cursor) readVarBytes(field string) ([]byte, error) {
	n, err := c.readUvarint(field)
	if err != nil {
		return nil, err
	}
	return c.readBytes(n, field)
}

// readShortBytes reads a uint16 length followed by that many bytes.
func (c *cursor) readShortBytes(field string) ([]byte, error) {
	n, err := c.readUint16(field)
	if err != nil {
		return nil, err
	}
	return c.readBytes(uint64(n), field)
}

// readValue reads a value of type t, length-prefixed unless t is fixed-width.
func (c *cursor) readValue(t ColumnType, field string) ([]byte, error) {
	if n := t.ValueLength(); n >= 0 {
		return c.readBytes(uint64(n), field)
	}
	return c.readVarBytes(field)
}

// --------------------------------------------------------------------

func appendVarBytes(dst, p []byte) []byte {
	dst = AppendUvarint(dst, uint64(len(p)))
	return append(dst, p...)
}

func appendShortBytes(dst, p []byte, field string) ([]byte, error) {
	if len(p) > math.MaxUint16 {
		return dst, formatError(int64(len(dst)), field, errors.Wrapf(ErrOverflow, "%d bytes exceed uint16 length", len(p)))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p)))
	return append(dst, p...), nil
}

// appendValue encodes v using t and appends it, length-prefixed unless t is fixed-width.
func appendValue(dst []byte, t ColumnType, v interface{}, field string) ([]byte, error) {
	raw, err := t.Encode(nil, v)
	if err != nil {
		return dst, formatError(int64(len(dst)), field, err)
	}
	if n := t.ValueLength(); n >= 0 {
		if len(raw) != n {
			return dst, formatError(int64(len(dst)), field, errors.Wrapf(ErrInconsistentSchema, "%s encoded to %d bytes", t.Name(), len(raw)))
		}
		return append(dst, raw...), nil
	}
	return appendVarBytes(dst, raw), nil
}
