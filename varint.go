package sstable

import "math/bits"

// MaxVarintLen is the maximum length of an encoded varint.
const MaxVarintLen = 9

// AppendUvarint appends the encoded form of v to dst.
//
// The number of leading one-bits in the first byte counts the extra bytes
// that follow. The remaining bits of the first byte, after the terminating
// zero-bit, carry the most significant bits of the value.
func AppendUvarint(dst []byte, v uint64) []byte {
	if v < 0x80 {
		return append(dst, byte(v))
	}

	size := (bits.Len64(v) + 7) / 8
	flag := byte(0xff << (8 - uint(size)))
	if size == 8 {
		dst = append(dst, 0xff)
		return appendUintN(dst, v, 8)
	}

	top := byte(v >> (8 * uint(size-1)))
	if flag&top == 0 {
		flag &= flag - 1 // drop the rightmost one-bit
		dst = append(dst, flag|top)
		return appendUintN(dst, v, size-1)
	}

	dst = append(dst, flag)
	return appendUintN(dst, v, size)
}

// UvarintLen returns the number of bytes needed to encode v.
func UvarintLen(v uint64) int {
	if v < 0x80 {
		return 1
	}
	size := (bits.Len64(v) + 7) / 8
	if size == 8 {
		return 9
	}
	if top := byte(v >> (8 * uint(size-1))); byte(0xff<<(8-uint(size)))&top == 0 {
		return size
	}
	return size + 1
}

// Uvarint decodes a varint from p and returns the value and the number of
// bytes read. If p is too short, n == 0.
func Uvarint(p []byte) (v uint64, n int) {
	if len(p) == 0 {
		return 0, 0
	}

	extra := varintExtra(p[0])
	if len(p) < extra+1 {
		return 0, 0
	}

	v = uint64(p[0] & (0xff >> uint(extra+1)))
	for _, b := range p[1 : extra+1] {
		v = v<<8 | uint64(b)
	}
	return v, extra + 1
}

// varintExtra returns the number of bytes following the first byte b.
func varintExtra(b byte) int {
	return bits.LeadingZeros8(^b)
}

func appendUintN(dst []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}
