package sstable

import (
	"math/big"
	"strings"
)

// Decimal is an arbitrary-precision decimal: Unscaled * 10^-Scale.
type Decimal struct {
	Scale    int32
	Unscaled *big.Int
}

// Rat returns d as a rational number.
func (d *Decimal) Rat() *big.Rat {
	r := new(big.Rat).SetInt(d.unscaled())
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(abs64(int64(d.Scale))), nil)
	if d.Scale >= 0 {
		return r.Quo(r, new(big.Rat).SetInt(pow))
	}
	return r.Mul(r, new(big.Rat).SetInt(pow))
}

// String formats d in plain decimal notation.
func (d *Decimal) String() string {
	u := d.unscaled()
	digits := new(big.Int).Abs(u).String()
	sign := ""
	if u.Sign() < 0 {
		sign = "-"
	}

	switch {
	case d.Scale <= 0:
		return sign + digits + strings.Repeat("0", int(-d.Scale))
	case int(d.Scale) >= len(digits):
		return sign + "0." + strings.Repeat("0", int(d.Scale)-len(digits)) + digits
	}
	cut := len(digits) - int(d.Scale)
	return sign + digits[:cut] + "." + digits[cut:]
}

func (d *Decimal) unscaled() *big.Int {
	if d.Unscaled == nil {
		return new(big.Int)
	}
	return d.Unscaled
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// appendBigInt appends the minimal big-endian two's complement form of x.
// Zero is encoded as a single zero byte.
func appendBigInt(dst []byte, x *big.Int) []byte {
	if x == nil || x.Sign() == 0 {
		return append(dst, 0)
	}

	if x.Sign() > 0 {
		b := x.Bytes()
		if b[0]&0x80 != 0 {
			dst = append(dst, 0)
		}
		return append(dst, b...)
	}

	// -x-1 has the same bits as x, inverted
	y := new(big.Int).Neg(x)
	b := y.Sub(y, big.NewInt(1)).Bytes()
	for i := range b {
		b[i] = ^b[i]
	}
	if len(b) == 0 || b[0]&0x80 == 0 {
		dst = append(dst, 0xff)
	}
	return append(dst, b...)
}

// decodeBigInt parses big-endian two's complement bytes.
func decodeBigInt(p []byte) *big.Int {
	x := new(big.Int).SetBytes(p)
	if len(p) != 0 && p[0]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(8*len(p))))
	}
	return x
}
