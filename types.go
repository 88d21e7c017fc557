package sstable

import (
	"encoding/binary"
	"math"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ColumnType is a resolved cell value codec. Implementations are immutable
// and safe for concurrent use.
type ColumnType interface {
	// Name returns the fully qualified type name.
	Name() string
	// ValueLength returns the fixed serialized width or -1 if values are
	// length-prefixed.
	ValueLength() int
	// Decode converts a serialized value into its Go representation.
	Decode(p []byte) (interface{}, error)
	// Encode appends the serialized form of v to dst.
	Encode(dst []byte, v interface{}) ([]byte, error)
}

const marshalPackage = "org.apache.cassandra.db.marshal."

// Type names.
const (
	UTF8Type        = marshalPackage + "UTF8Type"
	AsciiType       = marshalPackage + "AsciiType"
	BytesType       = marshalPackage + "BytesType"
	BooleanType     = marshalPackage + "BooleanType"
	ByteType        = marshalPackage + "ByteType"
	ShortType       = marshalPackage + "ShortType"
	Int32Type       = marshalPackage + "Int32Type"
	LongType        = marshalPackage + "LongType"
	FloatType       = marshalPackage + "FloatType"
	DoubleType      = marshalPackage + "DoubleType"
	DecimalType     = marshalPackage + "DecimalType"
	IntegerType     = marshalPackage + "IntegerType"
	TimestampType   = marshalPackage + "TimestampType"
	UUIDType        = marshalPackage + "UUIDType"
	TimeUUIDType    = marshalPackage + "TimeUUIDType"
	LexicalUUIDType = marshalPackage + "LexicalUUIDType"
	InetAddressType = marshalPackage + "InetAddressType"
	SimpleDateType  = marshalPackage + "SimpleDateType"
	TimeType        = marshalPackage + "TimeType"

	ListType     = marshalPackage + "ListType"
	SetType      = marshalPackage + "SetType"
	MapType      = marshalPackage + "MapType"
	FrozenType   = marshalPackage + "FrozenType"
	ReversedType = marshalPackage + "ReversedType"
)

var unsupportedTypes = map[string]bool{
	"UserType":             true,
	"TupleType":            true,
	"CompositeType":        true,
	"DynamicCompositeType": true,
	"CounterColumnType":    true,
}

// --------------------------------------------------------------------

var typeCache sync.Map

// Resolve parses a type name such as
//
//	org.apache.cassandra.db.marshal.MapType(org.apache.cassandra.db.marshal.Int32Type,org.apache.cassandra.db.marshal.UTF8Type)
//
// into a ColumnType. The marshal package prefix is optional. It may return
// ErrUnknownType or ErrUnsupportedType errors.
func Resolve(name string) (ColumnType, error) {
	if v, ok := typeCache.Load(name); ok {
		return v.(ColumnType), nil
	}

	p := &typeParser{s: name}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.skipSpace(); p.pos != len(p.s) {
		return nil, p.syntaxError()
	}

	typeCache.Store(name, t)
	return t, nil
}

// MustResolve is like Resolve but panics on errors.
func MustResolve(name string) ColumnType {
	t, err := Resolve(name)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	s   string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n') {
		p.pos++
	}
}

func (p *typeParser) syntaxError() error {
	return errors.Wrapf(ErrUnknownType, "malformed type name %q at position %d", p.s, p.pos)
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '.' || c == '_' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
			continue
		}
		break
	}
	return p.s[start:p.pos]
}

func (p *typeParser) consume(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *typeParser) parse() (ColumnType, error) {
	ident := p.ident()
	if ident == "" {
		return nil, p.syntaxError()
	}

	short := strings.TrimPrefix(ident, marshalPackage)
	if unsupportedTypes[short] {
		return nil, errors.Wrapf(ErrUnsupportedType, "%q", ident)
	}

	var args []ColumnType
	if p.consume('(') {
		for {
			arg, err := p.parse()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.consume(')') {
				break
			} else if !p.consume(',') {
				return nil, p.syntaxError()
			}
		}
	}

	full := marshalPackage + short
	switch full {
	case ListType, SetType:
		if len(args) != 1 {
			return nil, errors.Wrapf(ErrUnknownType, "%s takes 1 argument, got %d", short, len(args))
		}
		kind := ListKind
		if full == SetType {
			kind = SetKind
		}
		return newCollectionType(kind, nil, args[0]), nil
	case MapType:
		if len(args) != 2 {
			return nil, errors.Wrapf(ErrUnknownType, "%s takes 2 arguments, got %d", short, len(args))
		}
		return newCollectionType(MapKind, args[0], args[1]), nil
	case FrozenType, ReversedType:
		if len(args) != 1 {
			return nil, errors.Wrapf(ErrUnknownType, "%s takes 1 argument, got %d", short, len(args))
		}
		if ct, ok := args[0].(*CollectionType); ok && full == FrozenType {
			return ct.frozen(), nil
		}
		return wrappedType{ColumnType: args[0], name: full + "(" + args[0].Name() + ")"}, nil
	}

	t, ok := primitiveTypes[full]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%q", ident)
	} else if len(args) != 0 {
		return nil, errors.Wrapf(ErrUnknownType, "%s takes no arguments", short)
	}
	return t, nil
}

// wrappedType serializes exactly like its inner type.
type wrappedType struct {
	ColumnType
	name string
}

func (t wrappedType) Name() string { return t.name }

// --------------------------------------------------------------------

type primitiveType struct {
	name   string
	length int
	decode func([]byte) (interface{}, error)
	encode func([]byte, interface{}) ([]byte, error)
}

func (t *primitiveType) Name() string     { return t.name }
func (t *primitiveType) ValueLength() int { return t.length }
func (t *primitiveType) String() string   { return t.name }

func (t *primitiveType) Decode(p []byte) (interface{}, error) {
	if t.length >= 0 && len(p) != t.length {
		return nil, errors.Wrapf(ErrInconsistentSchema, "%s value must be %d bytes, got %d", t.name, t.length, len(p))
	}
	return t.decode(p)
}

func (t *primitiveType) Encode(dst []byte, v interface{}) ([]byte, error) {
	return t.encode(dst, v)
}

func mismatch(name string, v interface{}) error {
	return errors.Wrapf(ErrInconsistentSchema, "cannot encode %T as %s", v, name)
}

func outOfRange(name string, v interface{}) error {
	return errors.Wrapf(ErrOverflow, "%v is out of range for %s", v, name)
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}

func intType(name string, length int, bitSize uint) *primitiveType {
	min, max := int64(-1)<<(bitSize-1), int64(1)<<(bitSize-1)-1
	return &primitiveType{
		name:   name,
		length: length,
		decode: func(p []byte) (interface{}, error) {
			switch bitSize {
			case 8:
				if len(p) != 1 {
					return nil, errors.Wrapf(ErrInconsistentSchema, "%s value must be 1 byte, got %d", name, len(p))
				}
				return int8(p[0]), nil
			case 16:
				if len(p) != 2 {
					return nil, errors.Wrapf(ErrInconsistentSchema, "%s value must be 2 bytes, got %d", name, len(p))
				}
				return int16(binary.BigEndian.Uint16(p)), nil
			case 32:
				return int32(binary.BigEndian.Uint32(p)), nil
			}
			return int64(binary.BigEndian.Uint64(p)), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			n, ok := toInt64(v)
			if !ok {
				return dst, mismatch(name, v)
			} else if n < min || n > max {
				return dst, outOfRange(name, v)
			}
			return appendUintN(dst, uint64(n), int(bitSize/8)), nil
		},
	}
}

// nonASCII returns the position of the first byte above 0x7f, or -1.
func nonASCII(p []byte) int {
	for i, b := range p {
		if b > 0x7f {
			return i
		}
	}
	return -1
}

func decodeBytes(p []byte) (interface{}, error) { return append([]byte{}, p...), nil }

func decodeUUID(p []byte) (interface{}, error) {
	id, err := uuid.FromBytes(p)
	if err != nil {
		return nil, errors.Wrap(ErrInconsistentSchema, err.Error())
	}
	return id, nil
}

func uuidType(name string) *primitiveType {
	return &primitiveType{
		name:   name,
		length: 16,
		decode: decodeUUID,
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			id, ok := v.(uuid.UUID)
			if !ok {
				return dst, mismatch(name, v)
			}
			return append(dst, id[:]...), nil
		},
	}
}

var primitiveTypes = map[string]ColumnType{
	UTF8Type: &primitiveType{
		name:   UTF8Type,
		length: -1,
		decode: func(p []byte) (interface{}, error) {
			if !utf8.Valid(p) {
				return nil, errors.Wrap(ErrInconsistentSchema, "invalid UTF-8 text")
			}
			return string(p), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			s, ok := v.(string)
			if !ok {
				return dst, mismatch(UTF8Type, v)
			} else if !utf8.ValidString(s) {
				return dst, errors.Wrap(ErrInconsistentSchema, "invalid UTF-8 text")
			}
			return append(dst, s...), nil
		},
	},
	AsciiType: &primitiveType{
		name:   AsciiType,
		length: -1,
		decode: func(p []byte) (interface{}, error) {
			if i := nonASCII(p); i >= 0 {
				return nil, errors.Wrapf(ErrInconsistentSchema, "non-ASCII byte 0x%02x at position %d", p[i], i)
			}
			return string(p), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			s, ok := v.(string)
			if !ok {
				return dst, mismatch(AsciiType, v)
			}
			n := len(dst)
			dst = append(dst, s...)
			if i := nonASCII(dst[n:]); i >= 0 {
				return dst[:n], errors.Wrapf(ErrInconsistentSchema, "non-ASCII byte 0x%02x at position %d", s[i], i)
			}
			return dst, nil
		},
	},
	BytesType: &primitiveType{
		name:   BytesType,
		length: -1,
		decode: decodeBytes,
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			p, ok := v.([]byte)
			if !ok {
				return dst, mismatch(BytesType, v)
			}
			return append(dst, p...), nil
		},
	},
	BooleanType: &primitiveType{
		name:   BooleanType,
		length: 1,
		decode: func(p []byte) (interface{}, error) {
			switch p[0] {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
			return nil, errors.Wrapf(ErrInconsistentSchema, "invalid boolean byte 0x%02x", p[0])
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			b, ok := v.(bool)
			if !ok {
				return dst, mismatch(BooleanType, v)
			} else if b {
				return append(dst, 1), nil
			}
			return append(dst, 0), nil
		},
	},
	ByteType:  intType(ByteType, -1, 8),
	ShortType: intType(ShortType, -1, 16),
	Int32Type: intType(Int32Type, 4, 32),
	LongType:  intType(LongType, 8, 64),
	FloatType: &primitiveType{
		name:   FloatType,
		length: 4,
		decode: func(p []byte) (interface{}, error) {
			return math.Float32frombits(binary.BigEndian.Uint32(p)), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			var f float32
			switch x := v.(type) {
			case float32:
				f = x
			case float64:
				if f = float32(x); float64(f) != x && !math.IsNaN(x) {
					return dst, outOfRange(FloatType, v)
				}
			default:
				return dst, mismatch(FloatType, v)
			}
			return binary.BigEndian.AppendUint32(dst, math.Float32bits(f)), nil
		},
	},
	DoubleType: &primitiveType{
		name:   DoubleType,
		length: 8,
		decode: func(p []byte) (interface{}, error) {
			return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			var f float64
			switch x := v.(type) {
			case float64:
				f = x
			case float32:
				f = float64(x)
			default:
				return dst, mismatch(DoubleType, v)
			}
			return binary.BigEndian.AppendUint64(dst, math.Float64bits(f)), nil
		},
	},
	DecimalType: &primitiveType{
		name:   DecimalType,
		length: -1,
		decode: func(p []byte) (interface{}, error) {
			if len(p) < 4 {
				return nil, errors.Wrapf(ErrInconsistentSchema, "decimal value must be at least 4 bytes, got %d", len(p))
			}
			return &Decimal{
				Scale:    int32(binary.BigEndian.Uint32(p)),
				Unscaled: decodeBigInt(p[4:]),
			}, nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			d, ok := v.(*Decimal)
			if !ok || d == nil {
				return dst, mismatch(DecimalType, v)
			}
			dst = binary.BigEndian.AppendUint32(dst, uint32(d.Scale))
			return appendBigInt(dst, d.Unscaled), nil
		},
	},
	IntegerType: &primitiveType{
		name:   IntegerType,
		length: -1,
		decode: func(p []byte) (interface{}, error) {
			return decodeBigInt(p), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			switch x := v.(type) {
			case *big.Int:
				return appendBigInt(dst, x), nil
			default:
				if n, ok := toInt64(v); ok {
					return appendBigInt(dst, big.NewInt(n)), nil
				}
			}
			return dst, mismatch(IntegerType, v)
		},
	},
	TimestampType: &primitiveType{
		name:   TimestampType,
		length: 8,
		decode: func(p []byte) (interface{}, error) {
			return time.UnixMilli(int64(binary.BigEndian.Uint64(p))).UTC(), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			var ms int64
			switch x := v.(type) {
			case time.Time:
				ms = x.UnixMilli()
			case int64:
				ms = x
			default:
				return dst, mismatch(TimestampType, v)
			}
			return binary.BigEndian.AppendUint64(dst, uint64(ms)), nil
		},
	},
	UUIDType:        uuidType(UUIDType),
	TimeUUIDType:    uuidType(TimeUUIDType),
	LexicalUUIDType: uuidType(LexicalUUIDType),
	InetAddressType: &primitiveType{
		name:   InetAddressType,
		length: -1,
		decode: func(p []byte) (interface{}, error) {
			if len(p) != net.IPv4len && len(p) != net.IPv6len {
				return nil, errors.Wrapf(ErrInconsistentSchema, "inet value must be 4 or 16 bytes, got %d", len(p))
			}
			return net.IP(append([]byte{}, p...)), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			ip, ok := v.(net.IP)
			if !ok {
				return dst, mismatch(InetAddressType, v)
			} else if len(ip) != net.IPv4len && len(ip) != net.IPv6len {
				return dst, outOfRange(InetAddressType, v)
			}
			return append(dst, ip...), nil
		},
	},
	SimpleDateType: &primitiveType{
		name:   SimpleDateType,
		length: 4,
		decode: func(p []byte) (interface{}, error) {
			return binary.BigEndian.Uint32(p), nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			d, ok := v.(uint32)
			if !ok {
				return dst, mismatch(SimpleDateType, v)
			}
			return binary.BigEndian.AppendUint32(dst, d), nil
		},
	},
	TimeType: &primitiveType{
		name:   TimeType,
		length: 8,
		decode: func(p []byte) (interface{}, error) {
			d := time.Duration(binary.BigEndian.Uint64(p))
			if d < 0 || d >= 24*time.Hour {
				return nil, errors.Wrapf(ErrInconsistentSchema, "%v is out of range for %s", d, TimeType)
			}
			return d, nil
		},
		encode: func(dst []byte, v interface{}) ([]byte, error) {
			d, ok := v.(time.Duration)
			if !ok {
				return dst, mismatch(TimeType, v)
			} else if d < 0 || d >= 24*time.Hour {
				return dst, outOfRange(TimeType, v)
			}
			return binary.BigEndian.AppendUint64(dst, uint64(d)), nil
		},
	},
}
