// Package cf provides the typed value tree shared by every property list
// encoding: the XML surface and both binary dialects.
package cf

import (
	"time"
)

// Value is a single node in a property list document.
//
// Hash returns a comparable uniquing key: two scalar Values with equal
// Hashes are interchangeable on the wire. Collections hash by identity
// and are never uniqued.
type Value interface {
	TypeName() string
	Hash() interface{}
}

type Dictionary struct {
	// Keys and Values are parallel; insertion order is preserved and is
	// observable in XML output and in bplist00 object numbering.
	Keys   []string
	Values []Value
}

func (*Dictionary) TypeName() string {
	return "dictionary"
}

func (p *Dictionary) Hash() interface{} {
	return p
}

func (p *Dictionary) Len() int {
	return len(p.Keys)
}

func (p *Dictionary) Range(r func(int, string, Value)) {
	for i, k := range p.Keys {
		r(i, k, p.Values[i])
	}
}

type Array struct {
	Values []Value
}

func (*Array) TypeName() string {
	return "array"
}

func (p *Array) Hash() interface{} {
	return p
}

func (p *Array) Range(r func(int, Value)) {
	for i, v := range p.Values {
		r(i, v)
	}
}

// Set is an unordered collection; members must be pairwise unequal.
// The bplist15 and XML encoders write it; the bplist00 encoder rejects
// it, though the bplist00 decoder accepts set markers.
type Set struct {
	Values []Value
}

func (*Set) TypeName() string {
	return "set"
}

func (p *Set) Hash() interface{} {
	return p
}

type String string

func (String) TypeName() string {
	return "string"
}

func (p String) Hash() interface{} {
	return string(p)
}

type Number struct {
	Signed bool
	Value  uint64
}

func (*Number) TypeName() string {
	return "integer"
}

func (p *Number) Hash() interface{} {
	if p.Signed {
		return int64(p.Value)
	}
	return p.Value
}

// BigInt is a signed 128-bit integer, big-endian halves. Values that
// collapse into 64 bits are represented as Number instead; see
// CollapseBigInt.
type BigInt struct {
	Hi, Lo uint64
}

func (*BigInt) TypeName() string {
	return "integer"
}

func (p *BigInt) Hash() interface{} {
	return [2]uint64{p.Hi, p.Lo}
}

// Negative reports whether the 128-bit two's-complement value is < 0.
func (p *BigInt) Negative() bool {
	return p.Hi&0x8000000000000000 != 0
}

// CollapseBigInt returns the canonical Value for a 16-byte integer read
// off the wire: a Number when the 128-bit value is representable in 64
// bits (unsigned, or sign-extended signed), a BigInt otherwise.
func CollapseBigInt(hi, lo uint64) Value {
	if hi == 0 {
		return &Number{Signed: false, Value: lo}
	}
	if hi == 0xFFFFFFFFFFFFFFFF && lo&0x8000000000000000 != 0 {
		return &Number{Signed: true, Value: lo}
	}
	return &BigInt{Hi: hi, Lo: lo}
}

type Real struct {
	Wide  bool
	Value float64
}

func (*Real) TypeName() string {
	return "real"
}

func (p *Real) Hash() interface{} {
	if p.Wide {
		return p.Value
	}
	return float32(p.Value)
}

type Boolean bool

func (Boolean) TypeName() string {
	return "boolean"
}

func (p Boolean) Hash() interface{} {
	return bool(p)
}

type UID uint64

func (UID) TypeName() string {
	return "UID"
}

func (p UID) Hash() interface{} {
	return p
}

type Data []byte

func (Data) TypeName() string {
	return "data"
}

func (p Data) Hash() interface{} {
	// Data are uniqued by their contents; byte-wise equality is
	// authoritative. The key type keeps Data apart from a String
	// holding the same bytes.
	type dataKey string
	return dataKey(p)
}

type Date time.Time

func (Date) TypeName() string {
	return "date"
}

func (p Date) Hash() interface{} {
	// a distinct key type, so a Date never shares a key with a signed Number
	type dateKey int64
	return dateKey(time.Time(p).UnixNano())
}

type UUID [16]byte

func (UUID) TypeName() string {
	return "UUID"
}

func (p UUID) Hash() interface{} {
	return p
}

// URL carries a relative reference and an optional base. An empty Base
// means the reference stands alone.
type URL struct {
	Base string
	Ref  string
}

func (*URL) TypeName() string {
	return "URL"
}

func (p *URL) Hash() interface{} {
	return [2]string{p.Base, p.Ref}
}

type Null struct{}

func (Null) TypeName() string {
	return "null"
}

func (p Null) Hash() interface{} {
	return p
}

type Fill struct{}

func (Fill) TypeName() string {
	return "fill"
}

func (p Fill) Hash() interface{} {
	return p
}

// Equal reports deep equality of two Values. Scalars compare by value
// (Data by byte contents); collections compare element-wise, with
// dictionary key order significant.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}

	switch a := a.(type) {
	case *Dictionary:
		b, ok := b.(*Dictionary)
		if !ok || len(a.Keys) != len(b.Keys) {
			return false
		}
		for i, k := range a.Keys {
			if k != b.Keys[i] || !Equal(a.Values[i], b.Values[i]) {
				return false
			}
		}
		return true
	case *Array:
		b, ok := b.(*Array)
		if !ok || len(a.Values) != len(b.Values) {
			return false
		}
		for i, v := range a.Values {
			if !Equal(v, b.Values[i]) {
				return false
			}
		}
		return true
	case *Set:
		b, ok := b.(*Set)
		if !ok || len(a.Values) != len(b.Values) {
			return false
		}
		// Unordered: every member of a must appear in b.
		for _, v := range a.Values {
			found := false
			for _, w := range b.Values {
				if Equal(v, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case Data:
		b, ok := b.(Data)
		return ok && string(a) == string(b)
	case Date:
		b, ok := b.(Date)
		return ok && time.Time(a).Equal(time.Time(b))
	case *Number:
		b, ok := b.(*Number)
		return ok && a.Signed == b.Signed && a.Value == b.Value
	case *BigInt:
		b, ok := b.(*BigInt)
		return ok && a.Hi == b.Hi && a.Lo == b.Lo
	case *Real:
		b, ok := b.(*Real)
		return ok && a.Wide == b.Wide && a.Value == b.Value
	case *URL:
		b, ok := b.(*URL)
		return ok && a.Base == b.Base && a.Ref == b.Ref
	default:
		return a.Hash() == b.Hash()
	}
}
