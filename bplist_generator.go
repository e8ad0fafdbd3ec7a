package plist

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf16"

	"github.com/plistio/go-plist/cf"
)

// countedWriter tracks the number of bytes emitted so the generator can
// record object offsets without seeking.
type countedWriter struct {
	io.Writer
	nbytes int
}

func (w *countedWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.nbytes += n
	return n, err
}

func (w *countedWriter) BytesWritten() int {
	return w.nbytes
}

func bplistValueShouldUnique(pval cf.Value) bool {
	switch pval.(type) {
	case cf.String, *cf.Number, *cf.BigInt, *cf.Real, cf.Date, cf.Data, cf.UID:
		return true
	}
	return false
}

type bplistGenerator struct {
	writer   *countedWriter
	objmap   map[interface{}]uint64 // maps Value.Hash()es to object table indices
	objtable []cf.Value
	trailer  bplistTrailer
	path     pathStack
}

func newBplistGenerator(w io.Writer) *bplistGenerator {
	return &bplistGenerator{
		writer: &countedWriter{Writer: w},
	}
}

func (p *bplistGenerator) error(kind errKind, e string, args ...interface{}) {
	panic(&codecError{kind, p.path.String(), int64(p.writer.BytesWritten()), fmt.Errorf(e, args...)})
}

func (p *bplistGenerator) mustWrite(v interface{}) {
	err := binary.Write(p.writer, binary.BigEndian, v)
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

// flattenPlistValue produces the insertion-ordered object table. Scalars
// already seen are not re-added; containers, booleans and fills get a
// fresh entry per occurrence. Dictionary keys are enumerated before
// values so that the emitted key-ref block precedes the value-ref block.
func (p *bplistGenerator) flattenPlistValue(pval cf.Value) {
	switch pval.(type) {
	case cf.Null, cf.UUID, *cf.URL, *cf.Set:
		p.error(errEncodingRejected, "%s values cannot be represented in a version 00 property list", pval.TypeName())
	}

	key := pval.Hash()
	if bplistValueShouldUnique(pval) {
		if _, ok := p.objmap[key]; ok {
			return
		}
	}

	p.objmap[key] = uint64(len(p.objtable))
	p.objtable = append(p.objtable, pval)

	switch pval := pval.(type) {
	case *cf.Dictionary:
		for _, k := range pval.Keys {
			p.flattenPlistValue(cf.String(k))
		}
		for i, v := range pval.Values {
			p.path.push(fmt.Sprintf("dict[%s]", pval.Keys[i]))
			p.flattenPlistValue(v)
			p.path.pop()
		}
	case *cf.Array:
		for i, v := range pval.Values {
			p.path.push(fmt.Sprintf("array[%d]", i))
			p.flattenPlistValue(v)
			p.path.pop()
		}
	}
}

func (p *bplistGenerator) indexForPlistValue(pval cf.Value) (uint64, bool) {
	v, ok := p.objmap[pval.Hash()]
	return v, ok
}

func (p *bplistGenerator) generateDocument(root cf.Value) {
	p.path.push("plist[0.0]")
	p.objtable = make([]cf.Value, 0, 16)
	p.objmap = make(map[interface{}]uint64)
	p.flattenPlistValue(root)

	p.trailer.NumObjects = uint64(len(p.objtable))
	p.trailer.ObjectRefSize = uint8(bplistMinimumIntSize(p.trailer.NumObjects))

	p.mustWrite([]byte("bplist00"))

	offtable := make([]uint64, p.trailer.NumObjects)
	for i, pval := range p.objtable {
		offtable[i] = uint64(p.writer.BytesWritten())
		p.writePlistValue(pval)
	}

	p.trailer.OffsetTableOffset = uint64(p.writer.BytesWritten())
	p.trailer.OffsetIntSize = uint8(bplistMinimumIntSize(p.trailer.OffsetTableOffset))
	p.trailer.TopObject = 0 // the root is flattened first

	for _, offset := range offtable {
		p.writeSizedInt(offset, int(p.trailer.OffsetIntSize))
	}

	p.mustWrite(p.trailer)
}

func (p *bplistGenerator) writePlistValue(pval cf.Value) {
	switch pval := pval.(type) {
	case *cf.Dictionary:
		p.writeDictionaryTag(pval)
	case *cf.Array:
		p.writeArrayTag(pval.Values)
	case cf.String:
		p.writeStringTag(string(pval))
	case *cf.Number:
		p.writeIntTag(pval.Signed, pval.Value)
	case *cf.BigInt:
		p.writeBigIntTag(pval)
	case *cf.Real:
		if pval.Wide {
			p.writeRealTag(pval.Value, 64)
		} else {
			p.writeRealTag(pval.Value, 32)
		}
	case cf.Boolean:
		p.writeBoolTag(bool(pval))
	case cf.Data:
		p.writeDataTag([]byte(pval))
	case cf.Date:
		p.writeDateTag(time.Time(pval))
	case cf.UID:
		p.writeUIDTag(pval)
	case cf.Fill:
		p.mustWrite(uint8(bpTagFill))
	default:
		p.error(errEncodingRejected, "unknown plist type %s", valueTypeName(pval))
	}
}

func (p *bplistGenerator) writeSizedInt(n uint64, nbytes int) {
	var val interface{}
	switch nbytes {
	case 1:
		val = uint8(n)
	case 2:
		val = uint16(n)
	case 4:
		val = uint32(n)
	case 8:
		val = n
	default:
		p.error(errOverflow, "illegal integer size %d", nbytes)
	}
	p.mustWrite(val)
}

func (p *bplistGenerator) writeBoolTag(v bool) {
	tag := uint8(bpTagBoolFalse)
	if v {
		tag = bpTagBoolTrue
	}
	p.mustWrite(tag)
}

func (p *bplistGenerator) writeIntTag(signed bool, n uint64) {
	var tag uint8
	var val interface{}
	switch {
	case signed && int64(n) < 0:
		// negative values are always stored as 8-byte signed integers
		val = n
		tag = bpTagInteger | 0x3
	case n <= uint64(0xff):
		val = uint8(n)
		tag = bpTagInteger | 0x0
	case n <= uint64(0xffff):
		val = uint16(n)
		tag = bpTagInteger | 0x1
	case n <= uint64(0xffffffff):
		val = uint32(n)
		tag = bpTagInteger | 0x2
	case n > uint64(0x7fffffffffffffff) && !signed:
		// 64-bit values are always signed in format 00. Any unsigned
		// value that doesn't intersect with the signed range must be
		// zero-extended and stored as a SInt128.
		val = n
		tag = bpTagInteger | 0x4
	default:
		val = n
		tag = bpTagInteger | 0x3
	}

	p.mustWrite(tag)
	if tag&0xF == 0x4 {
		p.mustWrite(uint64(0))
	}
	p.mustWrite(val)
}

func (p *bplistGenerator) writeBigIntTag(n *cf.BigInt) {
	p.mustWrite(uint8(bpTagInteger | 0x4))
	p.mustWrite(n.Hi)
	p.mustWrite(n.Lo)
}

func (p *bplistGenerator) writeUIDTag(u cf.UID) {
	nbytes := bplistMinimumIntSize(uint64(u))
	tag := uint8(bpTagUID | uint8(nbytes-1))

	p.mustWrite(tag)
	p.writeSizedInt(uint64(u), nbytes)
}

func (p *bplistGenerator) writeRealTag(n float64, bits int) {
	var tag uint8 = bpTagReal | 0x3
	var val interface{} = n
	if bits == 32 {
		val = float32(n)
		tag = bpTagReal | 0x2
	}

	p.mustWrite(tag)
	p.mustWrite(val)
}

func (p *bplistGenerator) writeDateTag(t time.Time) {
	tag := uint8(bpTagDate) | 0x3
	p.mustWrite(tag)
	p.mustWrite(timeToSeconds(t))
}

func (p *bplistGenerator) writeCountedTag(tag uint8, count uint64) {
	marker := tag
	if count >= 0xF {
		marker |= 0xF
	} else {
		marker |= uint8(count)
	}

	p.mustWrite(marker)

	if count >= 0xF {
		p.writeIntTag(false, count)
	}
}

func (p *bplistGenerator) writeDataTag(data []byte) {
	p.writeCountedTag(bpTagData, uint64(len(data)))
	p.mustWrite(data)
}

func (p *bplistGenerator) writeStringTag(str string) {
	for _, r := range str {
		if r > 0x7F {
			utf16Runes := utf16.Encode([]rune(str))
			p.writeCountedTag(bpTagUTF16String, uint64(len(utf16Runes)))
			p.mustWrite(utf16Runes)
			return
		}
	}

	p.writeCountedTag(bpTagASCIIString, uint64(len(str)))
	p.mustWrite([]byte(str))
}

func (p *bplistGenerator) writeDictionaryTag(dict *cf.Dictionary) {
	// invariant: keys were flattened (and uniqued) as strings before any
	// of the values, so every lookup below must succeed.
	cnt := len(dict.Keys)
	p.writeCountedTag(bpTagDictionary, uint64(cnt))
	refs := make([]uint64, cnt*2)
	for i, k := range dict.Keys {
		keyIdx, ok := p.indexForPlistValue(cf.String(k))
		if !ok {
			p.error(errEncodingRejected, "dictionary key %s is not in the object table", k)
		}
		valIdx, ok := p.indexForPlistValue(dict.Values[i])
		if !ok {
			p.error(errEncodingRejected, "dictionary value for %s is not in the object table", k)
		}
		refs[i] = keyIdx
		refs[i+cnt] = valIdx
	}
	for _, ref := range refs {
		p.writeSizedInt(ref, int(p.trailer.ObjectRefSize))
	}
}

func (p *bplistGenerator) writeArrayTag(arr []cf.Value) {
	p.writeCountedTag(bpTagArray, uint64(len(arr)))
	for i, v := range arr {
		idx, ok := p.indexForPlistValue(v)
		if !ok {
			p.error(errEncodingRejected, "array value %d is not in the object table", i)
		}
		p.writeSizedInt(idx, int(p.trailer.ObjectRefSize))
	}
}
