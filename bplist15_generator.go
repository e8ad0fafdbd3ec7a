package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf16"

	"github.com/plistio/go-plist/cf"
)

// bplist15Generator writes the bplist15 dialect: the root object is
// emitted inline in a single recursive pass, then the total byte length
// is patched into the leading length field. The CRC field is a zero
// placeholder.
type bplist15Generator struct {
	writer io.Writer
	buf    *bytes.Buffer
	path   pathStack
}

func newBplist15Generator(w io.Writer) *bplist15Generator {
	return &bplist15Generator{writer: w, buf: &bytes.Buffer{}}
}

func (p *bplist15Generator) error(kind errKind, e string, args ...interface{}) {
	panic(&codecError{kind, p.path.String(), int64(p.buf.Len()), fmt.Errorf(e, args...)})
}

func (p *bplist15Generator) mustWrite(v interface{}) {
	err := binary.Write(p.buf, binary.BigEndian, v)
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

func (p *bplist15Generator) generateDocument(root cf.Value) {
	p.path.push("plist[1.5]")

	p.buf.WriteString("bplist15")
	p.mustWrite(uint8(bpTagInteger | 0x3))
	p.mustWrite(uint64(0)) // backpatched below
	p.mustWrite(uint8(bpTagInteger | 0x2))
	p.mustWrite(uint32(0)) // CRC placeholder

	p.writePlistValue(root)

	out := p.buf.Bytes()
	binary.BigEndian.PutUint64(out[bplist15LengthOffset:], uint64(len(out)))

	_, err := p.writer.Write(out)
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

func (p *bplist15Generator) writePlistValue(pval cf.Value) {
	switch pval := pval.(type) {
	case cf.Null:
		p.mustWrite(uint8(bpTagNull))
	case cf.Boolean:
		tag := uint8(bpTagBoolFalse)
		if bool(pval) {
			tag = bpTagBoolTrue
		}
		p.mustWrite(tag)
	case cf.Fill:
		p.mustWrite(uint8(bpTagFill))
	case *cf.URL:
		p.writeURLTag(pval)
	case cf.UUID:
		p.mustWrite(uint8(bpTagUUID))
		p.mustWrite(pval[:])
	case *cf.Number:
		p.writeIntTag(pval.Signed, pval.Value)
	case *cf.BigInt:
		p.mustWrite(uint8(bpTagInteger | 0x4))
		p.mustWrite(pval.Hi)
		p.mustWrite(pval.Lo)
	case *cf.Real:
		if pval.Wide {
			p.mustWrite(uint8(bpTagReal | 0x3))
			p.mustWrite(pval.Value)
		} else {
			p.mustWrite(uint8(bpTagReal | 0x2))
			p.mustWrite(float32(pval.Value))
		}
	case cf.Date:
		p.mustWrite(uint8(bpTagDate | 0x3))
		p.mustWrite(timeToSeconds(time.Time(pval)))
	case cf.Data:
		p.writeCountedTag(bpTagData, uint64(len(pval)))
		p.mustWrite([]byte(pval))
	case cf.String:
		p.writeStringTag(string(pval))
	case *cf.Array:
		p.writeCountedTag(bpTagArray, uint64(len(pval.Values)))
		for i, v := range pval.Values {
			p.path.push(fmt.Sprintf("array[%d]", i))
			p.writePlistValue(v)
			p.path.pop()
		}
	case *cf.Set:
		for i, v := range pval.Values {
			for j := 0; j < i; j++ {
				if cf.Equal(pval.Values[j], v) {
					p.error(errEncodingRejected, "set contains duplicate members")
				}
			}
		}
		p.writeCountedTag(bpTagSet, uint64(len(pval.Values)))
		for i, v := range pval.Values {
			p.path.push(fmt.Sprintf("set[%d]", i))
			p.writePlistValue(v)
			p.path.pop()
		}
	case *cf.Dictionary:
		p.writeCountedTag(bpTagDictionary, uint64(len(pval.Keys)))
		for _, k := range pval.Keys {
			p.writeStringTag(k)
		}
		for i, v := range pval.Values {
			p.path.push(fmt.Sprintf("dict[%s]", pval.Keys[i]))
			p.writePlistValue(v)
			p.path.pop()
		}
	case cf.UID:
		p.error(errEncodingRejected, "UID values cannot be represented in a version 15 property list")
	default:
		p.error(errEncodingRejected, "unknown plist type %s", valueTypeName(pval))
	}
}

func (p *bplist15Generator) writeURLTag(u *cf.URL) {
	if u.Base != "" {
		p.mustWrite(uint8(bpTagBaseURL))
		p.writeURLTag(&cf.URL{Ref: u.Base})
	} else {
		p.mustWrite(uint8(bpTagURL))
	}
	p.writeStringTag(u.Ref)
}

func (p *bplist15Generator) writeIntTag(signed bool, n uint64) {
	var tag uint8
	var val interface{}
	switch {
	case signed && int64(n) < 0:
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

func (p *bplist15Generator) writeCountedTag(tag uint8, count uint64) {
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

func (p *bplist15Generator) writeStringTag(str string) {
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
