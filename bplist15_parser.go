package plist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"unicode/utf16"

	"github.com/plistio/go-plist/cf"
)

// bplist15Parser reads the bplist15 dialect: no offset table, no trailer;
// the root object is stored inline after a self-describing byte length
// and a CRC (which is not validated).
type bplist15Parser struct {
	reader  io.ReadSeeker
	fileLen int64
	path    pathStack
}

func newBplist15Parser(r io.ReadSeeker) *bplist15Parser {
	return &bplist15Parser{reader: r}
}

func (p *bplist15Parser) error(kind errKind, e string, args ...interface{}) {
	off, _ := p.reader.Seek(0, io.SeekCurrent)
	panic(&codecError{kind, p.path.String(), off, fmt.Errorf(e, args...)})
}

func (p *bplist15Parser) mustRead(v interface{}) {
	err := binary.Read(p.reader, binary.BigEndian, v)
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

func (p *bplist15Parser) parseDocument() (pval cf.Value, parseError error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			if _, ok := r.(invalidPlistError); ok {
				parseError = r.(error)
			} else {
				parseError = plistParseError{"binary", r.(error)}
			}
		}
	}()

	p.path.push("plist[1.5]")

	var err error
	p.fileLen, err = p.reader.Seek(0, io.SeekEnd)
	if err != nil {
		panic(invalidPlistError{"binary", err})
	}

	header := make([]byte, bplistHeaderLen)
	p.reader.Seek(0, io.SeekStart)
	_, err = io.ReadFull(p.reader, header)
	if err != nil {
		panic(invalidPlistError{"binary", err})
	}
	if string(header) != "bplist15" {
		panic(invalidPlistError{"binary", errors.New("mismatched magic")})
	}

	if p.fileLen < bplist15MinLen {
		p.error(errMalformedHeader, "%d-byte file is too short to hold a version 15 property list", p.fileLen)
	}

	var lenMarker uint8
	p.mustRead(&lenMarker)
	if lenMarker != bpTagInteger|0x3 {
		p.error(errMalformedHeader, "byte length field has marker 0x%02x, not 0x13", lenMarker)
	}
	var byteLen uint64
	p.mustRead(&byteLen)
	if byteLen != uint64(p.fileLen) {
		p.error(errMalformedHeader, "byte length field (%d) does not match the file length (%d)", byteLen, p.fileLen)
	}

	var crcMarker uint8
	p.mustRead(&crcMarker)
	if crcMarker != bpTagInteger|0x2 {
		p.error(errMalformedHeader, "CRC field has marker 0x%02x, not 0x12", crcMarker)
	}
	var crc uint32
	p.mustRead(&crc) // read and ignored

	return p.parseObject(), nil
}

// readSizedInt returns a 128-bit integer as low64, high64.
func (p *bplist15Parser) readSizedInt(nbytes int) (uint64, uint64) {
	switch nbytes {
	case 1:
		var val uint8
		p.mustRead(&val)
		return uint64(val), 0
	case 2:
		var val uint16
		p.mustRead(&val)
		return uint64(val), 0
	case 4:
		var val uint32
		p.mustRead(&val)
		return uint64(val), 0
	case 8:
		var val uint64
		p.mustRead(&val)
		return val, 0
	case 16:
		var high, low uint64
		p.mustRead(&high)
		p.mustRead(&low)
		return low, high
	}
	p.error(errMalformedMarker, "illegal integer size %d", nbytes)
	return 0, 0
}

func (p *bplist15Parser) countForTag(tag uint8) uint64 {
	cnt := uint64(tag & 0x0F)
	if cnt == 0xF {
		var intTag uint8
		p.mustRead(&intTag)
		if intTag&0xF0 != bpTagInteger {
			p.error(errMalformedMarker, "extended count is not an integer (marker 0x%02x)", intTag)
		}
		var hi uint64
		cnt, hi = p.readSizedInt(1 << (intTag & 0xF))
		if hi != 0 {
			p.error(errOverflow, "extended count does not fit in 64 bits")
		}
	}
	if cnt > uint64(p.fileLen) {
		p.error(errOverflow, "count %d exceeds the file length %d", cnt, p.fileLen)
	}
	return cnt
}

func (p *bplist15Parser) parseString() string {
	sval, ok := p.parseObject().(cf.String)
	if !ok {
		p.error(errTypeMismatch, "expected a string object")
	}
	return string(sval)
}

func (p *bplist15Parser) parseObject() cf.Value {
	var tag uint8
	p.mustRead(&tag)

	switch tag & 0xF0 {
	case bpTagNull:
		switch tag & 0x0F {
		case bpTagNull:
			return cf.Null{}
		case bpTagBoolTrue, bpTagBoolFalse:
			return cf.Boolean(tag == bpTagBoolTrue)
		case bpTagFill:
			return cf.Fill{}
		case bpTagURL:
			p.path.push("url")
			ref := p.parseString()
			p.path.pop()
			return &cf.URL{Ref: ref}
		case bpTagBaseURL:
			p.path.push("url")
			base, ok := p.parseObject().(*cf.URL)
			if !ok || base.Base != "" {
				p.error(errTypeMismatch, "URL base must itself be a base-less URL")
			}
			ref := p.parseString()
			p.path.pop()
			return &cf.URL{Base: base.Ref, Ref: ref}
		case bpTagUUID:
			var u cf.UUID
			p.mustRead(u[:])
			return u
		}
		p.error(errMalformedMarker, "reserved marker 0x%02x", tag)
	case bpTagInteger:
		if tag&0x0F > 4 {
			p.error(errMalformedMarker, "illegal integer width marker 0x%02x", tag)
		}
		lo, hi := p.readSizedInt(1 << (tag & 0xF))
		if tag&0x0F == 4 {
			return cf.CollapseBigInt(hi, lo)
		}
		if tag&0x0F == 3 {
			return &cf.Number{Signed: int64(lo) < 0, Value: lo}
		}
		return &cf.Number{Signed: false, Value: lo}
	case bpTagReal:
		switch 1 << (tag & 0x0F) {
		case 4:
			var val float32
			p.mustRead(&val)
			return &cf.Real{Wide: false, Value: float64(val)}
		case 8:
			var val float64
			p.mustRead(&val)
			return &cf.Real{Wide: true, Value: val}
		}
		p.error(errMalformedMarker, "illegal real width marker 0x%02x", tag)
	case bpTagDate:
		if tag != bpTagDate|0x3 {
			p.error(errMalformedMarker, "illegal date marker 0x%02x", tag)
		}
		var val float64
		p.mustRead(&val)
		return cf.Date(secondsToTime(val))
	case bpTagData:
		cnt := p.countForTag(tag)
		bytes := make([]byte, cnt)
		p.mustRead(bytes)
		return cf.Data(bytes)
	case bpTagASCIIString:
		cnt := p.countForTag(tag)
		bytes := make([]byte, cnt)
		p.mustRead(bytes)
		return cf.String(bytes)
	case bpTagUTF16String:
		cnt := p.countForTag(tag)
		units := make([]uint16, cnt)
		p.mustRead(units)
		return cf.String(utf16.Decode(units))
	case bpTagUID:
		p.error(errTypeMismatch, "UID values are not valid in a version 15 property list")
	case bpTagArray:
		cnt := p.countForTag(tag)
		values := make([]cf.Value, cnt)
		for i := range values {
			p.path.push(fmt.Sprintf("array[%d]", i))
			values[i] = p.parseObject()
			p.path.pop()
		}
		return &cf.Array{Values: values}
	case bpTagSet, bpTagOrdSet:
		cnt := p.countForTag(tag)
		values := make([]cf.Value, cnt)
		for i := range values {
			p.path.push(fmt.Sprintf("set[%d]", i))
			values[i] = p.parseObject()
			for j := 0; j < i; j++ {
				if cf.Equal(values[j], values[i]) {
					p.error(errTypeMismatch, "set contains duplicate members")
				}
			}
			p.path.pop()
		}
		return &cf.Set{Values: values}
	case bpTagDictionary:
		cnt := p.countForTag(tag)
		keys := make([]string, cnt)
		values := make([]cf.Value, cnt)
		for i := range keys {
			kval := p.parseObject()
			str, ok := kval.(cf.String)
			if !ok {
				p.error(errTypeMismatch, "dictionary key %d is a %s, not a string", i, valueTypeName(kval))
			}
			keys[i] = string(str)
		}
		for i := range values {
			p.path.push(fmt.Sprintf("dict[%s]", keys[i]))
			values[i] = p.parseObject()
			p.path.pop()
		}
		return &cf.Dictionary{Keys: keys, Values: values}
	}
	p.error(errMalformedMarker, "unexpected marker 0x%02x", tag)
	return nil
}
