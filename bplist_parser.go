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

type bplistParser struct {
	reader        io.ReadSeeker
	objrefs       map[uint64]cf.Value // scalar cache; containers are re-read per reference
	offtable      []uint64
	trailer       bplistTrailer
	trailerOffset int64

	containerStack []uint64 // offsets of containers on the current descent
	path           pathStack
}

func newBplistParser(r io.ReadSeeker) *bplistParser {
	return &bplistParser{reader: r}
}

func (p *bplistParser) error(kind errKind, off int64, e string, args ...interface{}) {
	panic(&codecError{kind, p.path.String(), off, fmt.Errorf(e, args...)})
}

func (p *bplistParser) mustRead(v interface{}, off int64) {
	err := binary.Read(p.reader, binary.BigEndian, v)
	if err != nil {
		p.error(errIOFailure, off, "%v", err)
	}
}

func (p *bplistParser) mustSeek(off int64) {
	_, err := p.reader.Seek(off, io.SeekStart)
	if err != nil {
		p.error(errIOFailure, off, "%v", err)
	}
}

func (p *bplistParser) parseDocument() (pval cf.Value, parseError error) {
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

	p.path.push("plist[0.0]")

	header := make([]byte, bplistHeaderLen)
	p.reader.Seek(0, io.SeekStart)
	_, err := io.ReadFull(p.reader, header)
	if err != nil {
		panic(invalidPlistError{"binary", err})
	}
	if string(header[0:6]) != "bplist" {
		panic(invalidPlistError{"binary", errors.New("mismatched magic")})
	}
	if string(header[6:8]) != "00" && string(header[6:8]) != "01" {
		p.error(errMalformedHeader, 6, "unknown binary property list version %q", string(header[6:8]))
	}

	p.trailerOffset, err = p.reader.Seek(-bplistTrailerLen, io.SeekEnd)
	if err != nil {
		p.error(errMalformedTrailer, 0, "%v", err)
	}
	p.mustRead(&p.trailer, p.trailerOffset)

	p.validateDocumentTrailer()
	p.readOffsetTable()

	p.objrefs = make(map[uint64]cf.Value)
	return p.valueAtOffset(p.offtable[p.trailer.TopObject]), nil
}

func (p *bplistParser) validateDocumentTrailer() {
	t := &p.trailer

	if t.OffsetIntSize < 1 || t.ObjectRefSize < 1 {
		p.error(errMalformedTrailer, p.trailerOffset, "zero-width offset (%d) or reference (%d) integers", t.OffsetIntSize, t.ObjectRefSize)
	}

	if t.NumObjects == 0 {
		p.error(errMalformedTrailer, p.trailerOffset, "no objects")
	}

	if t.OffsetTableOffset >= uint64(p.trailerOffset) {
		p.error(errMalformedTrailer, p.trailerOffset, "offset table begins beyond the trailer (0x%x, trailer@0x%x)", t.OffsetTableOffset, p.trailerOffset)
	}

	if t.OffsetTableOffset < bplistHeaderLen+1 {
		p.error(errMalformedTrailer, p.trailerOffset, "offset table begins inside the header (0x%x)", t.OffsetTableOffset)
	}

	// file length = header + object data + offset table + trailer, exactly
	if uint64(p.trailerOffset) != t.OffsetTableOffset+t.NumObjects*uint64(t.OffsetIntSize) {
		p.error(errMalformedTrailer, p.trailerOffset, "offset table (%d entries of %d bytes at 0x%x) does not abut the trailer at 0x%x", t.NumObjects, t.OffsetIntSize, t.OffsetTableOffset, p.trailerOffset)
	}

	if t.ObjectRefSize < 8 && (uint64(1)<<(8*t.ObjectRefSize)) <= t.NumObjects {
		p.error(errMalformedTrailer, p.trailerOffset, "%d objects cannot be addressed by %d-byte references", t.NumObjects, t.ObjectRefSize)
	}

	if t.OffsetIntSize < 8 && (uint64(1)<<(8*t.OffsetIntSize)) <= t.OffsetTableOffset {
		p.error(errMalformedTrailer, p.trailerOffset, "%d-byte offsets cannot address the whole file (table at 0x%x)", t.OffsetIntSize, t.OffsetTableOffset)
	}

	if t.TopObject >= t.NumObjects {
		p.error(errMalformedTrailer, p.trailerOffset, "top object %d out of range (%d objects)", t.TopObject, t.NumObjects)
	}
}

func (p *bplistParser) readOffsetTable() {
	p.mustSeek(int64(p.trailer.OffsetTableOffset))

	p.offtable = make([]uint64, p.trailer.NumObjects)
	maxOffset := p.trailer.OffsetTableOffset - 1
	for i := uint64(0); i < p.trailer.NumObjects; i++ {
		off, hi := p.readSizedInt(int(p.trailer.OffsetIntSize))
		if hi != 0 || off > maxOffset || off < bplistHeaderLen {
			p.error(errOffsetOutOfRange, int64(p.trailer.OffsetTableOffset), "object %d starts at 0x%x, outside [0x8, 0x%x]", i, off, maxOffset)
		}
		p.offtable[i] = off
	}
}

// readSizedInt returns a 128-bit integer as low64, high64.
func (p *bplistParser) readSizedInt(nbytes int) (uint64, uint64) {
	pos, _ := p.reader.Seek(0, io.SeekCurrent)
	switch nbytes {
	case 1:
		var val uint8
		p.mustRead(&val, pos)
		return uint64(val), 0
	case 2:
		var val uint16
		p.mustRead(&val, pos)
		return uint64(val), 0
	case 4:
		var val uint32
		p.mustRead(&val, pos)
		return uint64(val), 0
	case 8:
		var val uint64
		p.mustRead(&val, pos)
		return val, 0
	case 16:
		var high, low uint64
		p.mustRead(&high, pos)
		p.mustRead(&low, pos)
		return low, high
	}
	p.error(errMalformedMarker, pos, "illegal integer size %d", nbytes)
	return 0, 0
}

// countForTag resolves the low nibble of a marker into an element count,
// consuming the trailing packed integer for the 0xF extended form.
func (p *bplistParser) countForTag(tag uint8) uint64 {
	cnt := uint64(tag & 0x0F)
	if cnt == 0xF {
		pos, _ := p.reader.Seek(0, io.SeekCurrent)
		var intTag uint8
		p.mustRead(&intTag, pos)
		if intTag&0xF0 != bpTagInteger {
			p.error(errMalformedMarker, pos, "extended count is not an integer (marker 0x%02x)", intTag)
		}
		var hi uint64
		cnt, hi = p.readSizedInt(1 << (intTag & 0xF))
		if hi != 0 {
			p.error(errOverflow, pos, "extended count does not fit in 64 bits")
		}
		if cnt > p.trailer.OffsetTableOffset {
			p.error(errOverflow, pos, "count %d exceeds the object data size", cnt)
		}
	}
	return cnt
}

func (p *bplistParser) valueAtOffset(off uint64) cf.Value {
	if pval, ok := p.objrefs[off]; ok {
		return pval
	}
	pval := p.parseTagAtOffset(int64(off))
	switch pval.(type) {
	case *cf.Dictionary, *cf.Array, *cf.Set:
		// containers are never cached; each reference re-reads them
	default:
		p.objrefs[off] = pval
	}
	return pval
}

// refAtCurrentPosition reads one objectRefSize-wide reference and resolves
// it to a byte offset through the offset table.
func (p *bplistParser) refAtCurrentPosition() uint64 {
	pos, _ := p.reader.Seek(0, io.SeekCurrent)
	idx, _ := p.readSizedInt(int(p.trailer.ObjectRefSize))
	if idx >= p.trailer.NumObjects {
		p.error(errRefOutOfRange, pos, "reference %d out of range (%d objects)", idx, p.trailer.NumObjects)
	}
	return p.offtable[idx]
}

func (p *bplistParser) pushContainer(off int64) {
	for _, ancestor := range p.containerStack {
		if ancestor == uint64(off) {
			p.error(errCycleDetected, off, "container at 0x%x references itself through its descendants", off)
		}
	}
	p.containerStack = append(p.containerStack, uint64(off))
}

func (p *bplistParser) popContainer() {
	p.containerStack = p.containerStack[:len(p.containerStack)-1]
}

func (p *bplistParser) validateObjectListLength(off int64, length uint64, context string) {
	if uint64(off)+(length*uint64(p.trailer.ObjectRefSize)) > p.trailer.OffsetTableOffset {
		p.error(errOffsetOutOfRange, off, "%s length (%d) puts its end beyond the offset table at 0x%x", context, length, p.trailer.OffsetTableOffset)
	}
}

func (p *bplistParser) parseTagAtOffset(off int64) cf.Value {
	var tag uint8
	p.mustSeek(off)
	p.mustRead(&tag, off)

	switch tag & 0xF0 {
	case bpTagNull:
		switch tag & 0x0F {
		case bpTagBoolTrue, bpTagBoolFalse:
			return cf.Boolean(tag == bpTagBoolTrue)
		case bpTagFill:
			return cf.Fill{}
		case bpTagNull, bpTagURL, bpTagBaseURL, bpTagUUID:
			p.error(errTypeMismatch, off, "marker 0x%02x is not valid in a version 00 property list", tag)
		}
		p.error(errMalformedMarker, off, "reserved marker 0x%02x", tag)
	case bpTagInteger:
		if tag&0x0F > 4 {
			p.error(errMalformedMarker, off, "illegal integer width marker 0x%02x", tag)
		}
		lo, hi := p.readSizedInt(1 << (tag & 0xF))
		if tag&0x0F == 4 {
			return cf.CollapseBigInt(hi, lo)
		}
		if tag&0x0F == 3 {
			// 8-byte integers are signed; narrower ones are not.
			return &cf.Number{Signed: int64(lo) < 0, Value: lo}
		}
		return &cf.Number{Signed: false, Value: lo}
	case bpTagReal:
		nbytes := 1 << (tag & 0x0F)
		switch nbytes {
		case 4:
			var val float32
			p.mustRead(&val, off)
			return &cf.Real{Wide: false, Value: float64(val)}
		case 8:
			var val float64
			p.mustRead(&val, off)
			return &cf.Real{Wide: true, Value: val}
		}
		p.error(errMalformedMarker, off, "illegal real width marker 0x%02x", tag)
	case bpTagDate:
		if tag != bpTagDate|0x3 {
			p.error(errMalformedMarker, off, "illegal date marker 0x%02x", tag)
		}
		var val float64
		p.mustRead(&val, off)
		return cf.Date(secondsToTime(val))
	case bpTagData:
		cnt := p.countForTag(tag)
		if uint64(off)+cnt > p.trailer.OffsetTableOffset {
			p.error(errOffsetOutOfRange, off, "data (%d bytes) extends beyond the offset table at 0x%x", cnt, p.trailer.OffsetTableOffset)
		}

		bytes := make([]byte, cnt)
		p.mustRead(bytes, off)
		return cf.Data(bytes)
	case bpTagASCIIString, bpTagUTF16String:
		cnt := p.countForTag(tag)
		characterWidth := uint64(1)
		if tag&0xF0 == bpTagUTF16String {
			characterWidth = 2
		}
		if uint64(off)+cnt*characterWidth > p.trailer.OffsetTableOffset {
			p.error(errOffsetOutOfRange, off, "string (%d bytes) extends beyond the offset table at 0x%x", cnt*characterWidth, p.trailer.OffsetTableOffset)
		}

		if tag&0xF0 == bpTagASCIIString {
			bytes := make([]byte, cnt)
			p.mustRead(bytes, off)
			return cf.String(bytes)
		}

		units := make([]uint16, cnt)
		p.mustRead(units, off)
		return cf.String(utf16.Decode(units))
	case bpTagUID: // the low nibble is nbytes - 1, not log2(nbytes)
		nbytes := int(tag&0xF) + 1
		if nbytes > 8 {
			p.error(errOverflow, off, "UID wider than 8 bytes")
		}
		val, _ := p.readSizedInt(nbytes)
		return cf.UID(val)
	case bpTagDictionary:
		cnt := p.countForTag(tag)
		p.validateObjectListLength(off, cnt*2, "dictionary")

		offsets := make([]uint64, cnt*2)
		for i := range offsets {
			offsets[i] = p.refAtCurrentPosition()
		}

		p.pushContainer(off)
		defer p.popContainer()

		keys := make([]string, cnt)
		values := make([]cf.Value, cnt)
		for i := uint64(0); i < cnt; i++ {
			kval := p.valueAtOffset(offsets[i])
			str, ok := kval.(cf.String)
			if !ok {
				p.error(errTypeMismatch, int64(offsets[i]), "dictionary key %d is a %s, not a string", i, valueTypeName(kval))
			}
			keys[i] = string(str)

			p.path.push(fmt.Sprintf("dict[%s]", keys[i]))
			values[i] = p.valueAtOffset(offsets[i+cnt])
			p.path.pop()
		}

		return &cf.Dictionary{Keys: keys, Values: values}
	case bpTagArray:
		cnt := p.countForTag(tag)
		p.validateObjectListLength(off, cnt, "array")

		offsets := make([]uint64, cnt)
		for i := range offsets {
			offsets[i] = p.refAtCurrentPosition()
		}

		p.pushContainer(off)
		defer p.popContainer()

		values := make([]cf.Value, cnt)
		for i := range values {
			p.path.push(fmt.Sprintf("array[%d]", i))
			values[i] = p.valueAtOffset(offsets[i])
			p.path.pop()
		}

		return &cf.Array{Values: values}
	case bpTagSet, bpTagOrdSet:
		cnt := p.countForTag(tag)
		p.validateObjectListLength(off, cnt, "set")

		offsets := make([]uint64, cnt)
		seen := make(map[uint64]bool, cnt)
		for i := range offsets {
			offsets[i] = p.refAtCurrentPosition()
			if seen[offsets[i]] {
				p.error(errCycleDetected, off, "set references object at 0x%x twice", offsets[i])
			}
			seen[offsets[i]] = true
		}

		p.pushContainer(off)
		defer p.popContainer()

		values := make([]cf.Value, cnt)
		for i := range values {
			p.path.push(fmt.Sprintf("set[%d]", i))
			values[i] = p.valueAtOffset(offsets[i])
			p.path.pop()
		}

		return &cf.Set{Values: values}
	}
	p.error(errMalformedMarker, off, "unexpected marker 0x%02x", tag)
	return nil
}
