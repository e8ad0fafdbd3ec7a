package plist

import (
	"bytes"
	"io"
	"reflect"
	"runtime"

	"github.com/plistio/go-plist/cf"
)

type plistParser interface {
	parseDocument() (cf.Value, error)
}

// A Decoder reads a property list from an input stream.
type Decoder struct {
	// Format is populated with the detected encoding after the first
	// successful Decode.
	Format Format

	reader io.ReadSeeker
}

// NewDecoder returns a Decoder that reads a property list from r.
// NewDecoder requires a seekable stream: the binary formats are
// random-access by construction. Callers holding a plain io.Reader
// should spool it through a bytes.Reader first.
func NewDecoder(r io.ReadSeeker) *Decoder {
	return &Decoder{Format: AutomaticFormat, reader: r}
}

// Decode parses a property list document and stores the result in the
// value pointed to by v. The document's encoding is detected from its
// header: `bplist00` and `bplist15` select the binary dialects and
// anything starting an XML document selects XML.
func (p *Decoder) Decode(v interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			err = r.(error)
		}
	}()

	header := make([]byte, bplistHeaderLen)
	p.reader.Seek(0, io.SeekStart)
	p.reader.Read(header)
	p.reader.Seek(0, io.SeekStart)

	var parser plistParser
	var format Format
	if bytes.HasPrefix(header, []byte("bplist15")) {
		parser = newBplist15Parser(p.reader)
		format = Binary15Format
	} else if bytes.HasPrefix(header, []byte("bplist")) {
		parser = newBplistParser(p.reader)
		format = BinaryFormat
	} else {
		parser = newXMLPlistParser(p.reader)
		format = XMLFormat
	}

	pval, err := parser.parseDocument()
	if err != nil {
		return err
	}

	p.Format = format
	p.unmarshal(pval, reflect.ValueOf(v))
	return
}

// Unmarshal parses a property list document in data and stores the
// result in the value pointed to by v. It reports the detected input
// format alongside any error.
//
// Unmarshal uses the inverse of the encodings that Marshal uses,
// allocating heap-borne types as necessary. When given a pointer to an
// empty interface, dictionaries decode as map[string]interface{}, arrays
// as []interface{}, sets as Set, integers as int64 or uint64, integers
// that do not fit in 64 bits as *big.Int, 32- and 64-bit reals as float32 and float64,
// dates as time.Time, data as []byte, UIDs as UID, UUIDs as uuid.UUID,
// URLs as URL and null as nil.
func Unmarshal(data []byte, v interface{}) (Format, error) {
	d := NewDecoder(bytes.NewReader(data))
	err := d.Decode(v)
	return d.Format, err
}
