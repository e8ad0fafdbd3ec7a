package plist

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"runtime"

	"github.com/plistio/go-plist/cf"
)

type plistGenerator interface {
	generateDocument(cf.Value)
}

// An Encoder writes a property list to an output stream.
type Encoder struct {
	writer io.Writer
	format Format
	indent string
}

// NewEncoder returns an Encoder that writes an XML property list to w.
func NewEncoder(w io.Writer) *Encoder {
	return NewEncoderForFormat(w, XMLFormat)
}

// NewBinaryEncoder returns an Encoder that writes a binary (bplist00)
// property list to w.
func NewBinaryEncoder(w io.Writer) *Encoder {
	return NewEncoderForFormat(w, BinaryFormat)
}

// NewEncoderForFormat returns an Encoder that writes a property list of
// the given format to w. AutomaticFormat is not a valid encoding format.
func NewEncoderForFormat(w io.Writer, format Format) *Encoder {
	return &Encoder{
		writer: w,
		format: format,
	}
}

// Indent turns on pretty-printing for the XML output; each element
// begins on a new line preceded by one copy of indent per level of
// nesting. The XML generator indents with tabs when left alone.
func (p *Encoder) Indent(indent string) {
	p.indent = indent
}

// Encode writes the property list encoding of v to the stream.
func (p *Encoder) Encode(v interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			err = r.(error)
		}
	}()

	pval := p.marshal(reflect.ValueOf(v))
	if pval == nil {
		panic(errors.New("plist: no root element to encode"))
	}

	var g plistGenerator
	switch p.format {
	case XMLFormat:
		xg := newXMLPlistGenerator(p.writer)
		if p.indent != "" {
			xg.Indent(p.indent)
		}
		g = xg
	case BinaryFormat:
		g = newBplistGenerator(p.writer)
	case Binary15Format:
		g = newBplist15Generator(p.writer)
	default:
		return errors.New("plist: invalid encoding format")
	}

	g.generateDocument(pval)
	return
}

// Marshal returns the property list encoding of v in the given format.
//
// Marshal traverses the value v recursively.
// Any nil values encountered, other than the root, will be silently discarded as
// the property list format bears no representation for nil values.
//
// Strings, integers of varying size, floats and booleans are encoded unchanged.
// *big.Int values wider than 64 bits become 16-byte integers.
//
// Slice and Array values are encoded as property list arrays, except for
// []byte values, which are encoded as data. Set values are encoded as sets.
//
// Map values encode as dictionaries with their keys sorted; the map's key
// type must be string. Struct values encode as dictionaries in field
// declaration order, with only exported fields being serialized. Struct
// field encoding may be influenced with the use of tags. The tag format is
//
//	`plist:"<key>[,flags...]"`
//
// The following flags are supported:
//
//	omitempty    Only include the field if it is not set to the zero value for its type.
//
// If the key is "-", the field is ignored.
//
// Anonymous struct fields are encoded as if their exported fields were exposed via the outer struct.
//
// time.Time values encode as dates, uuid.UUID values as UUIDs, UID values
// as keyed-archiver UIDs and URL values as URLs. UUID and URL values cannot
// be encoded as bplist00, UID values cannot be encoded as bplist15, and URL
// values cannot be encoded as XML.
//
// Pointer values encode as the value pointed to.
//
// Channel, complex and function values cannot be encoded. Any attempt to do so causes Marshal to return an error.
func Marshal(v interface{}, format Format) ([]byte, error) {
	return MarshalIndent(v, format, "")
}

// MarshalIndent is like Marshal but with the XML output indented by
// indent per nesting level.
func MarshalIndent(v interface{}, format Format, indent string) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := NewEncoderForFormat(buf, format)
	if indent != "" {
		enc.Indent(indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
