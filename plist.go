package plist

import (
	"fmt"

	"github.com/plistio/go-plist/cf"
)

// A Format represents an on-disk property list encoding.
type Format int

const (
	// AutomaticFormat allows the decoder to detect the encoding from the
	// document header.
	AutomaticFormat Format = iota

	XMLFormat
	BinaryFormat   // bplist00
	Binary15Format // bplist15
)

var formatNames = map[Format]string{
	AutomaticFormat: "automatic",
	XMLFormat:       "XML",
	BinaryFormat:    "binary",
	Binary15Format:  "binary15",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return "unknown"
}

// A UID is an unsigned-64 scalar used by keyed-archiver payloads. Of the
// binary dialects only bplist00 carries it; XML writes it as a string
// preceded by a UID comment.
type UID uint64

// A Set is an unordered collection. bplist15 and XML (an array marked
// with a Set comment) can encode it; bplist00 cannot.
// Members must be pairwise unequal.
type Set []interface{}

// A URL is a relative reference with an optional base; it only exists in
// bplist15 documents. An empty Base means the reference stands alone.
type URL struct {
	Base string
	Ref  string
}

type errKind int

const (
	errIOFailure errKind = iota + 1
	errMalformedHeader
	errMalformedTrailer
	errMalformedMarker
	errOffsetOutOfRange
	errRefOutOfRange
	errCycleDetected
	errOverflow
	errTypeMismatch
	errEncodingRejected
)

var errKindNames = map[errKind]string{
	errIOFailure:        "I/O failure",
	errMalformedHeader:  "malformed header",
	errMalformedTrailer: "malformed trailer",
	errMalformedMarker:  "malformed marker",
	errOffsetOutOfRange: "offset out of range",
	errRefOutOfRange:    "reference out of range",
	errCycleDetected:    "cycle detected",
	errOverflow:         "overflow",
	errTypeMismatch:     "type mismatch",
	errEncodingRejected: "encoding rejected",
}

// codecError is the error raised by every decoder and encoder frame. The
// path identifies the failing node (/plist[0.0]/dict[Name]/array[3]); for
// binary documents offset is the byte position at failure, for XML the
// input offset.
type codecError struct {
	kind   errKind
	path   string
	offset int64
	err    error
}

func (e *codecError) Error() string {
	if e.offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%x in %s: %v", errKindNames[e.kind], e.offset, e.path, e.err)
	}
	return fmt.Sprintf("%s in %s: %v", errKindNames[e.kind], e.path, e.err)
}

func (e *codecError) Unwrap() error {
	return e.err
}

// Position returns the byte position at which the operation failed, or
// -1 when no position applies.
func (e *codecError) Position() int64 {
	return e.offset
}

// invalidPlistError marks a document that could not be identified as a
// property list of the given format at all: an unreadable header, a
// mismatched magic, or input that does not start as XML.
type invalidPlistError struct {
	format string
	err    error
}

func (e invalidPlistError) Error() string {
	s := "plist: invalid " + e.format + " property list"
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e invalidPlistError) Unwrap() error {
	return e.err
}

type plistParseError struct {
	format string
	err    error
}

func (e plistParseError) Error() string {
	s := "plist: error parsing " + e.format + " property list"
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e plistParseError) Unwrap() error {
	return e.err
}

// pathStack tracks the document path threaded through recursive encode
// and decode calls; it exists solely for diagnostics.
type pathStack struct {
	frames []string
}

func (p *pathStack) push(frame string) {
	p.frames = append(p.frames, frame)
}

func (p *pathStack) pop() {
	p.frames = p.frames[:len(p.frames)-1]
}

func (p *pathStack) String() string {
	s := ""
	for _, f := range p.frames {
		s += "/" + f
	}
	if s == "" {
		return "/"
	}
	return s
}

func valueTypeName(v cf.Value) string {
	if v == nil {
		return "nil"
	}
	return v.TypeName()
}
