package plist

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/plistio/go-plist/cf"
)

// asUint64 reinterprets a negative int64 as the equivalent uint64 bit
// pattern. It exists because uint64(int64(-N)) is rejected by the
// compiler as an unrepresentable constant conversion.
func asUint64(i int64) uint64 {
	return uint64(i)
}

func encodeBplist(t *testing.T, root cf.Value) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("generate: %v", r)
			}
		}()
		newBplistGenerator(buf).generateDocument(root)
	}()
	return buf.Bytes()
}

func decodeBplist(t *testing.T, data []byte) cf.Value {
	t.Helper()
	pval, err := newBplistParser(bytes.NewReader(data)).parseDocument()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return pval
}

func errorKind(err error) errKind {
	for err != nil {
		if ce, ok := err.(*codecError); ok {
			return ce.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

func TestBplistEmptyDictionary(t *testing.T) {
	out := encodeBplist(t, &cf.Dictionary{})

	expected := append([]byte("bplist00"), 0xD0, 0x08)
	trailer := make([]byte, 32)
	trailer[6] = 1                              // offset int size
	trailer[7] = 1                              // object ref size
	binary.BigEndian.PutUint64(trailer[8:], 1)  // num objects
	binary.BigEndian.PutUint64(trailer[16:], 0) // top object
	binary.BigEndian.PutUint64(trailer[24:], 9) // offset table offset
	expected = append(expected, trailer...)

	if len(out) != 42 {
		t.Errorf("encoded empty dictionary is %d bytes, expected 42", len(out))
	}
	if !bytes.Equal(out, expected) {
		t.Errorf("unexpected document\n  got %2x\n want %2x", out, expected)
	}
}

func TestBplistSingleBoolean(t *testing.T) {
	out := encodeBplist(t, cf.Boolean(true))
	if len(out) != 42 {
		t.Errorf("encoded boolean is %d bytes, expected 42", len(out))
	}
	if out[8] != 0x09 {
		t.Errorf("boolean body is 0x%02x, expected 0x09", out[8])
	}
	if out[9] != 0x08 {
		t.Errorf("offset table entry is 0x%02x, expected 0x08", out[9])
	}
}

func TestBplistSmallDictionaryLayout(t *testing.T) {
	out := encodeBplist(t, &cf.Dictionary{
		Keys:   []string{"k"},
		Values: []cf.Value{&cf.Number{Value: 300}},
	})

	body := []byte{
		0xD1, 0x01, 0x02, // dict, key ref, value ref
		0x51, 'k', // one-character ASCII string
		0x11, 0x01, 0x2C, // two-byte integer 300
	}
	if !bytes.Equal(out[8:16], body) {
		t.Errorf("unexpected object bodies %2x, expected %2x", out[8:16], body)
	}
	if !bytes.Equal(out[16:19], []byte{0x08, 0x0B, 0x0D}) {
		t.Errorf("unexpected offset table %2x", out[16:19])
	}
}

func TestBplistUnicodeString(t *testing.T) {
	out := encodeBplist(t, cf.String("αβ"))
	body := []byte{0x62, 0x03, 0xB1, 0x03, 0xB2}
	if !bytes.Equal(out[8:13], body) {
		t.Errorf("unexpected UTF-16 body %2x, expected %2x", out[8:13], body)
	}
}

func TestBplistIntegerWidths(t *testing.T) {
	tests := []struct {
		value  cf.Value
		marker uint8
	}{
		{&cf.Number{Value: 0xFF}, 0x10},
		{&cf.Number{Value: 0x100}, 0x11},
		{&cf.Number{Value: 0xFFFF}, 0x11},
		{&cf.Number{Value: 0x10000}, 0x12},
		{&cf.Number{Value: 0xFFFFFFFF}, 0x12},
		{&cf.Number{Value: 0x100000000}, 0x13},
		{&cf.Number{Value: math.MaxInt64}, 0x13},
		{&cf.Number{Signed: true, Value: uint64(uint64(1) << 63)}, 0x13}, // INT64_MIN
		{&cf.Number{Value: math.MaxInt64 + 1}, 0x14},                     // unsigned, beyond the signed range
	}
	for _, test := range tests {
		out := encodeBplist(t, test.value)
		if out[8] != test.marker {
			t.Errorf("%#v: marker 0x%02x, expected 0x%02x", test.value, out[8], test.marker)
		}
	}
}

func TestBplistStringCountBoundary(t *testing.T) {
	fourteen := encodeBplist(t, cf.String("aaaaaaaaaaaaaa"))
	if fourteen[8] != 0x5E {
		t.Errorf("14-byte string marker is 0x%02x, expected inline 0x5E", fourteen[8])
	}

	fifteen := encodeBplist(t, cf.String("aaaaaaaaaaaaaaa"))
	if !bytes.Equal(fifteen[8:11], []byte{0x5F, 0x10, 0x0F}) {
		t.Errorf("15-byte string prefix is %2x, expected 5f 10 0f", fifteen[8:11])
	}
}

var bplistRoundTripValues = []cf.Value{
	cf.Boolean(true),
	cf.Boolean(false),
	&cf.Number{Value: 0},
	&cf.Number{Value: 42},
	&cf.Number{Signed: true, Value: asUint64(-128)},
	&cf.Number{Value: math.MaxUint64},
	&cf.BigInt{Hi: 1, Lo: 0},
	&cf.Real{Wide: false, Value: 1.5},
	&cf.Real{Wide: true, Value: math.Pi},
	cf.String("hello"),
	cf.String("日本語のテキスト"),
	cf.String(""),
	cf.Data{0x00, 0x01, 0x02},
	cf.Date(time.Date(2018, 4, 2, 12, 0, 0, 0, time.UTC)),
	cf.UID(0xDEAD),
	cf.Fill{},
	&cf.Array{Values: []cf.Value{cf.String("a"), cf.String("a"), &cf.Number{Value: 1}}},
	&cf.Dictionary{
		Keys: []string{"b", "a", "nested"},
		Values: []cf.Value{
			cf.Boolean(true),
			cf.Data{0xFF},
			&cf.Array{Values: []cf.Value{&cf.Real{Wide: true, Value: 2.5}}},
		},
	},
}

func TestBplistRoundTrip(t *testing.T) {
	for _, val := range bplistRoundTripValues {
		out := encodeBplist(t, val)
		back := decodeBplist(t, out)
		if !cf.Equal(val, back) {
			t.Errorf("%#v did not survive the round trip; got %#v", val, back)
		}
	}
}

func TestBplistByteStability(t *testing.T) {
	for _, val := range bplistRoundTripValues {
		first := encodeBplist(t, val)
		second := encodeBplist(t, decodeBplist(t, first))
		if !bytes.Equal(first, second) {
			t.Errorf("%#v: re-encoding a decoded document changed its bytes", val)
		}
	}
}

func readTrailer(t *testing.T, doc []byte) bplistTrailer {
	t.Helper()
	var trailer bplistTrailer
	err := binary.Read(bytes.NewReader(doc[len(doc)-32:]), binary.BigEndian, &trailer)
	if err != nil {
		t.Fatal(err)
	}
	return trailer
}

func TestBplistScalarUniquing(t *testing.T) {
	tests := []struct {
		name       string
		value      cf.Value
		numObjects uint64
	}{
		{
			"repeated strings collapse",
			&cf.Array{Values: []cf.Value{cf.String("a"), cf.String("a"), cf.String("a")}},
			2,
		},
		{
			"repeated booleans do not",
			&cf.Array{Values: []cf.Value{cf.Boolean(true), cf.Boolean(true)}},
			3,
		},
		{
			"data uniqued by contents",
			&cf.Array{Values: []cf.Value{cf.Data{1, 2}, cf.Data{1, 2}, cf.Data{3, 4}}},
			3,
		},
		{
			"containers are never uniqued",
			&cf.Array{Values: []cf.Value{
				&cf.Array{Values: []cf.Value{cf.String("x")}},
				&cf.Array{Values: []cf.Value{cf.String("x")}},
			}},
			4,
		},
	}
	for _, test := range tests {
		out := encodeBplist(t, test.value)
		trailer := readTrailer(t, out)
		if trailer.NumObjects != test.numObjects {
			t.Errorf("%s: %d objects, expected %d", test.name, trailer.NumObjects, test.numObjects)
		}
	}
}

func TestBplistReferenceValidity(t *testing.T) {
	out := encodeBplist(t, &cf.Dictionary{
		Keys:   []string{"a", "b"},
		Values: []cf.Value{&cf.Number{Value: 1}, &cf.Number{Value: 2}},
	})
	trailer := readTrailer(t, out)

	tableStart := trailer.OffsetTableOffset
	for i := uint64(0); i < trailer.NumObjects; i++ {
		off := uint64(out[tableStart+i])
		if off < 8 || off >= tableStart {
			t.Errorf("offset table entry %d (0x%x) outside [0x8, 0x%x)", i, off, tableStart)
		}
	}
}

func TestBplistDictionaryOrderPreserved(t *testing.T) {
	keys := make([]string, 32)
	values := make([]cf.Value, 32)
	for i := range keys {
		keys[i] = string(rune('z'-i)) + "key"
		values[i] = &cf.Number{Value: uint64(i)}
	}
	dict := &cf.Dictionary{Keys: keys, Values: values}

	back := decodeBplist(t, encodeBplist(t, dict))
	bdict, ok := back.(*cf.Dictionary)
	if !ok {
		t.Fatalf("decoded %T, expected dictionary", back)
	}
	for i, k := range bdict.Keys {
		if k != keys[i] {
			t.Fatalf("key %d is %q, expected %q", i, k, keys[i])
		}
	}
}

// bplistDocument assembles a document from object bodies and a trailer,
// computing the offset table.
func bplistDocument(bodies [][]byte, top uint64) []byte {
	doc := []byte("bplist00")
	offsets := []byte{}
	for _, body := range bodies {
		offsets = append(offsets, byte(len(doc)))
		doc = append(doc, body...)
	}
	tableOffset := uint64(len(doc))
	doc = append(doc, offsets...)

	trailer := make([]byte, 32)
	trailer[6] = 1
	trailer[7] = 1
	binary.BigEndian.PutUint64(trailer[8:], uint64(len(bodies)))
	binary.BigEndian.PutUint64(trailer[16:], top)
	binary.BigEndian.PutUint64(trailer[24:], tableOffset)
	return append(doc, trailer...)
}

func TestBplistSetCycleAttack(t *testing.T) {
	// a set whose only member is the set itself
	doc := bplistDocument([][]byte{{0xC1, 0x00}}, 0)

	_, err := newBplistParser(bytes.NewReader(doc)).parseDocument()
	if err == nil {
		t.Fatal("self-referential set failed to throw an error")
	}
	if kind := errorKind(err); kind != errCycleDetected {
		t.Errorf("got %v, expected a cycle error", err)
	}
}

func TestBplistSetDuplicateOffset(t *testing.T) {
	// a set referencing the same object twice
	doc := bplistDocument([][]byte{{0xC2, 0x01, 0x01}, {0x09}}, 0)

	_, err := newBplistParser(bytes.NewReader(doc)).parseDocument()
	if err == nil {
		t.Fatal("set with duplicate references failed to throw an error")
	}
	if kind := errorKind(err); kind != errCycleDetected {
		t.Errorf("got %v, expected a cycle error", err)
	}
}

func TestBplistRefWidthTooNarrow(t *testing.T) {
	// 256 objects cannot be addressed by 1-byte references
	doc := []byte("bplist00")
	doc = append(doc, 0x09)
	doc = append(doc, make([]byte, 256)...) // offset table
	trailer := make([]byte, 32)
	trailer[6] = 1
	trailer[7] = 1
	binary.BigEndian.PutUint64(trailer[8:], 256)
	binary.BigEndian.PutUint64(trailer[16:], 0)
	binary.BigEndian.PutUint64(trailer[24:], 9)
	doc = append(doc, trailer...)

	_, err := newBplistParser(bytes.NewReader(doc)).parseDocument()
	if err == nil {
		t.Fatal("undersized reference width failed to throw an error")
	}
	if kind := errorKind(err); kind != errMalformedTrailer {
		t.Errorf("got %v, expected a trailer error", err)
	}
}

func TestBplistRejectsV15Markers(t *testing.T) {
	for _, body := range [][]byte{
		{0x00}, // null
		{0x0E, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, // UUID
	} {
		doc := bplistDocument([][]byte{body}, 0)
		_, err := newBplistParser(bytes.NewReader(doc)).parseDocument()
		if err == nil {
			t.Fatalf("marker 0x%02x accepted in a version 00 document", body[0])
		}
		if kind := errorKind(err); kind != errTypeMismatch {
			t.Errorf("marker 0x%02x: got %v, expected a type mismatch", body[0], err)
		}
	}
}

func TestBplistRejectsEncodingV15Values(t *testing.T) {
	for _, v := range []interface{}{
		Set{"a"},
		URL{Ref: "https://example.com/"},
	} {
		if _, err := Marshal(v, BinaryFormat); err == nil {
			t.Errorf("%#v encoded into a version 00 document", v)
		}
	}
}

func TestBplistSharedSubstructure(t *testing.T) {
	// two dictionary values referencing one string object
	doc := bplistDocument([][]byte{
		{0xD2, 0x01, 0x02, 0x03, 0x03}, // {a: shared, b: shared}
		{0x51, 'a'},
		{0x51, 'b'},
		{0x56, 's', 'h', 'a', 'r', 'e', 'd'},
	}, 0)

	pval, err := newBplistParser(bytes.NewReader(doc)).parseDocument()
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := pval.(*cf.Dictionary)
	if !ok || dict.Len() != 2 {
		t.Fatalf("decoded %#v, expected a two-entry dictionary", pval)
	}
	for i := range dict.Keys {
		if s, ok := dict.Values[i].(cf.String); !ok || s != "shared" {
			t.Errorf("value %d is %#v, expected \"shared\"", i, dict.Values[i])
		}
	}
}

func BenchmarkBplistGenerate(b *testing.B) {
	root := bplistRoundTripValues[len(bplistRoundTripValues)-1]
	for i := 0; i < b.N; i++ {
		buf := &bytes.Buffer{}
		newBplistGenerator(buf).generateDocument(root)
	}
}

func BenchmarkBplistParse(b *testing.B) {
	buf := &bytes.Buffer{}
	newBplistGenerator(buf).generateDocument(bplistRoundTripValues[len(bplistRoundTripValues)-1])
	r := bytes.NewReader(buf.Bytes())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		newBplistParser(r).parseDocument()
		r.Seek(0, 0)
	}
}
