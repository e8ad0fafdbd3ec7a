package plist

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/plistio/go-plist/cf"
)

func encodeXML(t *testing.T, root cf.Value) string {
	t.Helper()
	buf := &bytes.Buffer{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("generate: %v", r)
			}
		}()
		newXMLPlistGenerator(buf).generateDocument(root)
	}()
	return buf.String()
}

func decodeXML(t *testing.T, doc string) cf.Value {
	t.Helper()
	pval, err := newXMLPlistParser(strings.NewReader(doc)).parseDocument()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return pval
}

func TestXMLDocumentShape(t *testing.T) {
	out := encodeXML(t, &cf.Dictionary{
		Keys: []string{"Name", "Count", "OK", "When", "Blob"},
		Values: []cf.Value{
			cf.String("Alpha"),
			&cf.Number{Value: 42},
			cf.Boolean(true),
			cf.Date(time.Date(2018, 4, 2, 12, 0, 0, 0, time.UTC)),
			cf.Data{0x01, 0x02},
		},
	})

	expected := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
	<dict>
		<key>Name</key>
		<string>Alpha</string>
		<key>Count</key>
		<integer>42</integer>
		<key>OK</key>
		<true/>
		<key>When</key>
		<date>2018-04-02T12:00:00Z</date>
		<key>Blob</key>
		<data>AQI=</data>
	</dict>
</plist>`

	if out != expected {
		t.Errorf("unexpected document:\n%s\nexpected:\n%s", out, expected)
	}
}

func TestXMLCommentConventions(t *testing.T) {
	tests := []struct {
		name     string
		value    cf.Value
		fragment string
	}{
		{"UID", cf.UID(0xDEAD), "<!-- UID -->\n\t<string>0xDEAD</string>"},
		{"UUID", cf.UUID{0x0F, 0x5A, 0x8E, 0xDD, 0x2C, 0x9F, 0x4A, 0xFD, 0x9A, 0x51, 0x07, 0x7A, 0x1E, 0x5E, 0x8A, 0x73}, "<!-- UUID -->\n\t<string>0f5a8edd-2c9f-4afd-9a51-077a1e5e8a73</string>"},
		{"Float", &cf.Real{Wide: false, Value: 1.5}, "<!-- Float -->\n\t<real>1.5</real>"},
		{"Set", &cf.Set{Values: []cf.Value{cf.String("a")}}, "<array>\n\t\t<!-- Set -->\n\t\t<string>a</string>\n\t</array>"},
	}

	for _, test := range tests {
		out := encodeXML(t, test.value)
		if !strings.Contains(out, test.fragment) {
			t.Errorf("%s: document does not contain %q:\n%s", test.name, test.fragment, out)
		}

		back := decodeXML(t, out)
		if !cf.Equal(test.value, back) {
			t.Errorf("%s: %#v did not survive the round trip; got %#v", test.name, test.value, back)
		}
	}
}

func TestXMLCommentDefaults(t *testing.T) {
	// without the convention comments, the stand-in elements fall back to
	// their plain meanings
	doc := `<plist version="1.0"><array>
		<string>0xDEAD</string>
		<real>1.5</real>
	</array></plist>`

	pval := decodeXML(t, doc).(*cf.Array)
	if _, ok := pval.Values[0].(cf.String); !ok {
		t.Errorf("uncommented string decoded as %#v", pval.Values[0])
	}
	if r, ok := pval.Values[1].(*cf.Real); !ok || !r.Wide {
		t.Errorf("uncommented real decoded as %#v", pval.Values[1])
	}
}

func TestXMLIntegerLiterals(t *testing.T) {
	tests := []struct {
		literal string
		value   cf.Value
	}{
		{"42", &cf.Number{Value: 42}},
		{"+42", &cf.Number{Value: 42}},
		{"-42", &cf.Number{Signed: true, Value: asUint64(-42)}},
		{"0x2A", &cf.Number{Value: 42}},
		{"0X2a", &cf.Number{Value: 42}},
		{"-0x2A", &cf.Number{Signed: true, Value: asUint64(-42)}},
		{"18446744073709551615", &cf.Number{Value: 18446744073709551615}},
		{"18446744073709551616", &cf.BigInt{Hi: 1, Lo: 0}},
		{"170141183460469231731687303715884105727", &cf.BigInt{Hi: 0x7FFFFFFFFFFFFFFF, Lo: 0xFFFFFFFFFFFFFFFF}},
		{"-170141183460469231731687303715884105728", &cf.BigInt{Hi: 0x8000000000000000, Lo: 0}},
	}
	for _, test := range tests {
		pval := decodeXML(t, "<plist><integer>"+test.literal+"</integer></plist>")
		if !cf.Equal(pval, test.value) {
			t.Errorf("%s decoded as %#v, expected %#v", test.literal, pval, test.value)
		}
	}
}

func TestXMLIntegerOverflow(t *testing.T) {
	for _, literal := range []string{
		"170141183460469231731687303715884105728",  // 2^127
		"-170141183460469231731687303715884105729", // -2^127 - 1
		"0x100000000000000000000000000000000",
	} {
		_, err := newXMLPlistParser(strings.NewReader("<plist><integer>" + literal + "</integer></plist>")).parseDocument()
		if err == nil {
			t.Fatalf("%s failed to throw an error", literal)
		}
		if kind := errorKind(err); kind != errOverflow {
			t.Errorf("%s: got %v, expected an overflow", literal, err)
		}
	}
}

func TestXMLBigIntRoundTrip(t *testing.T) {
	orig := &cf.BigInt{Hi: 0x0123456789ABCDEF, Lo: 0xFEDCBA9876543210}
	back := decodeXML(t, encodeXML(t, orig))
	if !cf.Equal(orig, back) {
		t.Errorf("%#v did not survive the round trip; got %#v", orig, back)
	}

	neg := &cf.BigInt{Hi: 0xFFFFFFFFFFFFFFFE, Lo: 5}
	back = decodeXML(t, encodeXML(t, neg))
	if !cf.Equal(neg, back) {
		t.Errorf("%#v did not survive the round trip; got %#v", neg, back)
	}
}

func TestXMLSpecialFloats(t *testing.T) {
	for _, test := range []struct {
		literal string
		check   func(float64) bool
	}{
		{"nan", func(f float64) bool { return f != f }},
		{"NaN", func(f float64) bool { return f != f }},
		{"inf", func(f float64) bool { return f > 0 && f*2 == f }},
		{"INF", func(f float64) bool { return f > 0 && f*2 == f }},
		{"+Infinity", func(f float64) bool { return f > 0 && f*2 == f }},
		{"-inf", func(f float64) bool { return f < 0 && f*2 == f }},
	} {
		pval := decodeXML(t, "<plist><real>"+test.literal+"</real></plist>")
		r, ok := pval.(*cf.Real)
		if !ok || !test.check(r.Value) {
			t.Errorf("%s decoded as %#v", test.literal, pval)
		}
	}
}

func TestXMLDataWhitespace(t *testing.T) {
	pval := decodeXML(t, "<plist><data>\n\tAQ ID\r\n</data></plist>")
	if !cf.Equal(pval, cf.Data{0x01, 0x02, 0x03}) {
		t.Errorf("decoded %#v", pval)
	}
}

func TestXMLRoundTrip(t *testing.T) {
	values := []cf.Value{
		cf.String("a <b> & c"),
		cf.String(""),
		&cf.Number{Signed: true, Value: asUint64(-1)},
		&cf.Real{Wide: true, Value: 0.25},
		cf.Boolean(false),
		cf.Date(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)),
		cf.Data{},
		cf.UID(7),
		&cf.Set{Values: []cf.Value{&cf.Number{Value: 1}, &cf.Number{Value: 2}}},
		&cf.Dictionary{
			Keys: []string{"outer", "second key"},
			Values: []cf.Value{
				&cf.Array{Values: []cf.Value{cf.String("x"), &cf.Real{Wide: false, Value: 3}}},
				cf.Boolean(true),
			},
		},
	}
	for _, val := range values {
		out := encodeXML(t, val)
		back := decodeXML(t, out)
		if !cf.Equal(val, back) {
			t.Errorf("%#v did not survive the round trip; got %#v\ndocument:\n%s", val, back, out)
		}
	}
}

func TestXMLRejectsBinaryOnlyValues(t *testing.T) {
	for _, val := range []cf.Value{
		cf.Null{},
		cf.Fill{},
		&cf.URL{Ref: "https://example.com/"},
	} {
		buf := &bytes.Buffer{}
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = r.(error)
				}
			}()
			newXMLPlistGenerator(buf).generateDocument(val)
			return nil
		}()
		if err == nil {
			t.Errorf("%s encoded into an XML document", val.TypeName())
			continue
		}
		if kind := errorKind(err); kind != errEncodingRejected {
			t.Errorf("%s: got %v, expected an encoding rejection", val.TypeName(), err)
		}
	}
}

func TestXMLDictionaryOrderPreserved(t *testing.T) {
	dict := &cf.Dictionary{
		Keys:   []string{"zz", "mm", "aa"},
		Values: []cf.Value{&cf.Number{Value: 1}, &cf.Number{Value: 2}, &cf.Number{Value: 3}},
	}
	back := decodeXML(t, encodeXML(t, dict)).(*cf.Dictionary)
	for i, k := range back.Keys {
		if k != dict.Keys[i] {
			t.Fatalf("key %d is %q, expected %q", i, k, dict.Keys[i])
		}
	}
}
