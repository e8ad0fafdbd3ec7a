package plist

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math/big"
	"runtime"
	"strconv"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/plistio/go-plist/cf"
)

type xmlPlistParser struct {
	xmlDecoder *xml.Decoder
	path       pathStack

	// pendingComment holds the text of the convention comment (UID, UUID,
	// Float) seen immediately before the element being parsed.
	pendingComment string
}

func newXMLPlistParser(r io.Reader) *xmlPlistParser {
	return &xmlPlistParser{xmlDecoder: xml.NewDecoder(r)}
}

func (p *xmlPlistParser) error(kind errKind, e string, args ...interface{}) {
	panic(&codecError{kind, p.path.String(), p.xmlDecoder.InputOffset(), fmt.Errorf(e, args...)})
}

func (p *xmlPlistParser) unexpected(token xml.Token) {
	p.error(errMalformedMarker, "unexpected XML element `%v`", token)
}

func (p *xmlPlistParser) parseDocument() (pval cf.Value, parseError error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			if _, ok := r.(invalidPlistError); ok {
				parseError = r.(error)
			} else {
				parseError = plistParseError{"XML", r.(error)}
			}
		}
	}()
	p.path.push("plist[1.0]")
	for {
		token, err := p.xmlDecoder.Token()
		if err != nil {
			// The first XML parse turned out to be invalid:
			// we do not have an XML property list.
			panic(invalidPlistError{"XML", err})
		}
		switch token := token.(type) {
		case xml.StartElement:
			pval = p.parseXMLElement(token)
			if pval == nil {
				panic(invalidPlistError{"XML", errors.New("no elements encountered")})
			}
			return
		case xml.Comment:
			p.noteComment(string(token))
		}
	}
}

func (p *xmlPlistParser) noteComment(c string) {
	p.pendingComment = strings.TrimSpace(c)
}

func (p *xmlPlistParser) next() xml.Token {
	token, err := p.xmlDecoder.Token()
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
	return token
}

func (p *xmlPlistParser) skip() {
	err := p.xmlDecoder.Skip()
	if err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

// opening tag has been consumed
func (p *xmlPlistParser) getNextString(element xml.StartElement) string {
	var s string
outer:
	for {
		token := p.next()
		switch token := token.(type) {
		case xml.EndElement:
			break outer
		case xml.CharData:
			s = string(token)
		default:
			p.unexpected(token)
		}
	}

	return strings.TrimSpace(s)
}

func (p *xmlPlistParser) mustGetNextString(element xml.StartElement) string {
	s := p.getNextString(element)
	if len(s) == 0 {
		p.error(errMalformedMarker, "empty <%s>", element.Name.Local)
	}
	return s
}

func (p *xmlPlistParser) parseStringElement(element xml.StartElement, comment string) cf.Value {
	switch comment {
	case "UID":
		s := p.mustGetNextString(element)
		us, base := unsignedGetBase(s)
		return cf.UID(p.mustParseUint(us, base, 64))
	case "UUID":
		s := p.mustGetNextString(element)
		u, err := uuid.FromString(s)
		if err != nil {
			p.error(errMalformedMarker, "invalid UUID literal %q: %v", s, err)
		}
		return cf.UUID(u)
	}
	return cf.String(p.getNextString(element))
}

func (p *xmlPlistParser) parseIntegerElement(element xml.StartElement) cf.Value {
	s := p.mustGetNextString(element)

	if s[0] == '-' {
		us, base := unsignedGetBase(s[1:])
		n, err := strconv.ParseInt("-"+us, base, 64)
		if err == nil {
			return &cf.Number{Signed: true, Value: uint64(n)}
		}
		if !isRangeError(err) {
			p.error(errMalformedMarker, "invalid integer literal %q", s)
		}
		return p.parseBigIntLiteral("-"+us, base)
	}

	if s[0] == '+' {
		s = s[1:]
		if len(s) == 0 {
			p.error(errMalformedMarker, "empty integer literal")
		}
	}

	us, base := unsignedGetBase(s)
	n, err := strconv.ParseUint(us, base, 64)
	if err == nil {
		return &cf.Number{Signed: false, Value: n}
	}
	if !isRangeError(err) {
		p.error(errMalformedMarker, "invalid integer literal %q", s)
	}
	return p.parseBigIntLiteral(us, base)
}

// parseBigIntLiteral handles integers wider than 64 bits. Anything that
// does not fit in 16 bytes two's-complement is an overflow.
func (p *xmlPlistParser) parseBigIntLiteral(s string, base int) cf.Value {
	b, ok := new(big.Int).SetString(s, base)
	if !ok {
		p.error(errMalformedMarker, "invalid integer literal %q", s)
	}

	if b.Sign() < 0 {
		min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
		if b.Cmp(min) < 0 {
			p.error(errOverflow, "integer literal %q does not fit in 16 bytes", s)
		}
		// two's complement, modulo 2^128
		b.Add(b, new(big.Int).Lsh(big.NewInt(1), 128))
	} else if b.BitLen() > 127 {
		p.error(errOverflow, "integer literal %q does not fit in 16 bytes", s)
	}

	lo := new(big.Int).And(b, new(big.Int).SetUint64(0xFFFFFFFFFFFFFFFF)).Uint64()
	hi := new(big.Int).Rsh(b, 64).Uint64()
	return cf.CollapseBigInt(hi, lo)
}

func (p *xmlPlistParser) parseRealElement(element xml.StartElement, comment string) *cf.Real {
	s := p.mustGetNextString(element)

	n := p.mustParseFloat(s, 64)
	return &cf.Real{Wide: comment != "Float", Value: n}
}

func (p *xmlPlistParser) parseDateElement(element xml.StartElement) cf.Date {
	s := p.mustGetNextString(element)

	t, err := time.ParseInLocation(time.RFC3339, s, time.UTC)
	if err != nil {
		p.error(errMalformedMarker, "%v", err)
	}

	return cf.Date(t)
}

func (p *xmlPlistParser) parseDataElement(element xml.StartElement) cf.Data {
	s := []byte(p.getNextString(element))

	offset := 0
	for i, v := range s {
		if v != ' ' && v != '\t' && v != '\n' && v != '\r' {
			if offset != i {
				s[offset] = s[i]
			}
			offset++
		}
	}
	s = s[:offset]

	l := base64.StdEncoding.DecodedLen(offset)
	bytes := make([]uint8, l)

	var err error
	l, err = base64.StdEncoding.Decode(bytes, s)
	if err != nil {
		p.error(errMalformedMarker, "%v", err)
	}

	return cf.Data(bytes[:l])
}

func (p *xmlPlistParser) parseDictionary(element xml.StartElement) cf.Value {
	keys := make([]string, 0, 32)
	values := make([]cf.Value, 0, 32)
outer:
	for {
		token := p.next()

		switch token := token.(type) {
		case xml.StartElement:
			if token.Name.Local == "key" {
				keys = append(keys, p.getNextString(token))
			} else {
				if len(keys) != len(values)+1 {
					p.error(errMalformedMarker, "missing key in dictionary")
				}
				p.path.push(fmt.Sprintf("dict[%s]", keys[len(keys)-1]))
				values = append(values, p.parseXMLElement(token))
				p.path.pop()
			}
		case xml.EndElement:
			break outer
		case xml.Comment:
			p.noteComment(string(token))
			continue outer
		case xml.CharData:
			continue outer
		default:
			p.unexpected(token)
		}
	}

	if len(keys) != len(values) {
		p.error(errMalformedMarker, "missing value in dictionary")
	}
	return &cf.Dictionary{Keys: keys, Values: values}
}

// parseArray parses an <array> element, which doubles as the XML
// representation of a set when it carries a Set convention comment.
func (p *xmlPlistParser) parseArray(element xml.StartElement) cf.Value {
	values := make([]cf.Value, 0, 32)
	isSet := false
outer:
	for {
		token := p.next()

		switch token := token.(type) {
		case xml.StartElement:
			p.path.push(fmt.Sprintf("array[%d]", len(values)))
			values = append(values, p.parseXMLElement(token))
			p.path.pop()
		case xml.EndElement:
			break outer
		case xml.Comment:
			if strings.TrimSpace(string(token)) == "Set" {
				isSet = true
			} else {
				p.noteComment(string(token))
			}
			continue outer
		case xml.CharData:
			continue outer
		default:
			p.unexpected(token)
		}
	}
	if isSet {
		for i := range values {
			for j := 0; j < i; j++ {
				if cf.Equal(values[j], values[i]) {
					p.error(errTypeMismatch, "set contains duplicate members")
				}
			}
		}
		return &cf.Set{Values: values}
	}
	return &cf.Array{Values: values}
}

func (p *xmlPlistParser) parseXMLElement(element xml.StartElement) cf.Value {
	comment := p.pendingComment
	p.pendingComment = ""

	switch element.Name.Local {
	case "plist":
		// a <plist> should contain only one sub-element; we can safely recurse in here
	outer:
		for {
			token := p.next()
			switch token := token.(type) {
			case xml.EndElement:
				break outer
			case xml.StartElement:
				return p.parseXMLElement(token)
			case xml.Comment:
				p.noteComment(string(token))
				continue outer
			case xml.CharData:
				continue outer
			default:
				p.unexpected(token)
			}
		}
		return nil
	case "string":
		return p.parseStringElement(element, comment)
	case "integer":
		return p.parseIntegerElement(element)
	case "real":
		return p.parseRealElement(element, comment)
	case "true", "false": // small enough to inline
		b := element.Name.Local == "true"
		p.skip() // skip the closing tag
		return cf.Boolean(b)
	case "date":
		return p.parseDateElement(element)
	case "data":
		return p.parseDataElement(element)
	case "dict":
		return p.parseDictionary(element)
	case "array":
		return p.parseArray(element)
	default:
		p.unexpected(element)
		return nil
	}
}

// unsignedGetBase splits a 0x prefix off an unsigned integer literal.
func unsignedGetBase(s string) (string, int) {
	if len(s) > 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:], 16
	}
	return s, 10
}

func isRangeError(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

func (p *xmlPlistParser) mustParseUint(s string, base int, bits int) uint64 {
	n, err := strconv.ParseUint(s, base, bits)
	if err != nil {
		p.error(errMalformedMarker, "invalid integer literal %q", s)
	}
	return n
}

func (p *xmlPlistParser) mustParseFloat(s string, bits int) float64 {
	n, err := strconv.ParseFloat(s, bits)
	if err != nil {
		p.error(errMalformedMarker, "invalid floating-point literal %q", s)
	}
	return n
}
