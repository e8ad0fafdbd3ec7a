package plist

import (
	"bufio"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/plistio/go-plist/cf"
)

const (
	xmlHEADER  string = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	xmlDOCTYPE        = `<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n"

	xmlArrayTag   = "array"
	xmlDataTag    = "data"
	xmlDateTag    = "date"
	xmlDictTag    = "dict"
	xmlFalseTag   = "false"
	xmlIntegerTag = "integer"
	xmlKeyTag     = "key"
	xmlPlistTag   = "plist"
	xmlRealTag    = "real"
	xmlStringTag  = "string"
	xmlTrueTag    = "true"

	// XML plists have no native tags for these; a convention comment
	// ahead of the stand-in element disambiguates on the way back in.
	xmlUIDComment   = " UID "
	xmlUUIDComment  = " UUID "
	xmlFloatComment = " Float "
	xmlSetComment   = " Set "
)

const xmlPlistTimeLayout = "2006-01-02T15:04:05Z"

func formatXMLFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type xmlPlistGenerator struct {
	*bufio.Writer

	indent     string
	depth      int
	putNewline bool
	path       pathStack
}

func newXMLPlistGenerator(w io.Writer) *xmlPlistGenerator {
	return &xmlPlistGenerator{Writer: bufio.NewWriter(w), indent: "\t"}
}

func (p *xmlPlistGenerator) Indent(i string) {
	p.indent = i
}

func (p *xmlPlistGenerator) error(kind errKind, e string, args ...interface{}) {
	panic(&codecError{kind, p.path.String(), -1, fmt.Errorf(e, args...)})
}

func (p *xmlPlistGenerator) generateDocument(root cf.Value) {
	p.path.push("plist[1.0]")
	p.WriteString(xmlHEADER)
	p.WriteString(xmlDOCTYPE)

	p.openTag(`plist version="1.0"`)
	p.writePlistValue(root)
	p.closeTag(xmlPlistTag)
	if err := p.Flush(); err != nil {
		p.error(errIOFailure, "%v", err)
	}
}

func (p *xmlPlistGenerator) openTag(n string) {
	p.writeIndent(1)
	p.WriteByte('<')
	p.WriteString(n)
	p.WriteByte('>')
}

func (p *xmlPlistGenerator) closeTag(n string) {
	p.writeIndent(-1)
	p.WriteString("</")
	p.WriteString(n)
	p.WriteByte('>')
}

func (p *xmlPlistGenerator) comment(c string) {
	p.writeIndent(0)
	p.WriteString("<!--")
	p.WriteString(c)
	p.WriteString("-->")
}

func (p *xmlPlistGenerator) element(n string, v string) {
	p.writeIndent(0)
	if len(v) == 0 {
		p.WriteByte('<')
		p.WriteString(n)
		p.WriteString("/>")
	} else {
		p.WriteByte('<')
		p.WriteString(n)
		p.WriteByte('>')

		err := xml.EscapeText(p.Writer, []byte(v))
		if err != nil {
			p.error(errIOFailure, "%v", err)
		}

		p.WriteString("</")
		p.WriteString(n)
		p.WriteByte('>')
	}
}

func (p *xmlPlistGenerator) writeDictionary(dict *cf.Dictionary) {
	p.openTag(xmlDictTag)
	for i, k := range dict.Keys {
		p.element(xmlKeyTag, k)
		p.path.push(fmt.Sprintf("dict[%s]", k))
		p.writePlistValue(dict.Values[i])
		p.path.pop()
	}
	p.closeTag(xmlDictTag)
}

func (p *xmlPlistGenerator) writeArray(a *cf.Array) {
	p.openTag(xmlArrayTag)
	for i, v := range a.Values {
		p.path.push(fmt.Sprintf("array[%d]", i))
		p.writePlistValue(v)
		p.path.pop()
	}
	p.closeTag(xmlArrayTag)
}

func (p *xmlPlistGenerator) writeSet(s *cf.Set) {
	p.openTag(xmlArrayTag)
	p.comment(xmlSetComment)
	for i, v := range s.Values {
		p.path.push(fmt.Sprintf("set[%d]", i))
		p.writePlistValue(v)
		p.path.pop()
	}
	p.closeTag(xmlArrayTag)
}

func (p *xmlPlistGenerator) writePlistValue(pval cf.Value) {
	switch pval := pval.(type) {
	case cf.String:
		p.element(xmlStringTag, string(pval))
	case *cf.Number:
		if pval.Signed {
			p.element(xmlIntegerTag, strconv.FormatInt(int64(pval.Value), 10))
		} else {
			p.element(xmlIntegerTag, strconv.FormatUint(pval.Value, 10))
		}
	case *cf.BigInt:
		p.element(xmlIntegerTag, bigIntToString(pval))
	case *cf.Real:
		if !pval.Wide {
			p.comment(xmlFloatComment)
		}
		p.element(xmlRealTag, formatXMLFloat(pval.Value))
	case cf.Boolean:
		if bool(pval) {
			p.element(xmlTrueTag, "")
		} else {
			p.element(xmlFalseTag, "")
		}
	case cf.Data:
		p.element(xmlDataTag, base64.StdEncoding.EncodeToString([]byte(pval)))
	case cf.Date:
		p.element(xmlDateTag, time.Time(pval).In(time.UTC).Format(xmlPlistTimeLayout))
	case cf.UID:
		p.comment(xmlUIDComment)
		p.element(xmlStringTag, fmt.Sprintf("0x%X", uint64(pval)))
	case cf.UUID:
		p.comment(xmlUUIDComment)
		p.element(xmlStringTag, uuid.UUID(pval).String())
	case *cf.Dictionary:
		p.writeDictionary(pval)
	case *cf.Array:
		p.writeArray(pval)
	case *cf.Set:
		p.writeSet(pval)
	default:
		p.error(errEncodingRejected, "%s values cannot be represented in an XML property list", valueTypeName(pval))
	}
}

func (p *xmlPlistGenerator) writeIndent(delta int) {
	if len(p.indent) == 0 {
		return
	}

	if delta < 0 {
		p.depth--
	}

	if p.putNewline {
		// from encoding/xml/marshal.go; it seems to be intended
		// to suppress the first newline.
		p.WriteByte('\n')
	} else {
		p.putNewline = true
	}
	for i := 0; i < p.depth; i++ {
		p.WriteString(p.indent)
	}
	if delta > 0 {
		p.depth++
	}
}

// bigIntToString renders the signed 128-bit value in decimal.
func bigIntToString(n *cf.BigInt) string {
	b := new(big.Int).SetUint64(n.Hi)
	b.Lsh(b, 64)
	b.Or(b, new(big.Int).SetUint64(n.Lo))
	if n.Negative() {
		b.Sub(b, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return b.String()
}
