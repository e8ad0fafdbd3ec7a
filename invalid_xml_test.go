package plist

import (
	"strings"
	"testing"
)

var invalidXMLPlists = []string{
	"<plist><doct><key>helo</key><string></string></doct></plist>",
	"<plist><dict><string>helo</string></dict></plist>",
	"<plist><dict><key>helo</key></dict></plist>",
	"<plist><integer>helo</integer></plist>",
	"<plist><integer></integer></plist>",
	"<plist><real>helo</real></plist>",
	"<plist><data>*@&%#helo</data></plist>",
	"<plist><date>*@&%#helo</date></plist>",
	"<plist><date>*@&%#helo</date></plist>",
	"<plist><array><!-- Set --><integer>1</integer><integer>1</integer></array></plist>",
	"<plist><!-- UUID --><string>not-a-uuid</string></plist>",
	"<plist><!-- UID --><string>helo</string></plist>",
	"<plist><integer>170141183460469231731687303715884105728</integer></plist>",
	"<pl",
	"bplist00",
}

func TestInvalidXMLPlists(t *testing.T) {
	for _, data := range invalidXMLPlists {
		var obj interface{}
		err := NewDecoder(strings.NewReader(data)).Decode(&obj)
		if err == nil {
			t.Fatalf("invalid plist %q failed to throw an error", data)
		} else {
			t.Log(err)
		}
	}
}
