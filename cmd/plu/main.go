// plu lints property list files and converts them between encodings.
//
//	plu [OPTIONS] file...
//
// Without --convert, each file is parsed and checked; with it, each file
// is rewritten in the requested encoding.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
	yaml "gopkg.in/yaml.v2"

	plist "github.com/plistio/go-plist"
)

var opts struct {
	Convert   string `short:"c" long:"convert" description:"rewrite each file in the named encoding" choice:"xml1" choice:"binary1" choice:"binary15" choice:"yaml"`
	Output    string `short:"o" long:"output" description:"write the converted document to PATH ('-' for standard output); only valid with a single input" value-name:"PATH"`
	Extension string `short:"e" long:"extension" description:"write each converted document next to its input, with extension EXT" value-name:"EXT"`
	Silent    bool   `short:"s" long:"silent" description:"print nothing for files that pass"`
}

var formatMap = map[string]plist.Format{
	"xml1":     plist.XMLFormat,
	"binary1":  plist.BinaryFormat,
	"binary15": plist.Binary15Format,
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS] file..."
	files, err := parser.Parse()
	if err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "plu: %v\n", err)
		os.Exit(2)
	}

	switch {
	case len(files) == 0:
		fmt.Fprintln(os.Stderr, "plu: no input files")
		os.Exit(2)
	case opts.Convert == "" && (opts.Output != "" || opts.Extension != ""):
		fmt.Fprintln(os.Stderr, "plu: -o and -e require --convert")
		os.Exit(2)
	case opts.Output != "" && opts.Extension != "":
		fmt.Fprintln(os.Stderr, "plu: -o and -e are mutually exclusive")
		os.Exit(2)
	case opts.Output != "" && len(files) > 1:
		fmt.Fprintln(os.Stderr, "plu: -o requires a single input file")
		os.Exit(2)
	}

	failed := false
	for _, name := range files {
		if err := processFile(name); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", name, describe(name, err))
			failed = true
		} else if !opts.Silent {
			if opts.Convert == "" {
				fmt.Printf("%s: OK\n", name)
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}

func processFile(name string) error {
	doc, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	var val interface{}
	if _, err := plist.Unmarshal(doc, &val); err != nil {
		return err
	}

	if opts.Convert == "" {
		return nil
	}

	var out []byte
	if opts.Convert == "yaml" {
		out, err = yaml.Marshal(val)
	} else {
		out, err = plist.MarshalIndent(val, formatMap[opts.Convert], "\t")
	}
	if err != nil {
		return err
	}

	switch {
	case opts.Output == "-":
		_, err = os.Stdout.Write(out)
		return err
	case opts.Output != "":
		return os.WriteFile(opts.Output, out, 0644)
	case opts.Extension != "":
		ext := opts.Extension
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		return os.WriteFile(base+ext, out, 0644)
	default:
		return os.WriteFile(name, out, 0644)
	}
}

// describe renders a one-line diagnostic. Binary parse errors already
// carry their byte position; XML errors get the line and column derived
// from the input offset.
func describe(name string, err error) string {
	msg := err.Error()

	var positioned interface{ Position() int64 }
	if !errors.As(err, &positioned) {
		return msg
	}
	doc, rerr := os.ReadFile(name)
	if rerr != nil || bytes.HasPrefix(doc, []byte("bplist")) {
		return msg
	}
	line, col := lineAndColumn(doc, positioned.Position())
	return fmt.Sprintf("line %d, column %d: %s", line, col, msg)
}

func lineAndColumn(doc []byte, offset int64) (int, int) {
	if offset > int64(len(doc)) {
		offset = int64(len(doc))
	}
	line, col := 1, 1
	for _, b := range doc[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
