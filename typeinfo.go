package plist

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// typeInfo holds details for the plist representation of a type.
type typeInfo struct {
	fields []fieldInfo
}

// fieldInfo holds details for the plist representation of a single field.
type fieldInfo struct {
	idx       []int
	name      string
	omitEmpty bool
}

var tinfoMap sync.Map // map[reflect.Type]*typeInfo

// getTypeInfo returns the typeInfo structure with details necessary
// for marshaling and unmarshaling typ.
func getTypeInfo(typ reflect.Type) (*typeInfo, error) {
	if ti, ok := tinfoMap.Load(typ); ok {
		return ti.(*typeInfo), nil
	}
	tinfo := &typeInfo{}
	if typ.Kind() == reflect.Struct {
		n := typ.NumField()
		for i := 0; i < n; i++ {
			f := typ.Field(i)
			if f.Tag.Get("plist") == "-" || (!f.Anonymous && f.PkgPath != "") {
				continue // Private field
			}

			// For embedded structs, embed their fields.
			if f.Anonymous {
				t := f.Type
				if t.Kind() == reflect.Ptr {
					t = t.Elem()
				}
				if t.Kind() == reflect.Struct {
					inner, err := getTypeInfo(t)
					if err != nil {
						return nil, err
					}
					for _, finfo := range inner.fields {
						finfo.idx = append([]int{i}, finfo.idx...)
						if err := addFieldInfo(typ, tinfo, &finfo); err != nil {
							return nil, err
						}
					}
					continue
				}
			}

			finfo := structFieldInfo(&f)

			// Add the field if it doesn't conflict with other fields.
			if err := addFieldInfo(typ, tinfo, finfo); err != nil {
				return nil, err
			}
		}
	}
	tinfoMap.Store(typ, tinfo)
	return tinfo, nil
}

// structFieldInfo builds and returns a fieldInfo for f.
func structFieldInfo(f *reflect.StructField) *fieldInfo {
	finfo := &fieldInfo{idx: f.Index}

	tag := f.Tag.Get("plist")
	if i := strings.Index(tag, ","); i >= 0 {
		for _, flag := range strings.Split(tag[i+1:], ",") {
			if flag == "omitempty" {
				finfo.omitEmpty = true
			}
		}
		tag = tag[:i]
	}

	if tag == "" {
		finfo.name = f.Name
	} else {
		finfo.name = tag
	}
	return finfo
}

// addFieldInfo adds finfo to tinfo.fields if there are no conflicts, or
// if conflicts arise from previous fields that were obtained from deeper
// embedded structures than finfo. In the latter case, the conflicting
// entries are dropped.
// A conflict occurs when two fields have the same plist name.
func addFieldInfo(typ reflect.Type, tinfo *typeInfo, newf *fieldInfo) error {
	var conflicts []int
	// First, figure out all the conflicts.
	for i := range tinfo.fields {
		oldf := &tinfo.fields[i]
		if newf.name == oldf.name {
			conflicts = append(conflicts, i)
		}
	}

	// Without conflicts, add the new field and return.
	if conflicts == nil {
		tinfo.fields = append(tinfo.fields, *newf)
		return nil
	}

	// If any conflict is shallower, ignore the new field.
	// This matches the Go field resolution on embedding.
	for _, i := range conflicts {
		if len(tinfo.fields[i].idx) < len(newf.idx) {
			return nil
		}
	}

	// Otherwise, if any of them is at the same depth level, it's an error.
	for _, i := range conflicts {
		oldf := &tinfo.fields[i]
		if len(oldf.idx) == len(newf.idx) {
			return fmt.Errorf("plist: %s field %q with tag %q conflicts with field %q with tag %q",
				typ, fieldPath(typ, oldf.idx), oldf.name, fieldPath(typ, newf.idx), newf.name)
		}
	}

	// Otherwise, the new field is shallower, and it should replace the
	// conflicting fields.
	for c := len(conflicts) - 1; c >= 0; c-- {
		i := conflicts[c]
		copy(tinfo.fields[i:], tinfo.fields[i+1:])
		tinfo.fields = tinfo.fields[:len(tinfo.fields)-1]
	}
	tinfo.fields = append(tinfo.fields, *newf)
	return nil
}

func fieldPath(typ reflect.Type, idx []int) string {
	names := make([]string, 0, len(idx))
	for _, i := range idx {
		f := typ.Field(i)
		names = append(names, f.Name)
		typ = f.Type
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
	}
	return strings.Join(names, ".")
}

// value returns v's field value corresponding to finfo.
// It's equivalent to v.FieldByIndex(finfo.idx), but initializes
// and dereferences pointers as necessary.
func (finfo *fieldInfo) value(v reflect.Value) reflect.Value {
	for i, x := range finfo.idx {
		if i > 0 {
			t := v.Type()
			if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}
