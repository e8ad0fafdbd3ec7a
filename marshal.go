package plist

import (
	"encoding"
	"math/big"
	"reflect"
	"sort"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/plistio/go-plist/cf"
)

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

var (
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf((*time.Time)(nil)).Elem()
	uuidType          = reflect.TypeOf((*uuid.UUID)(nil)).Elem()
	uidType           = reflect.TypeOf(UID(0))
	urlType           = reflect.TypeOf(URL{})
	setType           = reflect.TypeOf(Set(nil))
	bigIntType        = reflect.TypeOf((*big.Int)(nil))
)

type unknownTypeError struct {
	typ reflect.Type
}

func (u *unknownTypeError) Error() string {
	return "plist: can't marshal value of type " + u.typ.String()
}

func (p *Encoder) marshalTextInterface(marshalable encoding.TextMarshaler) cf.Value {
	s, err := marshalable.MarshalText()
	if err != nil {
		panic(err)
	}
	return cf.String(s)
}

func (p *Encoder) marshalStruct(typ reflect.Type, val reflect.Value) cf.Value {
	tinfo, err := getTypeInfo(typ)
	if err != nil {
		panic(err)
	}

	dict := &cf.Dictionary{
		Keys:   make([]string, 0, len(tinfo.fields)),
		Values: make([]cf.Value, 0, len(tinfo.fields)),
	}
	for _, finfo := range tinfo.fields {
		value := finfo.value(val)
		if !value.IsValid() || finfo.omitEmpty && isEmptyValue(value) {
			continue
		}

		if sub := p.marshal(value); sub != nil {
			dict.Keys = append(dict.Keys, finfo.name)
			dict.Values = append(dict.Values, sub)
		}
	}

	return dict
}

func (p *Encoder) marshalBigInt(n *big.Int) cf.Value {
	if n.IsInt64() {
		v := n.Int64()
		return &cf.Number{Signed: v < 0, Value: uint64(v)}
	}
	if n.IsUint64() {
		return &cf.Number{Signed: false, Value: n.Uint64()}
	}

	b := new(big.Int).Set(n)
	if b.Sign() < 0 {
		min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
		if b.Cmp(min) < 0 {
			panic(&unknownTypeError{bigIntType})
		}
		b.Add(b, new(big.Int).Lsh(big.NewInt(1), 128))
	} else if b.BitLen() > 127 {
		panic(&unknownTypeError{bigIntType})
	}

	lo := new(big.Int).And(b, new(big.Int).SetUint64(0xFFFFFFFFFFFFFFFF)).Uint64()
	hi := new(big.Int).Rsh(b, 64).Uint64()
	return cf.CollapseBigInt(hi, lo)
}

func (p *Encoder) marshal(val reflect.Value) cf.Value {
	if !val.IsValid() {
		return nil
	}
	typ := val.Type()

	// time.Time and uuid.UUID implement TextMarshaler, but they have
	// native plist representations.
	switch typ {
	case timeType:
		return cf.Date(val.Interface().(time.Time))
	case uuidType:
		return cf.UUID(val.Interface().(uuid.UUID))
	case uidType:
		return cf.UID(val.Interface().(UID))
	case urlType:
		u := val.Interface().(URL)
		return &cf.URL{Base: u.Base, Ref: u.Ref}
	case setType:
		set := &cf.Set{}
		for i := 0; i < val.Len(); i++ {
			if sub := p.marshal(val.Index(i)); sub != nil {
				set.Values = append(set.Values, sub)
			}
		}
		return set
	case bigIntType:
		if val.IsNil() {
			return nil
		}
		return p.marshalBigInt(val.Interface().(*big.Int))
	}

	if val.Kind() == reflect.Ptr || (val.Kind() == reflect.Interface && val.NumMethod() == 0) {
		ival := val.Elem()
		if ival.IsValid() {
			switch ival.Type() {
			case timeType, uuidType, uidType, urlType, setType, bigIntType:
				return p.marshal(ival)
			}
		}
	}

	// Check for text marshaler.
	if val.CanInterface() && typ.Implements(textMarshalerType) {
		return p.marshalTextInterface(val.Interface().(encoding.TextMarshaler))
	}
	if val.CanAddr() {
		pv := val.Addr()
		if pv.CanInterface() && pv.Type().Implements(textMarshalerType) {
			return p.marshalTextInterface(pv.Interface().(encoding.TextMarshaler))
		}
	}

	// Descend into pointers or interfaces
	if val.Kind() == reflect.Ptr || (val.Kind() == reflect.Interface && val.NumMethod() == 0) {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
		typ = val.Type()
	}

	if val.Kind() == reflect.Struct {
		return p.marshalStruct(typ, val)
	}

	switch val.Kind() {
	case reflect.String:
		return cf.String(val.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := val.Int()
		return &cf.Number{Signed: n < 0, Value: uint64(n)}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &cf.Number{Signed: false, Value: val.Uint()}
	case reflect.Float32:
		return &cf.Real{Wide: false, Value: val.Float()}
	case reflect.Float64:
		return &cf.Real{Wide: true, Value: val.Float()}
	case reflect.Bool:
		return cf.Boolean(val.Bool())
	case reflect.Slice, reflect.Array:
		if typ.Elem().Kind() == reflect.Uint8 {
			var bytes []byte
			if val.CanAddr() && val.Kind() == reflect.Slice {
				bytes = val.Bytes()
			} else {
				bytes = make([]byte, val.Len())
				reflect.Copy(reflect.ValueOf(bytes), val)
			}
			return cf.Data(bytes)
		}

		values := make([]cf.Value, 0, val.Len())
		for i, length := 0, val.Len(); i < length; i++ {
			if sub := p.marshal(val.Index(i)); sub != nil {
				values = append(values, sub)
			}
		}
		return &cf.Array{Values: values}
	case reflect.Map:
		if typ.Key().Kind() != reflect.String {
			panic(&unknownTypeError{typ})
		}

		// map iteration order is unstable; sort for deterministic output
		mkeys := val.MapKeys()
		sort.Slice(mkeys, func(i, j int) bool { return mkeys[i].String() < mkeys[j].String() })

		dict := &cf.Dictionary{
			Keys:   make([]string, 0, len(mkeys)),
			Values: make([]cf.Value, 0, len(mkeys)),
		}
		for _, keyv := range mkeys {
			if sub := p.marshal(val.MapIndex(keyv)); sub != nil {
				dict.Keys = append(dict.Keys, keyv.String())
				dict.Values = append(dict.Values, sub)
			}
		}
		return dict
	default:
		panic(&unknownTypeError{typ})
	}
}
