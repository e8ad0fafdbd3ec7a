package plist

import (
	"encoding"
	"fmt"
	"math/big"
	"reflect"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/plistio/go-plist/cf"
)

type incompatibleDecodeTypeError struct {
	dest reflect.Type
	src  string // type name (from cf.Value)
}

func (u *incompatibleDecodeTypeError) Error() string {
	return fmt.Sprintf("plist: type mismatch: tried to decode plist type `%v' into value of type `%v'", u.src, u.dest)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func isEmptyInterface(v reflect.Value) bool {
	return v.Kind() == reflect.Interface && v.NumMethod() == 0
}

func (p *Decoder) unmarshalTextInterface(pval cf.String, unmarshalable encoding.TextUnmarshaler) {
	err := unmarshalable.UnmarshalText([]byte(pval))
	if err != nil {
		panic(err)
	}
}

func (p *Decoder) unmarshal(pval cf.Value, val reflect.Value) {
	if pval == nil {
		return
	}

	if _, ok := pval.(cf.Null); ok {
		// null clears its destination
		for val.Kind() == reflect.Ptr && !val.CanSet() {
			val = val.Elem()
		}
		if val.CanSet() {
			val.Set(reflect.Zero(val.Type()))
		}
		return
	}

	for val.Kind() == reflect.Ptr && val.Type() != bigIntType {
		if val.IsNil() {
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}

	if isEmptyInterface(val) {
		v := p.valueInterface(pval)
		if v == nil {
			val.Set(reflect.Zero(val.Type()))
		} else {
			val.Set(reflect.ValueOf(v))
		}
		return
	}

	incompatibleTypeError := &incompatibleDecodeTypeError{val.Type(), pval.TypeName()}

	switch val.Type() {
	case timeType:
		date, ok := pval.(cf.Date)
		if !ok {
			panic(incompatibleTypeError)
		}
		val.Set(reflect.ValueOf(time.Time(date)))
		return
	case uuidType:
		u, ok := pval.(cf.UUID)
		if !ok {
			panic(incompatibleTypeError)
		}
		val.Set(reflect.ValueOf(uuid.UUID(u)))
		return
	case urlType:
		u, ok := pval.(*cf.URL)
		if !ok {
			panic(incompatibleTypeError)
		}
		val.Set(reflect.ValueOf(URL{Base: u.Base, Ref: u.Ref}))
		return
	case setType:
		set, ok := pval.(*cf.Set)
		if !ok {
			panic(incompatibleTypeError)
		}
		out := make(Set, len(set.Values))
		for i, v := range set.Values {
			out[i] = p.valueInterface(v)
		}
		val.Set(reflect.ValueOf(out))
		return
	case bigIntType:
		switch pval := pval.(type) {
		case *cf.BigInt:
			val.Set(reflect.ValueOf(bigIntToNative(pval)))
		case *cf.Number:
			b := new(big.Int)
			if pval.Signed {
				b.SetInt64(int64(pval.Value))
			} else {
				b.SetUint64(pval.Value)
			}
			val.Set(reflect.ValueOf(b))
		default:
			panic(incompatibleTypeError)
		}
		return
	}

	if val.Type() != timeType {
		if receiver, can := implementsInterface(val, textUnmarshalerType); can {
			if str, ok := pval.(cf.String); ok {
				p.unmarshalTextInterface(str, receiver.(encoding.TextUnmarshaler))
			} else {
				panic(incompatibleTypeError)
			}
			return
		}
	}

	typ := val.Type()

	switch pval := pval.(type) {
	case cf.String:
		if val.Kind() == reflect.String {
			val.SetString(string(pval))
			return
		}
		panic(incompatibleTypeError)
	case *cf.Number:
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val.SetInt(int64(pval.Value))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			val.SetUint(pval.Value)
		default:
			panic(incompatibleTypeError)
		}
	case *cf.BigInt:
		panic(incompatibleTypeError)
	case *cf.Real:
		if val.Kind() == reflect.Float32 || val.Kind() == reflect.Float64 {
			val.SetFloat(pval.Value)
		} else {
			panic(incompatibleTypeError)
		}
	case cf.Boolean:
		if val.Kind() == reflect.Bool {
			val.SetBool(bool(pval))
		} else {
			panic(incompatibleTypeError)
		}
	case cf.Data:
		if val.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.Uint8 {
			val.SetBytes([]byte(pval))
		} else {
			panic(incompatibleTypeError)
		}
	case cf.UUID:
		if val.Kind() == reflect.Array && typ.Elem().Kind() == reflect.Uint8 && val.Len() == 16 {
			reflect.Copy(val, reflect.ValueOf([]byte(pval[:])))
		} else {
			panic(incompatibleTypeError)
		}
	case cf.UID:
		if val.Type() == uidType {
			val.SetUint(uint64(pval))
		} else {
			switch val.Kind() {
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				val.SetInt(int64(pval))
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
				val.SetUint(uint64(pval))
			default:
				panic(incompatibleTypeError)
			}
		}
	case cf.Fill:
		// placeholder; leaves the destination untouched
	case *cf.Array:
		p.unmarshalArray(pval, val)
	case *cf.Set:
		if val.Kind() == reflect.Slice {
			p.unmarshalArray(&cf.Array{Values: pval.Values}, val)
		} else {
			panic(incompatibleTypeError)
		}
	case *cf.Dictionary:
		p.unmarshalDictionary(pval, val)
	default:
		panic(incompatibleTypeError)
	}
}

func implementsInterface(val reflect.Value, interfaceType reflect.Type) (interface{}, bool) {
	if val.CanInterface() && val.Type().Implements(interfaceType) {
		return val.Interface(), true
	}

	if val.CanAddr() {
		pv := val.Addr()
		if pv.CanInterface() && pv.Type().Implements(interfaceType) {
			return pv.Interface(), true
		}
	}
	return nil, false
}

func (p *Decoder) unmarshalArray(a *cf.Array, val reflect.Value) {
	var n int
	if val.Kind() == reflect.Slice {
		// Slice of element values.
		// Grow slice.
		cnt := len(a.Values) + val.Len()
		if cnt >= val.Cap() {
			ncap := 2 * cnt
			if ncap < 4 {
				ncap = 4
			}
			grown := reflect.MakeSlice(val.Type(), val.Len(), ncap)
			reflect.Copy(grown, val)
			val.Set(grown)
		}
		n = val.Len()
		val.SetLen(cnt)
	} else if val.Kind() == reflect.Array {
		if len(a.Values) > val.Cap() {
			panic(fmt.Errorf("plist: attempted to unmarshal %d values into an array of size %d", len(a.Values), val.Cap()))
		}
	} else {
		panic(&incompatibleDecodeTypeError{val.Type(), a.TypeName()})
	}

	// Recur to read element into slice.
	for _, sval := range a.Values {
		p.unmarshal(sval, val.Index(n))
		n++
	}
}

func (p *Decoder) unmarshalDictionary(dict *cf.Dictionary, val reflect.Value) {
	typ := val.Type()
	switch val.Kind() {
	case reflect.Struct:
		tinfo, err := getTypeInfo(typ)
		if err != nil {
			panic(err)
		}

		for i, k := range dict.Keys {
			for _, finfo := range tinfo.fields {
				if finfo.name == k {
					p.unmarshal(dict.Values[i], finfo.value(val))
					break
				}
			}
		}
	case reflect.Map:
		if val.IsNil() {
			val.Set(reflect.MakeMap(typ))
		}

		for i, k := range dict.Keys {
			sval := dict.Values[i]

			keyv := reflect.ValueOf(k).Convert(typ.Key())
			mapElem := reflect.New(typ.Elem()).Elem()

			p.unmarshal(sval, mapElem)
			val.SetMapIndex(keyv, mapElem)
		}
	default:
		panic(&incompatibleDecodeTypeError{typ, dict.TypeName()})
	}
}

func bigIntToNative(n *cf.BigInt) *big.Int {
	b := new(big.Int).SetUint64(n.Hi)
	b.Lsh(b, 64)
	b.Or(b, new(big.Int).SetUint64(n.Lo))
	if n.Negative() {
		b.Sub(b, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return b
}

func (p *Decoder) valueInterface(pval cf.Value) interface{} {
	switch pval := pval.(type) {
	case cf.String:
		return string(pval)
	case *cf.Number:
		if pval.Signed {
			return int64(pval.Value)
		}
		return pval.Value
	case *cf.BigInt:
		return bigIntToNative(pval)
	case *cf.Real:
		if pval.Wide {
			return pval.Value
		}
		return float32(pval.Value)
	case cf.Boolean:
		return bool(pval)
	case cf.Data:
		return []byte(pval)
	case cf.Date:
		return time.Time(pval)
	case cf.UID:
		return UID(pval)
	case cf.UUID:
		return uuid.UUID(pval)
	case *cf.URL:
		return URL{Base: pval.Base, Ref: pval.Ref}
	case cf.Null:
		return nil
	case cf.Fill:
		return nil
	case *cf.Array:
		values := make([]interface{}, len(pval.Values))
		for i, v := range pval.Values {
			values[i] = p.valueInterface(v)
		}
		return values
	case *cf.Set:
		values := make(Set, len(pval.Values))
		for i, v := range pval.Values {
			values[i] = p.valueInterface(v)
		}
		return values
	case *cf.Dictionary:
		m := make(map[string]interface{}, len(pval.Keys))
		for i, k := range pval.Keys {
			m[k] = p.valueInterface(pval.Values[i])
		}
		return m
	}
	return nil
}
