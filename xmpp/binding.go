package xmpp

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	cristalbase64 "github.com/cristalhq/base64"
)

// Value is one XML-RPC value. Exactly one of the typed fields
// is set; a value with none of them is a string carried as
// character data.
type Value struct {
	Nil      *struct{} `xml:"nil,omitempty"`
	Int      *int64    `xml:"int,omitempty"`
	I4       *int64    `xml:"i4,omitempty"`
	Boolean  *int      `xml:"boolean,omitempty"`
	String   *string   `xml:"string,omitempty"`
	Double   *float64  `xml:"double,omitempty"`
	Base64   *string   `xml:"base64,omitempty"`
	DateTime *string   `xml:"dateTime.iso8601,omitempty"`
	Array    *Array    `xml:"array,omitempty"`
	Struct   *Struct   `xml:"struct,omitempty"`
	Chardata string    `xml:",chardata"`
}

type Array struct {
	Data ArrayData `xml:"data"`
}

type ArrayData struct {
	Values []Value `xml:"value"`
}

type Struct struct {
	Members []Member `xml:"member"`
}

type Member struct {
	Name  string `xml:"name"`
	Value Value  `xml:"value"`
}

// DateTimeFormat is the XML-RPC dateTime.iso8601 layout. Times
// travel in UTC.
const DateTimeFormat = "20060102T15:04:05"

// ToValue encodes a wire value.
func ToValue(v any) (val Value, err error) {
	switch x := v.(type) {
	case nil:
		val.Nil = &struct{}{}
		return
	case bool:
		b := 0
		if x {
			b = 1
		}
		val.Boolean = &b
		return
	case string:
		val.String = &x
		return
	case []byte:
		s := cristalbase64.StdEncoding.EncodeToString(x)
		val.Base64 = &s
		return
	case time.Time:
		s := x.UTC().Format(DateTimeFormat)
		val.DateTime = &s
		return
	case []any:
		val.Array = &Array{}
		for i, e := range x {
			ev, err := ToValue(e)
			if err != nil {
				return val, fmt.Errorf("element %v: %w", i, err)
			}
			val.Array.Data.Values = append(val.Array.Data.Values, ev)
		}
		return
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		val.Struct = &Struct{}
		for _, k := range keys {
			mv, err := ToValue(x[k])
			if err != nil {
				return val, fmt.Errorf("member %v: %w", k, err)
			}
			val.Struct.Members = append(val.Struct.Members, Member{Name: k, Value: mv})
		}
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		val.Int = &n
		return
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return val, fmt.Errorf("unsigned %v does not fit an i4/int", u)
		}
		n := int64(u)
		val.Int = &n
		return
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		val.Double = &f
		return
	case reflect.String:
		s := rv.String()
		val.String = &s
		return
	case reflect.Slice, reflect.Array:
		xs := make([]any, rv.Len())
		for i := range xs {
			xs[i] = rv.Index(i).Interface()
		}
		return ToValue(xs)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			return ToValue(m)
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return ToValue(nil)
		}
		return ToValue(rv.Elem().Interface())
	}
	return val, fmt.Errorf("cannot encode %T as an xml-rpc value", v)
}

// FromValue decodes a value into its wire form: nil, bool, int,
// float64, string, []byte, time.Time, []any or map[string]any.
func FromValue(val Value) (any, error) {
	switch {
	case val.Nil != nil:
		return nil, nil
	case val.Int != nil:
		return int(*val.Int), nil
	case val.I4 != nil:
		return int(*val.I4), nil
	case val.Boolean != nil:
		return *val.Boolean != 0, nil
	case val.String != nil:
		return *val.String, nil
	case val.Double != nil:
		return *val.Double, nil
	case val.Base64 != nil:
		by, err := cristalbase64.StdEncoding.DecodeString(strings.TrimSpace(*val.Base64))
		if err != nil {
			return nil, fmt.Errorf("bad base64 value: %w", err)
		}
		return by, nil
	case val.DateTime != nil:
		tm, err := time.ParseInLocation(DateTimeFormat, strings.TrimSpace(*val.DateTime), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad dateTime value: %w", err)
		}
		return tm, nil
	case val.Array != nil:
		out := make([]any, 0, len(val.Array.Data.Values))
		for i, e := range val.Array.Data.Values {
			x, err := FromValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %v: %w", i, err)
			}
			out = append(out, x)
		}
		return out, nil
	case val.Struct != nil:
		out := make(map[string]any, len(val.Struct.Members))
		for _, m := range val.Struct.Members {
			x, err := FromValue(m.Value)
			if err != nil {
				return nil, fmt.Errorf("member %v: %w", m.Name, err)
			}
			out[m.Name] = x
		}
		return out, nil
	}
	return val.Chardata, nil
}

// EncodeParams wraps wire args as a params element.
func EncodeParams(args []any) (*Params, error) {
	ps := &Params{}
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return nil, fmt.Errorf("param %v: %w", i, err)
		}
		ps.Param = append(ps.Param, Param{Value: v})
	}
	return ps, nil
}

func DecodeParams(ps *Params) ([]any, error) {
	if ps == nil {
		return nil, nil
	}
	out := make([]any, 0, len(ps.Param))
	for i, p := range ps.Param {
		x, err := FromValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("param %v: %w", i, err)
		}
		out = append(out, x)
	}
	return out, nil
}

// NewFault builds a fault from a code and message.
func NewFault(code int, msg string) *Fault {
	v, _ := ToValue(map[string]any{"faultCode": code, "faultString": msg})
	return &Fault{Value: v}
}

// Decode extracts the code and message of a fault. Missing
// members give 0 and "".
func (f *Fault) Decode() (code int, msg string) {
	x, err := FromValue(f.Value)
	if err != nil {
		return 0, err.Error()
	}
	m, _ := x.(map[string]any)
	code, _ = m["faultCode"].(int)
	msg, _ = m["faultString"].(string)
	return
}
