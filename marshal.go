package obsrpc

import (
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/glycerine/obsrpc/iface"
)

// Wire values are the plain values a transport can carry:
// nil, bool, int, float64, string, []byte, time.Time,
// []any and map[string]any. Real values may additionally
// hold enum types, typed slices and typed maps.
//
// Both directions are best effort. A value that does not fit
// its declared type is handed back unchanged, leaving the
// decision to the code that consumes it.

// ToWire converts a real value into its wire form per t.
func ToWire(v any, t *iface.Type) any {
	if v == nil {
		return nil
	}
	if t == nil {
		t = iface.Any
	}
	switch t.Kind {
	case iface.KindEnum:
		if s, ok := t.Enum.ToWire(v); ok {
			return s
		}
		return v
	case iface.KindOptional:
		return ToWire(v, t.Elem)
	case iface.KindList:
		return wireSeq(v, func(int) *iface.Type { return t.Elem })
	case iface.KindTuple:
		return wireSeq(v, func(i int) *iface.Type {
			if i < len(t.Elems) {
				return t.Elems[i]
			}
			return iface.Any
		})
	case iface.KindMap:
		return wireMap(v, t.Elem)
	case iface.KindAny:
		return plain(v)
	}
	return v
}

// plain makes an undeclared value transport safe: named string
// types become strings, typed slices and maps become generic ones.
func plain(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		if rv.Type() != reflect.TypeOf("") {
			return rv.String()
		}
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.Uint8 {
			return wireSeq(v, func(int) *iface.Type { return iface.Any })
		}
	case reflect.Map:
		return wireMap(v, iface.Any)
	}
	return v
}

func wireSeq(v any, elem func(int) *iface.Type) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = ToWire(rv.Index(i).Interface(), elem(i))
	}
	return out
}

func wireMap(v any, val *iface.Type) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return v
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = ToWire(iter.Value().Interface(), val)
	}
	return out
}

// ToReal converts a wire value into its real form per t.
func ToReal(v any, t *iface.Type) any {
	if v == nil || t == nil {
		return v
	}
	switch t.Kind {
	case iface.KindEnum:
		if s, ok := v.(string); ok {
			if r, ok := t.Enum.FromWire(s); ok {
				return r
			}
		}
		return v
	case iface.KindOptional:
		return ToReal(v, t.Elem)
	case iface.KindInt:
		return toInt(v)
	case iface.KindFloat:
		return toFloat(v)
	case iface.KindTime:
		if s, ok := v.(string); ok {
			if tm, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return tm
			}
		}
		return v
	case iface.KindList:
		return realSeq(v, func(int) *iface.Type { return t.Elem })
	case iface.KindTuple:
		return realSeq(v, func(i int) *iface.Type {
			if i < len(t.Elems) {
				return t.Elems[i]
			}
			return iface.Any
		})
	case iface.KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = ToReal(x, t.Elem)
		}
		return out
	}
	return v
}

func realSeq(v any, elem func(int) *iface.Type) any {
	xs, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = ToReal(x, elem(i))
	}
	return out
}

func toInt(v any) any {
	switch x := v.(type) {
	case int:
		return x
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64, uint:
		return int(reflect.ValueOf(x).Convert(reflect.TypeOf(0)).Int())
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int(x)
		}
	case float32:
		if float64(x) == math.Trunc(float64(x)) {
			return int(x)
		}
	case string:
		if n, err := strconv.Atoi(x); err == nil {
			return n
		}
	}
	return v
}

func toFloat(v any) any {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(x).Int())
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(x).Uint())
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	return v
}

// MarshalArgs converts bound real arguments to wire form.
func MarshalArgs(op *iface.Operation, args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		t := iface.Any
		if i < len(op.Params) {
			t = op.Params[i].Type
		}
		out[i] = ToWire(a, t)
	}
	return out
}

// UnmarshalArgs converts received wire arguments to real form.
func UnmarshalArgs(op *iface.Operation, args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		t := iface.Any
		if i < len(op.Params) {
			t = op.Params[i].Type
		}
		out[i] = ToReal(a, t)
	}
	return out
}
