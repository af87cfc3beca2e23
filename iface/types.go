package iface

import (
	"fmt"
	"reflect"
	"strings"
)

// Kind classifies a Type descriptor.
type Kind int

const (
	KindAny Kind = iota
	KindVoid
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindEnum
	KindList
	KindTuple
	KindMap
	KindOptional
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindEnum:
		return "enum"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "map"
	case KindOptional:
		return "optional"
	}
	return fmt.Sprintf("Kind(%v)", int(k))
}

// Type describes the declared type of a parameter or
// a result. Types are immutable once built; share them freely.
type Type struct {
	Kind Kind

	// Elem is the element type of a List or Optional,
	// and the value type of a Map (keys are always strings
	// on the wire).
	Elem *Type

	// Elems holds the positional types of a Tuple.
	Elems []*Type

	// Enum is set for KindEnum.
	Enum *EnumDef
}

var (
	Any    = &Type{Kind: KindAny}
	Void   = &Type{Kind: KindVoid}
	Bool   = &Type{Kind: KindBool}
	Int    = &Type{Kind: KindInt}
	Float  = &Type{Kind: KindFloat}
	String = &Type{Kind: KindString}
	Bytes  = &Type{Kind: KindBytes}
	Time   = &Type{Kind: KindTime}
)

func ListOf(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}

func TupleOf(elems ...*Type) *Type {
	return &Type{Kind: KindTuple, Elems: elems}
}

func MapOf(val *Type) *Type {
	return &Type{Kind: KindMap, Elem: val}
}

func OptionalOf(elem *Type) *Type {
	return &Type{Kind: KindOptional, Elem: elem}
}

func EnumOf(e *EnumDef) *Type {
	return &Type{Kind: KindEnum, Enum: e}
}

// IsVoid reports whether t declares no return value.
// A nil *Type is treated as void.
func (t *Type) IsVoid() bool {
	return t == nil || t.Kind == KindVoid
}

func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindEnum:
		if t.Enum != nil {
			return t.Enum.Name
		}
	case KindList:
		return "list[" + t.Elem.String() + "]"
	case KindOptional:
		return "optional[" + t.Elem.String() + "]"
	case KindMap:
		return "map[string]" + t.Elem.String()
	case KindTuple:
		var parts []string
		for _, e := range t.Elems {
			parts = append(parts, e.String())
		}
		return "tuple[" + strings.Join(parts, ", ") + "]"
	}
	return t.Kind.String()
}

// Equal reports structural equality of two type descriptors.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t.IsVoid() && o.IsVoid() {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindEnum:
		return t.Enum == o.Enum
	case KindList, KindMap, KindOptional:
		return t.Elem.Equal(o.Elem)
	case KindTuple:
		if len(t.Elems) != len(o.Elems) {
			return false
		}
		for i := range t.Elems {
			if !t.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
	}
	return true
}

// EnumDef describes an enumeration whose Go representation
// is a named string type. The wire form of every member is
// its string value.
type EnumDef struct {
	Name   string
	Values []string
	GoType reflect.Type

	index map[string]bool
}

// NewEnum builds an EnumDef for the Go string type of sample.
func NewEnum[T ~string](name string, values ...T) *EnumDef {
	var zero T
	e := &EnumDef{
		Name:   name,
		GoType: reflect.TypeOf(zero),
		index:  make(map[string]bool),
	}
	for _, v := range values {
		e.Values = append(e.Values, string(v))
		e.index[string(v)] = true
	}
	return e
}

// Has reports whether s is a member of the enumeration.
func (e *EnumDef) Has(s string) bool {
	return e.index[s]
}

// FromWire converts a wire string into the enum's Go type.
// ok is false when s is not a member.
func (e *EnumDef) FromWire(s string) (v any, ok bool) {
	if !e.Has(s) {
		return s, false
	}
	return reflect.ValueOf(s).Convert(e.GoType).Interface(), true
}

// ToWire returns the string value of v if v is of the
// enum's Go type (or already a member string).
func (e *EnumDef) ToWire(v any) (s string, ok bool) {
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == e.GoType || rv.Kind() == reflect.String {
		s = rv.String()
		return s, e.Has(s)
	}
	return "", false
}
