package schema

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Kind is a primitive value kind a field may hold.
type Kind uint8

const (
	Invalid Kind = iota
	String
	Integer
	Float
	Boolean
	List
	Map
	Null
)

var kindNames = [...]string{
	Invalid: "unknown",
	String:  "string",
	Integer: "integer",
	Float:   "float",
	Boolean: "boolean",
	List:    "list",
	Map:     "map",
	Null:    "null",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KindOf classifies v. Values decoded with json.Decoder.UseNumber are
// supported: an integral json.Number is an Integer, any other literal a Float.
// Booleans are never integers.
func KindOf(v any) Kind {
	switch val := v.(type) {
	case nil:
		return Null
	case string:
		return String
	case bool:
		return Boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Integer
	case float32, float64:
		return Float
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return Float
		}
		return Integer
	case []any:
		return List
	case map[string]any:
		return Map
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return List
	case reflect.Map:
		return Map
	case reflect.Pointer:
		if rv.IsNil() {
			return Null
		}
		return KindOf(rv.Elem().Interface())
	}
	return Invalid
}

// Type is the set of kinds a field accepts.
type Type struct {
	kinds uint16
}

// Of returns a Type accepting any of kinds.
func Of(kinds ...Kind) Type {
	var t Type
	for _, k := range kinds {
		t.kinds |= 1 << k
	}
	return t
}

// Nullable returns a Type accepting kinds or null.
func Nullable(kinds ...Kind) Type {
	return Of(append(kinds, Null)...)
}

var (
	TString = Of(String)
	TInt    = Of(Integer)
	TFloat  = Of(Float)
	TBool   = Of(Boolean)
	TList   = Of(List)
	TMap    = Of(Map)
	TNumber = Of(Integer, Float)
)

func (t Type) has(k Kind) bool {
	return t.kinds&(1<<k) != 0
}

// Accepts reports whether v satisfies t. An integer satisfies a float type,
// since JSON encodes 1.0 as 1.
func (t Type) Accepts(v any) bool {
	k := KindOf(v)
	if k == Invalid {
		return false
	}
	if t.has(k) {
		return true
	}
	return k == Integer && t.has(Float)
}

// Kinds lists the accepted kinds in declaration order.
func (t Type) Kinds() []Kind {
	var out []Kind
	for k := String; k <= Null; k++ {
		if t.has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (t Type) IsZero() bool { return t.kinds == 0 }

func (t Type) String() string {
	kinds := t.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}

// typeName describes v for error messages.
func typeName(v any) string {
	if k := KindOf(v); k != Invalid {
		return k.String()
	}
	return reflect.TypeOf(v).String()
}
