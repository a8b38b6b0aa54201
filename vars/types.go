package vars

import (
	"fmt"
	"sort"
	"strings"
)

// Kind enumerates the semantic type kinds a Var can carry. The kind drives
// which operations (arithmetic, indexing, field access) are legal and how
// their results are typed.
type Kind int

const (
	// KindAny is the unresolved type. Indexing and field access on an Any
	// var are rejected rather than silently defaulting; callers must
	// annotate the type explicitly via To.
	KindAny Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type describes the semantic type of a Var. Types are immutable value
// objects; the zero value is the Any type.
type Type struct {
	kind   Kind
	elem   *Type           // list element / map value type
	key    *Type           // map key type
	name   string          // object type name
	fields map[string]Type // object fields
}

// Any returns the unresolved type.
func Any() Type { return Type{kind: KindAny} }

// BoolType returns the boolean type.
func BoolType() Type { return Type{kind: KindBool} }

// IntType returns the integer type.
func IntType() Type { return Type{kind: KindInt} }

// FloatType returns the floating point type.
func FloatType() Type { return Type{kind: KindFloat} }

// StringType returns the string type.
func StringType() Type { return Type{kind: KindString} }

// ListOf returns a list type with the given element type.
func ListOf(elem Type) Type { return Type{kind: KindList, elem: &elem} }

// MapOf returns a mapping type with the given key and value types.
func MapOf(key, value Type) Type { return Type{kind: KindMap, key: &key, elem: &value} }

// ObjectOf returns an object type exposing the given named fields. The name
// is informational only; field access is resolved against fields.
func ObjectOf(name string, fields map[string]Type) Type {
	copied := make(map[string]Type, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Type{kind: KindObject, name: name, fields: copied}
}

// Kind returns the type's kind.
func (t Type) Kind() Kind { return t.kind }

// Elem returns the element type of a list, or the value type of a map. For
// any other kind it returns the Any type.
func (t Type) Elem() Type {
	if t.elem != nil {
		return *t.elem
	}
	return Any()
}

// Key returns the key type of a map, or the Any type for any other kind.
func (t Type) Key() Type {
	if t.key != nil {
		return *t.key
	}
	return Any()
}

// Field looks up a declared object field.
func (t Type) Field(name string) (Type, bool) {
	ft, ok := t.fields[name]
	return ft, ok
}

// FieldNames returns the declared object field names in sorted order.
func (t Type) FieldNames() []string {
	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsNumeric reports whether the type is int or float.
func (t Type) IsNumeric() bool { return t.kind == KindInt || t.kind == KindFloat }

// IsSequence reports whether the type supports positional (bounds-safe)
// indexing: lists and strings.
func (t Type) IsSequence() bool { return t.kind == KindList || t.kind == KindString }

// IsMapping reports whether the type supports keyed indexing.
func (t Type) IsMapping() bool { return t.kind == KindMap }

// Equal reports whether two types are structurally identical.
func (t Type) Equal(other Type) bool { return t.String() == other.String() }

func (t Type) String() string {
	switch t.kind {
	case KindList:
		return "list[" + t.Elem().String() + "]"
	case KindMap:
		return "map[" + t.Key().String() + "]" + t.Elem().String()
	case KindObject:
		if t.name != "" {
			return "object:" + t.name
		}
		var b strings.Builder
		b.WriteString("object{")
		for i, name := range t.FieldNames() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
		}
		b.WriteString("}")
		return b.String()
	default:
		return t.kind.String()
	}
}

// TypeOf infers the semantic type of a Go literal. Unknown shapes infer as
// Any; Create rejects values that are not JSON-encodable before inference
// matters.
func TypeOf(value any) Type {
	switch v := value.(type) {
	case nil:
		return Any()
	case bool:
		return BoolType()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return IntType()
	case float32, float64:
		return FloatType()
	case string:
		return StringType()
	case []any:
		return ListOf(commonElemType(v))
	case map[string]any:
		return MapOf(StringType(), commonValueType(v))
	default:
		return Any()
	}
}

func commonElemType(values []any) Type {
	var common Type
	for i, v := range values {
		t := TypeOf(v)
		if i == 0 {
			common = t
			continue
		}
		if !common.Equal(t) {
			return Any()
		}
	}
	if len(values) == 0 {
		return Any()
	}
	return common
}

func commonValueType(m map[string]any) Type {
	var common Type
	first := true
	for _, v := range m {
		t := TypeOf(v)
		if first {
			common = t
			first = false
			continue
		}
		if !common.Equal(t) {
			return Any()
		}
	}
	if first {
		return Any()
	}
	return common
}
