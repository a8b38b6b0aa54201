package vars

import (
	"encoding/json"
	"fmt"
)

// Index returns a new Var accessing one element of a sequence or one entry
// of a mapping.
//
// Sequence-typed vars accept an int (negative counts from the end) or an
// int-typed Var; access renders bounds-safe as `.at(i)`. Mapping-typed vars
// accept string, int, or float keys, or a Var of those types, rendering as
// `v[key]`.
//
// Indexing a var of unresolved type fails: the implementer must annotate the
// type explicitly (via To or the declaring schema) rather than have the
// runtime silently assume Any.
func (v Var) Index(index any) (Var, error) {
	switch v.typ.Kind() {
	case KindAny:
		return Var{}, &TypeError{
			Op:     "index",
			Detail: fmt.Sprintf("cannot index %q: its type is unresolved; annotate the var's type explicitly with To or the declaring schema", v.String()),
		}
	case KindList, KindString:
		return v.indexSequence(index)
	case KindMap:
		return v.indexMapping(index)
	default:
		return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("type %s is not indexable", v.typ)}
	}
}

func (v Var) indexSequence(index any) (Var, error) {
	elem := StringType()
	if v.typ.Kind() == KindList {
		elem = v.typ.Elem()
	}
	switch i := index.(type) {
	case int:
		return v.derive(fmt.Sprintf("%s.at(%d)", v.String(), i), elem), nil
	case int64:
		return v.derive(fmt.Sprintf("%s.at(%d)", v.String(), i), elem), nil
	case Var:
		if i.typ.Kind() != KindInt {
			return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("sequence index var must be int-typed, got %s", i.typ)}
		}
		return v.derive(fmt.Sprintf("%s.at(%s)", v.String(), i.String()), elem), nil
	default:
		return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("unsupported sequence index type %T", index)}
	}
}

func (v Var) indexMapping(index any) (Var, error) {
	value := v.typ.Elem()
	switch k := index.(type) {
	case string, int, int64, float64:
		key, err := json.Marshal(k)
		if err != nil {
			return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("unencodable mapping key %v", k)}
		}
		return v.derive(fmt.Sprintf("%s[%s]", v.String(), key), value), nil
	case Var:
		switch k.typ.Kind() {
		case KindString, KindInt, KindFloat:
			return v.derive(fmt.Sprintf("%s[%s]", v.String(), k.String()), value), nil
		}
		return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("mapping key var must be string, int, or float typed, got %s", k.typ)}
	default:
		return Var{}, &TypeError{Op: "index", Detail: fmt.Sprintf("unsupported mapping key type %T", index)}
	}
}

// Slice returns a bounds-safe subsequence `v.slice(start, stop)`. Nil bounds
// are open; negative bounds count from the end, matching the client-side
// slice semantics.
func (v Var) Slice(start, stop *int) (Var, error) {
	if !v.typ.IsSequence() {
		return Var{}, &TypeError{Op: "slice", Detail: fmt.Sprintf("type %s is not sliceable", v.typ)}
	}
	switch {
	case start == nil && stop == nil:
		return v.derive(v.String()+".slice()", v.typ), nil
	case stop == nil:
		return v.derive(fmt.Sprintf("%s.slice(%d)", v.String(), *start), v.typ), nil
	default:
		s := 0
		if start != nil {
			s = *start
		}
		return v.derive(fmt.Sprintf("%s.slice(%d, %d)", v.String(), s, *stop), v.typ), nil
	}
}

// Field returns a new Var scoped to `v.name` for object-typed vars whose
// declared type exposes the field. Accessing an undeclared field fails with
// an *AttributeError; the usual cause is a mis-annotated var type.
func (v Var) Field(name string) (Var, error) {
	if v.typ.Kind() != KindObject {
		return Var{}, &AttributeError{Expr: v.String(), Type: v.typ, Field: name}
	}
	ft, ok := v.typ.Field(name)
	if !ok {
		return Var{}, &AttributeError{Expr: v.String(), Type: v.typ, Field: name}
	}
	return v.derive(v.String()+"."+name, ft), nil
}
