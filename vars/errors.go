package vars

import "fmt"

// TypeError reports a value or operation that cannot be represented as a
// client-side expression: non-encodable literals, unsupported index kinds,
// or indexing a var whose type has not been resolved.
type TypeError struct {
	Op     string
	Detail string
}

func (e *TypeError) Error() string {
	if e.Op == "" {
		return "vars: " + e.Detail
	}
	return fmt.Sprintf("vars: %s: %s", e.Op, e.Detail)
}

// AttributeError reports access to a field the var's declared type does not
// expose. This usually means the var was annotated with the wrong type.
type AttributeError struct {
	Expr  string
	Type  Type
	Field string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf(
		"vars: %q (type %s) has no field %q; if the field exists client-side the var may be mis-annotated, declare it via ObjectOf or relabel with To",
		e.Expr, e.Type, e.Field)
}
