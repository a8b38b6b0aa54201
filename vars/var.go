// Package vars implements symbolic expression nodes for values that appear in
// client-side rendering. A Var never holds a concrete runtime value; it holds
// the textual JavaScript expression that evaluates to the value on the
// client, together with enough type information to keep derived expressions
// well formed. All operations are pure: they return new Vars and never mutate
// their receivers.
package vars

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Var is an immutable symbolic expression node. The zero value is an empty
// local expression of type Any and is not useful; construct Vars via Create,
// Local, or StateField.
type Var struct {
	expr     string
	typ      Type
	state    string // owning-state qualifier, empty for locals/literals
	isLocal  bool   // literal or synthesized local, not a state reference
	isString bool   // rendered as a string literal
}

// Create wraps a literal Go value as a local Var, or passes an existing Var
// through unchanged. Values that are not JSON-encodable (and not already a
// Var) fail with a *TypeError.
func Create(value any) (Var, error) {
	if v, ok := value.(Var); ok {
		return v, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return Var{}, &TypeError{Op: "create", Detail: fmt.Sprintf("value of type %T is not JSON-encodable: %v", value, err)}
	}
	_, isStr := value.(string)
	return Var{
		expr:     string(b),
		typ:      TypeOf(value),
		isLocal:  true,
		isString: isStr,
	}, nil
}

// MustCreate is Create but panics on error. Intended for literals known to be
// encodable at compile time.
func MustCreate(value any) Var {
	v, err := Create(value)
	if err != nil {
		panic(err)
	}
	return v
}

// Local returns a local Var with an explicit expression and type, e.g. a
// synthesized loop variable or an event argument reference.
func Local(expr string, typ Type) Var {
	return Var{expr: expr, typ: typ, isLocal: true}
}

// StateField returns a Var referencing a field of a named backend state,
// e.g. StateField("app.settings", "theme", StringType()). The state
// qualifier is rendered as a prefix of the full expression.
func StateField(state, name string, typ Type) Var {
	return Var{expr: name, typ: typ, state: state}
}

// Expr returns the bare expression text, without the owning-state qualifier.
func (v Var) Expr() string { return v.expr }

// Type returns the var's semantic type.
func (v Var) Type() Type { return v.typ }

// State returns the owning-state qualifier, or "" for locals and literals.
func (v Var) State() string { return v.state }

// IsLocal reports whether the var is a literal or synthesized local rather
// than a state reference.
func (v Var) IsLocal() bool { return v.isLocal }

// IsString reports whether the var renders as a string literal.
func (v Var) IsString() bool { return v.isString }

// String renders the full client-side expression, including the owning-state
// qualifier when present.
func (v Var) String() string {
	if v.state != "" {
		return v.state + "." + v.expr
	}
	return v.expr
}

// To returns a copy of the var relabeled with the given type. The rendered
// expression is unchanged; this only narrows or widens type information.
func (v Var) To(typ Type) Var {
	v.typ = typ
	return v
}

// Equal reports whether two vars are interchangeable: same expression text,
// type, owning state, and locality.
func (v Var) Equal(other Var) bool {
	return v.expr == other.expr &&
		v.typ.Equal(other.typ) &&
		v.state == other.state &&
		v.isLocal == other.isLocal
}

// Key is a comparable identity for use as a map key when deduplicating vars
// in generated code.
type Key struct {
	Expr  string
	Type  string
	State string
	Local bool
}

// Key returns the var's comparable identity.
func (v Var) Key() Key {
	return Key{Expr: v.expr, Type: v.typ.String(), State: v.state, Local: v.isLocal}
}

// derive builds a new Var from an expression derived from v, inheriting
// locality but resetting the state qualifier (the qualifier is already baked
// into the derived expression text via String).
func (v Var) derive(expr string, typ Type) Var {
	return Var{expr: expr, typ: typ, isLocal: v.isLocal && v.state == ""}
}

// needsGrouping reports whether the rendered expression must be wrapped in
// parentheses before being placed to the right of a division-like operator.
// Expressions that are single tokens, call expressions, or already fully
// parenthesized bind tightly enough on their own.
func (v Var) needsGrouping() bool {
	s := v.String()
	if s == "" {
		return false
	}
	if wrapped(s) {
		return false
	}
	return strings.ContainsAny(s, " +-*/%")
}

// wrapped reports whether s is entirely enclosed by one pair of parentheses.
// Parentheses inside string literals do not count toward nesting, so an
// expression like `("a)" + x)` is correctly seen as unwrapped.
func wrapped(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0 && quote == 0
}
