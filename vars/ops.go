package vars

import "fmt"

// Binary operator rendering rules: the result expression is the operator
// applied textually to the operand expressions, wrapped in one pair of
// parentheses. The result type defaults to the left operand's type; use
// BinOp to override it. Division-like operators additionally group the right
// operand when its expression would otherwise change precedence.

// BinOp returns a new Var rendering `(v op rhs)` with an explicit result
// type. Prefer the named operator methods; BinOp exists for operators whose
// result type must be overridden.
func (v Var) BinOp(op string, rhs Var, result Type) Var {
	return v.binop(op, rhs, result, false)
}

func (v Var) binop(op string, rhs Var, result Type, groupRight bool) Var {
	right := rhs.String()
	if groupRight && rhs.needsGrouping() {
		right = "(" + right + ")"
	}
	return Var{
		expr:    fmt.Sprintf("(%s %s %s)", v.String(), op, right),
		typ:     result,
		isLocal: v.isLocal && v.state == "" && rhs.isLocal && rhs.state == "",
	}
}

// Add renders `(v + rhs)`.
func (v Var) Add(rhs Var) Var { return v.binop("+", rhs, v.typ, false) }

// Sub renders `(v - rhs)`.
func (v Var) Sub(rhs Var) Var { return v.binop("-", rhs, v.typ, false) }

// Mul renders `(v * rhs)`.
func (v Var) Mul(rhs Var) Var { return v.binop("*", rhs, v.typ, false) }

// Div renders `(v / rhs)`, grouping the right operand when needed to
// preserve precedence.
func (v Var) Div(rhs Var) Var { return v.binop("/", rhs, v.typ, true) }

// FloorDiv renders `Math.floor(v / rhs)` with an integer result.
func (v Var) FloorDiv(rhs Var) Var {
	return Var{
		expr:    fmt.Sprintf("Math.floor(%s / %s)", v.String(), groupIfNeeded(rhs)),
		typ:     IntType(),
		isLocal: v.isLocal && v.state == "" && rhs.isLocal && rhs.state == "",
	}
}

// Mod renders `(v % rhs)`, grouping the right operand when needed.
func (v Var) Mod(rhs Var) Var { return v.binop("%", rhs, v.typ, true) }

// Pow renders `Math.pow(v, rhs)`.
func (v Var) Pow(rhs Var) Var {
	return Var{
		expr:    fmt.Sprintf("Math.pow(%s, %s)", v.String(), rhs.String()),
		typ:     v.typ,
		isLocal: v.isLocal && v.state == "" && rhs.isLocal && rhs.state == "",
	}
}

// And renders the logical conjunction `(v && rhs)`.
func (v Var) And(rhs Var) Var { return v.binop("&&", rhs, v.typ, false) }

// Or renders the logical disjunction `(v || rhs)`.
func (v Var) Or(rhs Var) Var { return v.binop("||", rhs, v.typ, false) }

// Lt renders `(v < rhs)` with a boolean result.
func (v Var) Lt(rhs Var) Var { return v.binop("<", rhs, BoolType(), false) }

// Le renders `(v <= rhs)` with a boolean result.
func (v Var) Le(rhs Var) Var { return v.binop("<=", rhs, BoolType(), false) }

// Gt renders `(v > rhs)` with a boolean result.
func (v Var) Gt(rhs Var) Var { return v.binop(">", rhs, BoolType(), false) }

// Ge renders `(v >= rhs)` with a boolean result.
func (v Var) Ge(rhs Var) Var { return v.binop(">=", rhs, BoolType(), false) }

// Eq renders `(v === rhs)` with a boolean result.
func (v Var) Eq(rhs Var) Var { return v.binop("===", rhs, BoolType(), false) }

// Ne renders `(v !== rhs)` with a boolean result.
func (v Var) Ne(rhs Var) Var { return v.binop("!==", rhs, BoolType(), false) }

// Neg renders the arithmetic negation `-(v)`.
func (v Var) Neg() Var {
	return Var{
		expr:    fmt.Sprintf("-(%s)", v.String()),
		typ:     v.typ,
		isLocal: v.isLocal && v.state == "",
	}
}

// Abs renders `Math.abs(v)`.
func (v Var) Abs() Var {
	return Var{
		expr:    fmt.Sprintf("Math.abs(%s)", v.String()),
		typ:     v.typ,
		isLocal: v.isLocal && v.state == "",
	}
}

// Not renders the logical negation `!(v)` with a boolean result.
func (v Var) Not() Var {
	return Var{
		expr:    fmt.Sprintf("!(%s)", v.String()),
		typ:     BoolType(),
		isLocal: v.isLocal && v.state == "",
	}
}

// Length renders `v.length` for sequences and strings.
func (v Var) Length() (Var, error) {
	if !v.typ.IsSequence() {
		return Var{}, &TypeError{Op: "length", Detail: fmt.Sprintf("type %s has no length", v.typ)}
	}
	return v.derive(v.String()+".length", IntType()), nil
}

func groupIfNeeded(v Var) string {
	s := v.String()
	if v.needsGrouping() {
		return "(" + s + ")"
	}
	return s
}
