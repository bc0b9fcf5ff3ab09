// Package metric parses the metric expressions aggregated by the analytics queries.
//
// A metric is a superstore column name or an arithmetic combination of columns and
// numeric literals, e.g. "sales" or "100 * profit / sales". Expressions are parsed
// with CEL and rendered to SQL; nothing is evaluated in process.
package metric

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Well-known dashboard metrics.
const (
	Orders      = "order_id"
	Customers   = "customer_id"
	Sales       = "sales"
	Profit      = "profit"
	ProfitRatio = "100 * profit / sales"
)

var binaryOperators = map[string]string{
	operators.Add:      "+",
	operators.Subtract: "-",
	operators.Multiply: "*",
	operators.Divide:   "/",
}

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// environment declares every superstore column as a CEL variable.
// Columns are dynamically typed so int literals combine with real columns.
func environment() (*cel.Env, error) {
	envOnce.Do(func() {
		opts := make([]cel.EnvOption, 0, len(domain.Columns))
		for _, c := range domain.Columns {
			opts = append(opts, cel.Variable(c.Name, cel.DynType))
		}
		env, envErr = cel.NewEnv(opts...)
		if envErr != nil {
			envErr = fmt.Errorf("failed to create CEL environment: %w", envErr)
		}
	})
	return env, envErr
}

// Expr is a parsed metric expression.
type Expr struct {
	source    string
	sql       string
	canonical string
	numeric   bool
	columns   []string
}

// Parse parses and validates a metric expression.
// Malformed expressions and unknown columns are reported as domain.ErrQueryFailure.
func Parse(expr string) (*Expr, error) {
	source := strings.TrimSpace(expr)
	if source == "" {
		return nil, fmt.Errorf("%w: empty metric expression", domain.ErrQueryFailure)
	}

	e, err := environment()
	if err != nil {
		return nil, err
	}

	parsed, iss := e.Parse(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: malformed metric expression %q: %v", domain.ErrQueryFailure, source, iss.Err())
	}

	r := &renderer{seen: make(map[string]bool)}
	n, err := r.render(parsed.NativeRep().Expr())
	if err != nil {
		return nil, fmt.Errorf("%w: metric %q: %v", domain.ErrQueryFailure, source, err)
	}

	if _, iss := e.Check(parsed); iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: metric %q: %v", domain.ErrQueryFailure, source, iss.Err())
	}

	return &Expr{
		source:    source,
		sql:       n.sql,
		canonical: n.canonical,
		numeric:   n.numeric,
		columns:   r.columns,
	}, nil
}

// MustParse is like Parse but panics on error. Intended for constant expressions.
func MustParse(expr string) *Expr {
	m, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return m
}

// SQL renders the expression as a dialect-neutral SQL fragment.
// Division is evaluated in floating point and yields NULL for a zero divisor.
func (m *Expr) SQL() string { return m.sql }

// Canonical is the structural identity of the expression. Whitespace, redundant
// parentheses and int versus double literals do not change it.
func (m *Expr) Canonical() string { return m.canonical }

// Numeric reports whether the expression yields numbers.
func (m *Expr) Numeric() bool { return m.numeric }

// Source returns the expression as written.
func (m *Expr) Source() string { return m.source }

// Columns returns the referenced columns in order of first appearance.
func (m *Expr) Columns() []string {
	out := make([]string, len(m.columns))
	copy(out, m.columns)
	return out
}

// String implements fmt.Stringer.
func (m *Expr) String() string { return m.canonical }

type node struct {
	sql       string
	canonical string
	numeric   bool
}

type renderer struct {
	seen    map[string]bool
	columns []string
}

func (r *renderer) render(expr celast.Expr) (node, error) {
	switch expr.Kind() {
	case celast.IdentKind:
		return r.ident(expr.AsIdent())
	case celast.LiteralKind:
		return literal(expr)
	case celast.CallKind:
		return r.call(expr.AsCall())
	default:
		return node{}, fmt.Errorf("unsupported expression")
	}
}

func (r *renderer) ident(name string) (node, error) {
	col, ok := domain.LookupColumn(name)
	if !ok {
		return node{}, fmt.Errorf("unknown column %q", name)
	}
	if !r.seen[name] {
		r.seen[name] = true
		r.columns = append(r.columns, name)
	}
	return node{sql: name, canonical: name, numeric: col.Type.Numeric()}, nil
}

func literal(expr celast.Expr) (node, error) {
	f, err := literalValue(expr)
	if err != nil {
		return node{}, err
	}
	return number(f), nil
}

func literalValue(expr celast.Expr) (float64, error) {
	switch v := expr.AsLiteral().(type) {
	case types.Int:
		return float64(v), nil
	case types.Uint:
		return float64(v), nil
	case types.Double:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("only numeric literals are supported")
	}
}

// number renders a constant. Equal values share one canonical form.
func number(f float64) node {
	canonical := strconv.FormatFloat(f, 'g', -1, 64)
	sql := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(sql, ".") {
		sql += ".0"
	}
	if f < 0 {
		sql = "(" + sql + ")"
	}
	return node{sql: sql, canonical: canonical, numeric: true}
}

func (r *renderer) call(call celast.CallExpr) (node, error) {
	if call.IsMemberFunction() {
		return node{}, fmt.Errorf("method calls are not supported")
	}

	name := call.FunctionName()
	args := call.Args()

	if name == operators.Negate && len(args) == 1 {
		if args[0].Kind() == celast.LiteralKind {
			f, err := literalValue(args[0])
			if err != nil {
				return node{}, err
			}
			return number(0 - f), nil
		}
		operand, err := r.operand(args[0])
		if err != nil {
			return node{}, err
		}
		return node{
			sql:       "(-" + operand.sql + ")",
			canonical: "(-" + operand.canonical + ")",
			numeric:   true,
		}, nil
	}

	op, ok := binaryOperators[name]
	if !ok || len(args) != 2 {
		return node{}, fmt.Errorf("unsupported operator or function %q", strings.Trim(name, "_"))
	}

	left, err := r.operand(args[0])
	if err != nil {
		return node{}, err
	}
	right, err := r.operand(args[1])
	if err != nil {
		return node{}, err
	}

	canonical := "(" + left.canonical + " " + op + " " + right.canonical + ")"
	sql := "(" + left.sql + " " + op + " " + right.sql + ")"
	if op == "/" {
		sql = "((1.0 * " + left.sql + ") / NULLIF(" + right.sql + ", 0))"
	}
	return node{sql: sql, canonical: canonical, numeric: true}, nil
}

// operand renders an arithmetic operand, which must be numeric.
func (r *renderer) operand(expr celast.Expr) (node, error) {
	n, err := r.render(expr)
	if err != nil {
		return node{}, err
	}
	if !n.numeric {
		return node{}, fmt.Errorf("arithmetic on non-numeric column %q", n.canonical)
	}
	return n, nil
}
