package docstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
	"github.com/google/uuid"
)

// Statement is one shell call.
//
// Database-level calls (db.createCollection(...)) have an empty Collection.
type Statement struct {
	Collection string
	Method     string
	Args       []any
	Line       int
}

// Target renders the call site without arguments, e.g. "db.Orgs.drop".
func (s Statement) Target() string {
	if s.Collection == "" {
		return "db." + s.Method
	}
	return "db." + s.Collection + "." + s.Method
}

// ParseStatements parses an operation body as shell JavaScript and decodes
// every top-level db call. Arguments must be literals or one of the shell
// helpers ObjectId, ISODate, Date, NumberInt, NumberLong and NumberDecimal.
func ParseStatements(body string) ([]Statement, error) {
	prg, err := parser.ParseFile(nil, "", body, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, parseError(err)
	}
	d := &decoder{file: prg.File}

	var stmts []Statement
	for _, node := range prg.Body {
		switch n := node.(type) {
		case *ast.EmptyStatement:
			continue
		case *ast.ExpressionStatement:
			st, err := d.statement(n.Expression)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, st)
		default:
			return nil, d.errorf(node, "expected db.<collection>.<method>(...), found %q", d.source(node))
		}
	}
	if len(stmts) == 0 {
		return nil, &Error{Code: ErrCodeSyntax, Message: "operation contains no statements"}
	}
	return stmts, nil
}

func parseError(err error) *Error {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &Error{Code: ErrCodeSyntax, Line: list[0].Position.Line, Message: list[0].Message}
	}
	return &Error{Code: ErrCodeSyntax, Message: "cannot parse operation", Err: err}
}

// decoder turns call expressions into Statements.
type decoder struct {
	file *file.File
}

func (d *decoder) offset(idx file.Idx) int {
	return int(idx) - d.file.Base()
}

func (d *decoder) line(n ast.Node) int {
	return d.file.Position(d.offset(n.Idx0())).Line
}

// source returns the text of n, cut at the first line break.
func (d *decoder) source(n ast.Node) string {
	src := d.file.Source()
	start, end := d.offset(n.Idx0()), d.offset(n.Idx1())
	if start < 0 || end > len(src) || start >= end {
		return ""
	}
	s := src[start:end]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl] + "..."
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

func (d *decoder) errorf(n ast.Node, format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeSyntax,
		Line:    d.line(n),
		Message: fmt.Sprintf(format, args...),
	}
}

func (d *decoder) statement(expr ast.Expression) (Statement, error) {
	call, ok := expr.(*ast.CallExpression)
	if !ok {
		return Statement{}, d.errorf(expr, "expected db.<collection>.<method>(...), found %q", d.source(expr))
	}
	dot, ok := call.Callee.(*ast.DotExpression)
	if !ok {
		return Statement{}, d.errorf(expr, "expected db.<collection>.<method>(...), found %q", d.source(expr))
	}
	coll, err := d.collection(dot.Left)
	if err != nil {
		return Statement{}, err
	}
	args, err := d.values(call.ArgumentList)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Collection: coll,
		Method:     dot.Identifier.Name.String(),
		Args:       args,
		Line:       d.line(expr),
	}, nil
}

// collection resolves the receiver of a method call. "db" alone is the
// database; db.a.b names collection "a.b"; db.getCollection('x') and
// db['x'] name "x".
func (d *decoder) collection(expr ast.Expression) (string, error) {
	switch n := expr.(type) {
	case *ast.Identifier:
		if n.Name == "db" {
			return "", nil
		}
	case *ast.DotExpression:
		parent, err := d.collection(n.Left)
		if err != nil {
			return "", err
		}
		return joinName(parent, n.Identifier.Name.String()), nil
	case *ast.BracketExpression:
		parent, err := d.collection(n.Left)
		if err != nil {
			return "", err
		}
		name, ok := n.Member.(*ast.StringLiteral)
		if !ok || name.Value == "" {
			return "", d.errorf(n, "collection name must be a string")
		}
		return joinName(parent, name.Value.String()), nil
	case *ast.CallExpression:
		dot, ok := n.Callee.(*ast.DotExpression)
		if !ok || dot.Identifier.Name != "getCollection" {
			break
		}
		if db, ok := dot.Left.(*ast.Identifier); !ok || db.Name != "db" {
			break
		}
		if len(n.ArgumentList) != 1 {
			return "", d.errorf(n, "getCollection expects one string argument")
		}
		name, ok := n.ArgumentList[0].(*ast.StringLiteral)
		if !ok || name.Value == "" {
			return "", d.errorf(n, "getCollection expects one string argument")
		}
		return name.Value.String(), nil
	}
	return "", d.errorf(expr, "expected db.<collection>.<method>(...), found %q", d.source(expr))
}

func joinName(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func (d *decoder) values(exprs []ast.Expression) ([]any, error) {
	out := make([]any, 0, len(exprs))
	for _, e := range exprs {
		v, err := d.value(e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// value decodes a literal into a JSON-compatible Go value.
func (d *decoder) value(expr ast.Expression) (any, error) {
	switch n := expr.(type) {
	case *ast.StringLiteral:
		return n.Value.String(), nil
	case *ast.NumberLiteral:
		return number(n.Value), nil
	case *ast.BooleanLiteral:
		return n.Value, nil
	case *ast.NullLiteral:
		return nil, nil
	case *ast.TemplateLiteral:
		if n.Tag == nil && len(n.Expressions) == 0 && len(n.Elements) == 1 {
			return n.Elements[0].Parsed.String(), nil
		}
	case *ast.UnaryExpression:
		num, ok := n.Operand.(*ast.NumberLiteral)
		if !ok || n.Postfix {
			break
		}
		switch n.Operator {
		case token.MINUS:
			return negate(number(num.Value)), nil
		case token.PLUS:
			return number(num.Value), nil
		}
	case *ast.ArrayLiteral:
		out := make([]any, 0, len(n.Value))
		for _, el := range n.Value {
			if el == nil {
				return nil, d.errorf(n, "array holes are not supported")
			}
			v, err := d.value(el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *ast.ObjectLiteral:
		return d.object(n)
	case *ast.CallExpression:
		return d.helper(n, n.Callee, n.ArgumentList, false)
	case *ast.NewExpression:
		return d.helper(n, n.Callee, n.ArgumentList, true)
	}
	return nil, d.errorf(expr, "unsupported value %q", d.source(expr))
}

func (d *decoder) object(n *ast.ObjectLiteral) (map[string]any, error) {
	m := make(map[string]any, len(n.Value))
	for _, prop := range n.Value {
		kv, ok := prop.(*ast.PropertyKeyed)
		if !ok || kv.Computed || kv.Kind != ast.PropertyKindValue {
			return nil, d.errorf(n, "only key: value properties are supported")
		}
		var key string
		switch k := kv.Key.(type) {
		case *ast.StringLiteral:
			key = k.Value.String()
		case *ast.NumberLiteral:
			key = k.Literal
		default:
			return nil, d.errorf(kv, "unsupported key %q", d.source(kv.Key))
		}
		v, err := d.value(kv.Value)
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
	return m, nil
}

func (d *decoder) helper(node ast.Expression, callee ast.Expression, args []ast.Expression, isNew bool) (any, error) {
	id, ok := callee.(*ast.Identifier)
	if !ok {
		return nil, d.errorf(node, "unsupported call %q", d.source(node))
	}
	vals, err := d.values(args)
	if err != nil {
		return nil, err
	}
	v, err := shellHelper(id.Name.String(), vals, isNew)
	if err != nil {
		return nil, &Error{Code: ErrCodeSyntax, Line: d.line(node), Message: fmt.Sprintf("%q", d.source(node)), Err: err}
	}
	return v, nil
}

// now is the clock behind argument-less Date() and ObjectId().
var now = time.Now

// shellHelper evaluates a shell constructor. ObjectIds become lower-case
// hex strings, dates RFC 3339 strings in UTC, NumberInt and NumberLong
// ints and NumberDecimal float64.
func shellHelper(name string, args []any, isNew bool) (any, error) {
	switch name {
	case "ObjectId":
		switch len(args) {
		case 0:
			return newObjectID(), nil
		case 1:
			s, ok := args[0].(string)
			if !ok || len(s) != 24 {
				return nil, errors.New("ObjectId expects a 24-character hex string")
			}
			if _, err := hex.DecodeString(s); err != nil {
				return nil, errors.New("ObjectId expects a 24-character hex string")
			}
			return strings.ToLower(s), nil
		}
	case "ISODate", "Date":
		if name == "Date" && !isNew && len(args) > 0 {
			return nil, errors.New("Date() ignores its arguments; use new Date(...)")
		}
		switch len(args) {
		case 0:
			return formatDate(now()), nil
		case 1:
			t, err := parseDate(args[0])
			if err != nil {
				return nil, err
			}
			return formatDate(t), nil
		}
	case "NumberInt", "NumberLong":
		if len(args) != 1 {
			break
		}
		n, err := toInt(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if name == "NumberInt" && (n < math.MinInt32 || n > math.MaxInt32) {
			return nil, fmt.Errorf("NumberInt: %d overflows int32", n)
		}
		return n, nil
	case "NumberDecimal":
		if len(args) != 1 {
			break
		}
		f, err := toFloat(args[0])
		if err != nil {
			return nil, fmt.Errorf("NumberDecimal: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported helper %s", name)
	}
	return nil, fmt.Errorf("%s: wrong number of arguments (%d)", name, len(args))
}

// newObjectID returns 12 time-ordered bytes in hex, the shape of a
// MongoDB ObjectId.
func newObjectID() string {
	u := uuid.Must(uuid.NewV7())
	return hex.EncodeToString(u[:12])
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", t)
	case int:
		return time.UnixMilli(int64(t)), nil
	case float64:
		return time.UnixMilli(int64(t)), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %v", v)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// number maps a parsed numeric literal onto int or float64.
func number(v any) any {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return n
	}
	return v
}

func negate(v any) any {
	switch n := v.(type) {
	case int:
		return -n
	case float64:
		return -n
	}
	return v
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%v is not an integer", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%v is not a number", v)
}
