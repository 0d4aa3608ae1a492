package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// ErrSyntax is returned for queries that cannot be compiled.
var ErrSyntax = errors.New("query syntax error")

// Getter resolves column values for one row.
type Getter interface {
	Get(name string) (any, bool)
}

// Expr is a compiled query.
//
// Comparison and boolean operators follow dataframe query semantics:
// & and | bind looser than comparisons, any comparison involving nil is
// false except !=, which is true.
type Expr struct {
	src     string
	root    node
	columns []string
}

var compiled sync.Map // string -> *Expr

// Compile parses src. Compiled expressions are memoised: equal sources
// return the same *Expr.
func Compile(src string) (*Expr, error) {
	if e, ok := compiled.Load(src); ok {
		return e.(*Expr), nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks, src: src}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%q: unexpected %q at %d: %w", src, p.peek().text, p.peek().pos, ErrSyntax)
	}
	e := &Expr{src: src, root: root, columns: p.columns}
	actual, _ := compiled.LoadOrStore(src, e)
	return actual.(*Expr), nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

// Columns returns the identifiers referenced by the expression.
func (e *Expr) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Eval evaluates the expression against row.
func (e *Expr) Eval(row Getter) (any, error) {
	return e.root.eval(row)
}

// Match evaluates the expression as a row predicate. Nil is false.
func (e *Expr) Match(row Getter) (bool, error) {
	v, err := e.root.eval(row)
	if err != nil {
		return false, err
	}
	return truthy(v)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

var operators = []string{"==", "!=", ">=", "<=", "<>", ">", "<", "&&", "||", "&", "|", "~", "!", "+", "-", "*", "/"}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '"' || r == '\'':
			end := strings.IndexRune(src[i+1:], r)
			if end < 0 {
				return nil, fmt.Errorf("%q: unterminated string at %d: %w", src, i, ErrSyntax)
			}
			toks = append(toks, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case r == '`':
			end := strings.IndexRune(src[i+1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("%q: unterminated column at %d: %w", src, i, ErrSyntax)
			}
			toks = append(toks, token{kind: tokIdent, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.' || src[j] == 'e' || src[j] == 'E' ||
				((src[j] == '-' || src[j] == '+') && j > i && (src[j-1] == 'e' || src[j-1] == 'E'))) {
				j++
			}
			f, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%q: bad number %q: %w", src, src[i:j], ErrSyntax)
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], num: f, pos: i})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[j:])
				if r2 != '_' && r2 != '.' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += w2
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{kind: tokOp, text: op, pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("%q: unexpected %q at %d: %w", src, r, i, ErrSyntax)
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

type exprParser struct {
	src     string
	toks    []token
	pos     int
	columns []string
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) isOp(t token, ops ...string) bool {
	if t.kind == tokOp {
		for _, op := range ops {
			if t.text == op {
				return true
			}
		}
	}
	if t.kind == tokIdent {
		word := strings.ToLower(t.text)
		for _, op := range ops {
			if word == op {
				return true
			}
		}
	}
	return false
}

func (p *exprParser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp(p.peek(), "|", "||", "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "|", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOp(p.peek(), "&", "&&", "and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "&", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (node, error) {
	if p.isOp(p.peek(), "~", "!", "not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); p.isOp(t, "==", "!=", ">=", "<=", ">", "<", "<>") {
		p.next()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		op := t.text
		if op == "<>" {
			op = "=="
		}
		return compareNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); p.isOp(t, "+", "-"); t = p.peek() {
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: t.text, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); p.isOp(t, "*", "/"); t = p.peek() {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: t.text, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (node, error) {
	if p.isOp(p.peek(), "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return arithNode{op: "-", left: literal{value: 0.0}, right: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return literal{value: t.num}, nil
	case tokString:
		return literal{value: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("%q: missing ) for ( at %d: %w", p.src, t.pos, ErrSyntax)
		}
		return inner, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "none", "null", "nan":
			return literal{value: nil}, nil
		}
		p.columns = append(p.columns, t.text)
		return column{name: t.text}, nil
	}
	return nil, fmt.Errorf("%q: unexpected %q at %d: %w", p.src, t.text, t.pos, ErrSyntax)
}

type node interface {
	eval(row Getter) (any, error)
}

type literal struct{ value any }

func (l literal) eval(Getter) (any, error) { return l.value, nil }

type column struct{ name string }

func (c column) eval(row Getter) (any, error) {
	v, ok := row.Get(c.name)
	if !ok {
		return nil, fmt.Errorf("column %q not found: %w", c.name, contracts.ErrQueryRejected)
	}
	return v, nil
}

type notNode struct{ operand node }

func (n notNode) eval(row Getter) (any, error) {
	v, err := n.operand.eval(row)
	if err != nil {
		return nil, err
	}
	b, err := truthy(v)
	if err != nil {
		return nil, err
	}
	return !b, nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n logicalNode) eval(row Getter) (any, error) {
	lv, err := n.left.eval(row)
	if err != nil {
		return nil, err
	}
	l, err := truthy(lv)
	if err != nil {
		return nil, err
	}
	if n.op == "&" && !l {
		return false, nil
	}
	if n.op == "|" && l {
		return true, nil
	}
	rv, err := n.right.eval(row)
	if err != nil {
		return nil, err
	}
	return truthy(rv)
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(row Getter) (any, error) {
	lv, err := n.left.eval(row)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(row)
	if err != nil {
		return nil, err
	}
	return compare(n.op, lv, rv), nil
}

func compare(op string, l, r any) bool {
	if l == nil || r == nil {
		return op == "!="
	}
	if lf, ok := toFloat(l); ok {
		if rf, ok := toFloat(r); ok {
			switch op {
			case "==":
				return lf == rf
			case "!=":
				return lf != rf
			case ">":
				return lf > rf
			case ">=":
				return lf >= rf
			case "<":
				return lf < rf
			case "<=":
				return lf <= rf
			}
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case "==":
			return ls == rs
		case "!=":
			return ls != rs
		case ">":
			return ls > rs
		case ">=":
			return ls >= rs
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		}
	}
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}

type arithNode struct {
	op          string
	left, right node
}

func (n arithNode) eval(row Getter) (any, error) {
	lv, err := n.left.eval(row)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(row)
	if err != nil {
		return nil, err
	}
	if lv == nil || rv == nil {
		return nil, nil
	}
	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		if ls, ok := lv.(string); ok && n.op == "+" {
			if rs, ok := rv.(string); ok {
				return ls + rs, nil
			}
		}
		return nil, fmt.Errorf("%v %s %v: %w", lv, n.op, rv, contracts.ErrTypeMismatch)
	}
	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func truthy(v any) (bool, error) {
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	}
	if f, ok := toFloat(v); ok {
		return f != 0, nil
	}
	return false, fmt.Errorf("%v is not a boolean: %w", v, contracts.ErrTypeMismatch)
}
