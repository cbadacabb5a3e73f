package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrSyntax is returned for selectors that cannot be tokenized or use
	// unsupported constructs
	ErrSyntax = errors.New("selector: syntax error")
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOperator
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string // identifiers keep their case, strings hold the unquoted value
}

// Translate rewrites a JMS-style selector into an equivalent expr-lang expression
func Translate(source string) (string, error) {
	tokens, err := tokenize(source)
	if err != nil {
		return "", err
	}

	var (
		out    []string
		inList int // parenthesis depth at which an IN list was opened, 0 when none
		depth  int
		nots   []int
	)

	// NOT binds looser than comparisons in selectors, tighter in expr. Its
	// operand is parenthesized up to the next AND, OR or closing parenthesis;
	// nots holds the depth of every operand still open.
	closeNots := func(at int) {
		for len(nots) > 0 && nots[len(nots)-1] == at {
			out = append(out, ")")
			nots = nots[:len(nots)-1]
		}
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.kind {
		case tokString:
			out = append(out, strconv.Quote(tok.text))
		case tokNumber:
			out = append(out, tok.text)
		case tokComma:
			out = append(out, ",")
		case tokLParen:
			depth++
			out = append(out, "(")
		case tokRParen:
			if inList != 0 && depth == inList {
				out = append(out, "]")
				inList = 0
			} else {
				closeNots(depth)
				out = append(out, ")")
			}
			depth--
		case tokOperator:
			out = append(out, translateOperator(tok.text))
		case tokIdent:
			switch strings.ToUpper(tok.text) {
			case "AND":
				closeNots(depth)
				out = append(out, "and")
			case "OR":
				closeNots(depth)
				out = append(out, "or")
			case "TRUE":
				out = append(out, "true")
			case "FALSE":
				out = append(out, "false")
			case "NULL":
				out = append(out, "nil")
			case "NOT":
				if next(tokens, i+1, "IN") {
					out = append(out, "not in")
					i++
					if err := openList(tokens, &i, &depth, &inList, &out); err != nil {
						return "", err
					}
					continue
				}
				if next(tokens, i+1, "LIKE") || next(tokens, i+1, "BETWEEN") {
					return "", fmt.Errorf("%w: NOT %s is not supported", ErrSyntax, strings.ToUpper(tokens[i+1].text))
				}
				out = append(out, "not", "(")
				nots = append(nots, depth)
			case "IS":
				if next(tokens, i+1, "NOT") && next(tokens, i+2, "NULL") {
					out = append(out, "!= nil")
					i += 2
					continue
				}
				if next(tokens, i+1, "NULL") {
					out = append(out, "== nil")
					i++
					continue
				}
				return "", fmt.Errorf("%w: IS must be followed by [NOT] NULL", ErrSyntax)
			case "IN":
				out = append(out, "in")
				if err := openList(tokens, &i, &depth, &inList, &out); err != nil {
					return "", err
				}
			case "LIKE":
				if i+1 >= len(tokens) || tokens[i+1].kind != tokString {
					return "", fmt.Errorf("%w: LIKE requires a string pattern", ErrSyntax)
				}
				out = append(out, "matches", strconv.Quote(likeToRegexp(tokens[i+1].text)))
				i++
			case "BETWEEN", "ESCAPE":
				return "", fmt.Errorf("%w: %s is not supported", ErrSyntax, strings.ToUpper(tok.text))
			default:
				out = append(out, property(tok.text))
			}
		}
	}

	if depth != 0 {
		return "", fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
	}
	closeNots(0)

	return strings.Join(out, " "), nil
}

// openList consumes the "(" following IN and switches it to a list literal
func openList(tokens []token, i *int, depth, inList *int, out *[]string) error {
	if *i+1 >= len(tokens) || tokens[*i+1].kind != tokLParen {
		return fmt.Errorf("%w: IN requires a parenthesized list", ErrSyntax)
	}
	*i++
	*depth++
	*inList = *depth
	*out = append(*out, "[")
	return nil
}

// property reads an identifier from the environment map so names such as
// type, len or matches never resolve to expr builtins or operators
func property(name string) string {
	return "$env[" + strconv.Quote(name) + "]"
}

func next(tokens []token, i int, keyword string) bool {
	return i < len(tokens) && tokens[i].kind == tokIdent && strings.EqualFold(tokens[i].text, keyword)
}

func translateOperator(op string) string {
	switch op {
	case "=":
		return "=="
	case "<>":
		return "!="
	default:
		return op
	}
}

// likeToRegexp converts a SQL LIKE pattern into an anchored regular expression
func likeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func tokenize(source string) ([]token, error) {
	var tokens []token
	runes := []rune(source)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'':
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string literal", ErrSyntax)
			}
			tokens = append(tokens, token{kind: tokString, text: b.String()})

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && expectsOperand(tokens)):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i])})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++

		case r == '<' || r == '>' || r == '=' || r == '!':
			op := string(r)
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				if two == "<>" || two == "<=" || two == ">=" || two == "!=" {
					op = two
				}
			}
			if op == "!" {
				return nil, fmt.Errorf("%w: unexpected '!'", ErrSyntax)
			}
			tokens = append(tokens, token{kind: tokOperator, text: op})
			i += len(op)

		case r == '+' || r == '-' || r == '*' || r == '/':
			tokens = append(tokens, token{kind: tokOperator, text: string(r)})
			i++

		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, r)
		}
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty selector", ErrSyntax)
	}
	return tokens, nil
}

// expectsOperand reports whether a '-' at this position starts a negative literal
func expectsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	switch last.kind {
	case tokOperator, tokLParen, tokComma:
		return true
	case tokIdent:
		switch strings.ToUpper(last.text) {
		case "AND", "OR", "NOT", "IN":
			return true
		}
	}
	return false
}
