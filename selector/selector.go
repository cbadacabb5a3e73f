// Package selector evaluates JMS-style message selectors.
//
// A selector is a boolean expression over message properties, for example
//
//	JMSCorrelationID = 'ID:4142' AND priority > 3
//
// Selectors are translated to expr-lang expressions and compiled once; the
// compiled program is evaluated against broker.Message.Properties. Supported
// syntax: comparison operators (=, <>, <, >, <=, >=), AND, OR, NOT,
// parentheses, string/number/boolean literals, IS [NOT] NULL, [NOT] IN (...)
// and LIKE with % and _ wildcards.
package selector

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/davideduma/commons-jms/broker"
)

// CorrelationIDProperty is the property name replies are filtered on
const CorrelationIDProperty = "JMSCorrelationID"

// Selector is a compiled message selector. The zero value and a nil
// *Selector match every message.
type Selector struct {
	source  string
	program *vm.Program
}

// CorrelationID returns the selector that matches replies carrying id
func CorrelationID(id string) string {
	return fmt.Sprintf("%s = '%s'", CorrelationIDProperty, strings.ReplaceAll(id, "'", "''"))
}

// Compile parses and compiles a selector. An empty selector matches everything.
func Compile(source string) (*Selector, error) {
	if strings.TrimSpace(source) == "" {
		return &Selector{}, nil
	}

	translated, err := Translate(source)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", source, err)
	}

	program, err := expr.Compile(translated, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("selector %q: compile: %w", source, err)
	}

	return &Selector{source: source, program: program}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(source string) *Selector {
	s, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return s
}

// Matches reports whether msg satisfies the selector. Evaluation errors
// (for example comparing a missing property with a number) count as no match.
func (s *Selector) Matches(msg *broker.Message) bool {
	if s == nil || s.program == nil {
		return true
	}
	if msg == nil {
		return false
	}

	out, err := expr.Run(s.program, msg.Properties())
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

// String returns the original selector text
func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return s.source
}

// IsEmpty reports whether the selector matches everything
func (s *Selector) IsEmpty() bool {
	return s == nil || s.program == nil
}
