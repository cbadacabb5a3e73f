package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davideduma/commons-jms/broker"
)

func message(correlationID string, headers map[string]any) *broker.Message {
	msg := broker.NewTextMessage("payload")
	msg.CorrelationID = correlationID
	for k, v := range headers {
		msg.SetHeader(k, v)
	}
	return msg
}

func TestCorrelationID(t *testing.T) {
	t.Run("builds equality selector", func(t *testing.T) {
		assert.Equal(t, "JMSCorrelationID = 'abc'", CorrelationID("abc"))
	})

	t.Run("escapes quotes", func(t *testing.T) {
		assert.Equal(t, "JMSCorrelationID = 'it''s'", CorrelationID("it's"))

		s, err := Compile(CorrelationID("it's"))
		require.NoError(t, err)
		assert.True(t, s.Matches(message("it's", nil)))
	})
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"equality", "JMSCorrelationID = 'x'", `$env["JMSCorrelationID"] == "x"`},
		{"not equal", "a <> 1", `$env["a"] != 1`},
		{"boolean operators", "a = 1 AND NOT b = 2 OR c >= 3", `$env["a"] == 1 and not ( $env["b"] == 2 ) or $env["c"] >= 3`},
		{"not group", "NOT (a = 1 OR b = 2)", `not ( ( $env["a"] == 1 or $env["b"] == 2 ) )`},
		{"is null", "a IS NULL", `$env["a"] == nil`},
		{"is not null", "a IS NOT NULL", `$env["a"] != nil`},
		{"in list", "region IN ('eu', 'us')", `$env["region"] in [ "eu" , "us" ]`},
		{"not in list", "region NOT IN ('eu')", `$env["region"] not in [ "eu" ]`},
		{"like", "name LIKE 'ord_%'", `$env["name"] matches "^ord..*$"`},
		{"negative number", "a > -5", `$env["a"] > -5`},
		{"parentheses", "(a = 1)", `( $env["a"] == 1 )`},
		{"builtin name", "len = 3", `$env["len"] == 3`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Translate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.out, got)
		})
	}
}

func TestTranslateErrors(t *testing.T) {
	for _, in := range []string{
		"a = 'unterminated",
		"a BETWEEN 1 AND 2",
		"a NOT LIKE 'x'",
		"a IS 5",
		"(a = 1",
		"a IN 'x'",
		"a # 1",
		"   ",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Translate(in)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestCompileAndMatch(t *testing.T) {
	t.Run("empty selector matches everything", func(t *testing.T) {
		s, err := Compile("")
		require.NoError(t, err)
		assert.True(t, s.IsEmpty())
		assert.True(t, s.Matches(message("any", nil)))
	})

	t.Run("nil selector matches everything", func(t *testing.T) {
		var s *Selector
		assert.True(t, s.Matches(message("any", nil)))
		assert.Equal(t, "", s.String())
	})

	t.Run("correlation id selector", func(t *testing.T) {
		s := MustCompile(CorrelationID("ID:1"))
		assert.True(t, s.Matches(message("ID:1", nil)))
		assert.False(t, s.Matches(message("ID:2", nil)))
		assert.False(t, s.Matches(nil))
		assert.Equal(t, "JMSCorrelationID = 'ID:1'", s.String())
	})

	t.Run("headers and standard fields", func(t *testing.T) {
		s := MustCompile("region = 'eu' AND attempts > 2")
		assert.True(t, s.Matches(message("", map[string]any{"region": "eu", "attempts": 3})))
		assert.False(t, s.Matches(message("", map[string]any{"region": "eu", "attempts": 1})))
		assert.False(t, s.Matches(message("", map[string]any{"region": "us", "attempts": 5})))
	})

	t.Run("missing property does not match", func(t *testing.T) {
		s := MustCompile("attempts > 2")
		assert.False(t, s.Matches(message("", nil)))
	})

	t.Run("is null on missing property", func(t *testing.T) {
		s := MustCompile("tenant IS NULL")
		assert.True(t, s.Matches(message("", nil)))
		assert.False(t, s.Matches(message("", map[string]any{"tenant": "a"})))
	})

	t.Run("in and like", func(t *testing.T) {
		in := MustCompile("region IN ('eu', 'us')")
		assert.True(t, in.Matches(message("", map[string]any{"region": "us"})))
		assert.False(t, in.Matches(message("", map[string]any{"region": "ap"})))

		like := MustCompile("JMSCorrelationID LIKE 'order-%'")
		assert.True(t, like.Matches(message("order-42", nil)))
		assert.False(t, like.Matches(message("invoice-42", nil)))
	})

	t.Run("properties named like expr builtins", func(t *testing.T) {
		headers := map[string]any{
			"type":    "order",
			"len":     3,
			"count":   2,
			"all":     "x",
			"now":     1,
			"matches": "x",
		}
		for _, source := range []string{
			"type = 'order'",
			"len = 3",
			"count > 1",
			"all = 'x'",
			"now = 1",
			"matches = 'x'",
			"type = 'order' AND len IN (3, 4)",
		} {
			t.Run(source, func(t *testing.T) {
				s, err := Compile(source)
				require.NoError(t, err)
				assert.True(t, s.Matches(message("", headers)))
				assert.False(t, s.Matches(message("", nil)))
			})
		}
	})

	t.Run("not negates the whole comparison", func(t *testing.T) {
		s := MustCompile("NOT region = 'eu' AND attempts > 1")
		assert.True(t, s.Matches(message("", map[string]any{"region": "us", "attempts": 2})))
		assert.False(t, s.Matches(message("", map[string]any{"region": "eu", "attempts": 2})))
		assert.False(t, s.Matches(message("", map[string]any{"region": "us", "attempts": 1})))
	})

	t.Run("is null on unset correlation id", func(t *testing.T) {
		s := MustCompile("JMSCorrelationID IS NULL")
		assert.True(t, s.Matches(message("", nil)))
		assert.False(t, s.Matches(message("ID:1", nil)))
	})

	t.Run("invalid selector fails to compile", func(t *testing.T) {
		_, err := Compile("a = ")
		assert.Error(t, err)
		assert.Panics(t, func() { MustCompile("a = ") })
	})
}
