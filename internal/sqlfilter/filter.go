// Package sqlfilter validates the restricted SQL filters accepted by SQL
// lobbies and compiles them into parameterized WHERE clauses.
//
// A filter is one or more alternatives separated by ';', tried left to right.
// Each alternative may only reference the listed columns C0..C9 and a small
// set of comparison keywords. Stored templates are referenced as $SP.<name>
// and carry [Key] placeholders filled from caller parameters.
package sqlfilter

import (
	"regexp"
	"strconv"
	"strings"

	"roomd/internal/protocol"
	"roomd/internal/value"
)

// DefaultMaxAlternatives caps the ';'-separated alternatives of one filter.
const DefaultMaxAlternatives = 4

// Columns is the number of filterable columns, C0 through C9.
const Columns = 10

var (
	forbidden   = regexp.MustCompile(`(?i)(ALTER|CREATE|DELETE|DROP|EXEC|EXECUTE|INSERT|MERGE|SELECT|UPDATE|UNION)`)
	templateRef = regexp.MustCompile(`(?i)\$SP\.([A-Za-z0-9_]+)`)
	placeholder = regexp.MustCompile(`\[([A-Za-z0-9_]+)\]`)
)

// Clause is one compiled alternative. Where references columns c0..c9 and
// binds every literal through Args.
type Clause struct {
	Where string
	Args  []any
}

// Compiler turns filter strings into clauses.
type Compiler struct {
	maxAlternatives int
	templates       map[string]string
}

// NewCompiler returns a compiler with the given stored templates, keyed by
// case-insensitive name. maxAlternatives <= 0 uses DefaultMaxAlternatives.
func NewCompiler(maxAlternatives int, templates map[string]string) *Compiler {
	if maxAlternatives <= 0 {
		maxAlternatives = DefaultMaxAlternatives
	}
	t := make(map[string]string, len(templates))
	for name, body := range templates {
		t[strings.ToLower(name)] = body
	}
	return &Compiler{maxAlternatives: maxAlternatives, templates: t}
}

// Compile validates filter and returns its alternatives in order. An empty
// filter yields no clauses and matches everything. Every failure is
// InvalidOperation.
func (c *Compiler) Compile(filter string, params map[string]any) ([]Clause, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	params, err := value.NormalizeMap(params)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidOperation, "filter parameters: %v", err)
	}

	parts, err := splitAlternatives(filter)
	if err != nil {
		return nil, err
	}
	if len(parts) > c.maxAlternatives {
		return nil, protocol.Errorf(protocol.InvalidOperation, "filter has %d alternatives, at most %d allowed", len(parts), c.maxAlternatives)
	}

	clauses := make([]Clause, 0, len(parts))
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, protocol.Errorf(protocol.InvalidOperation, "filter alternative %d is empty", i+1)
		}
		expanded, err := c.expand(part, params)
		if err != nil {
			return nil, err
		}
		if kw := forbidden.FindString(expanded); kw != "" {
			return nil, protocol.Errorf(protocol.InvalidOperation, "keyword %s is not allowed in filters", strings.ToUpper(kw))
		}
		clause, err := compileAlternative(expanded)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// splitAlternatives splits on ';' outside string literals.
func splitAlternatives(s string) ([]string, error) {
	var parts []string
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if inString {
		return nil, protocol.Errorf(protocol.InvalidOperation, "unterminated string in filter")
	}
	return append(parts, s[start:]), nil
}

// expand replaces $SP.<name> references with their stored template and the
// template's [Key] placeholders with literal parameters.
func (c *Compiler) expand(s string, params map[string]any) (string, error) {
	lowered := make(map[string]any, len(params))
	for k, v := range params {
		lowered[strings.ToLower(k)] = v
	}

	var failure error
	out := templateRef.ReplaceAllStringFunc(s, func(ref string) string {
		if failure != nil {
			return ref
		}
		name := strings.ToLower(templateRef.FindStringSubmatch(ref)[1])
		body, ok := c.templates[name]
		if !ok {
			failure = protocol.Errorf(protocol.InvalidOperation, "unknown filter template %q", name)
			return ref
		}
		return placeholder.ReplaceAllStringFunc(body, func(ph string) string {
			if failure != nil {
				return ph
			}
			key := strings.ToLower(placeholder.FindStringSubmatch(ph)[1])
			v, ok := lowered[key]
			if !ok {
				failure = protocol.Errorf(protocol.InvalidOperation, "filter template %q: no value for [%s]", name, key)
				return ph
			}
			lit, err := literal(v)
			if err != nil {
				failure = err
				return ph
			}
			return lit
		})
	})
	if failure != nil {
		return "", failure
	}
	if strings.Contains(out, ";") {
		return "", protocol.Errorf(protocol.InvalidOperation, "filter template expands to several alternatives")
	}
	return out, nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	}
	return "", protocol.Errorf(protocol.InvalidOperation, "filter parameter of type %T cannot be used in a filter", v)
}

// compileAlternative checks every token against the whitelist and rebuilds
// the clause with bound literals. Adjacent comparisons without a connector
// are joined with AND.
func compileAlternative(s string) (Clause, error) {
	toks, err := lex(s)
	if err != nil {
		return Clause{}, err
	}
	if len(toks) == 0 {
		return Clause{}, protocol.Errorf(protocol.InvalidOperation, "empty filter alternative")
	}

	var (
		b       strings.Builder
		args    []any
		operand bool
		depth   int
	)
	emit := func(text string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	for _, tok := range toks {
		switch tok.kind {
		case tokIdent:
			word := strings.ToUpper(tok.text)
			if col, ok := column(word); ok {
				if operand {
					emit("AND")
				}
				emit(col)
				operand = true
				continue
			}
			switch word {
			case "AND", "OR", "NOT", "LIKE", "IN", "BETWEEN", "IS":
				emit(word)
				operand = false
			case "NULL":
				emit(word)
				operand = true
			default:
				return Clause{}, protocol.Errorf(protocol.InvalidOperation, "identifier %q is not allowed in filters", tok.text)
			}
		case tokNumber:
			n, err := number(tok.text)
			if err != nil {
				return Clause{}, err
			}
			emit("?")
			args = append(args, n)
			operand = true
		case tokString:
			emit("?")
			args = append(args, tok.text)
			operand = true
		case tokOperator:
			emit(tok.text)
			operand = false
		case tokLParen:
			if operand {
				emit("AND")
			}
			emit("(")
			depth++
			operand = false
		case tokRParen:
			depth--
			if depth < 0 {
				return Clause{}, protocol.Errorf(protocol.InvalidOperation, "unbalanced parentheses in filter")
			}
			emit(")")
			operand = true
		case tokComma:
			emit(",")
			operand = false
		}
	}
	if depth != 0 {
		return Clause{}, protocol.Errorf(protocol.InvalidOperation, "unbalanced parentheses in filter")
	}
	if !operand {
		return Clause{}, protocol.Errorf(protocol.InvalidOperation, "filter ends with an incomplete expression")
	}
	return Clause{Where: b.String(), Args: args}, nil
}

// column maps C0..C9 to its table column.
func column(word string) (string, bool) {
	if len(word) == 2 && word[0] == 'C' && word[1] >= '0' && word[1] <= '9' {
		return "c" + word[1:], true
	}
	return "", false
}

func number(text string) (any, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidOperation, "bad number %q in filter", text)
	}
	return f, nil
}
