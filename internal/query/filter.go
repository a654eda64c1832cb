package query

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-crud/internal/metadata"
	"github.com/isometry/ldap-crud/internal/translate"
)

// Filters that match every entry and no entry.
const (
	MatchAll  = "(objectClass=*)"
	MatchNone = "(!(objectClass=*))"
)

// ErrUnsupported is wrapped when a query cannot be expressed as an LDAP filter.
var ErrUnsupported = errors.New("unsupported query")

// FilterBuilder converts query expressions of one entity into LDAP filters.
type FilterBuilder struct {
	md         *metadata.EntityMetadata
	translator translate.FieldNameTranslator
	codec      translate.Codec
}

func NewFilterBuilder(md *metadata.EntityMetadata, translator translate.FieldNameTranslator) *FilterBuilder {
	return &FilterBuilder{md: md, translator: translator}
}

// Build returns the LDAP filter for q. A nil query matches everything.
func (b *FilterBuilder) Build(q Query) (string, error) {
	if q == nil {
		return MatchAll, nil
	}

	filter, err := b.build(q)
	if err != nil {
		return "", err
	}

	if _, err := ldap.CompileFilter(filter); err != nil {
		return "", fmt.Errorf("%w: generated filter %s: %w", ErrInvalidQuery, filter, err)
	}
	return filter, nil
}

func (b *FilterBuilder) build(q Query) (string, error) {
	switch q := q.(type) {
	case *And:
		return b.join('&', q.Queries, MatchAll)
	case *Or:
		return b.join('|', q.Queries, MatchNone)
	case *Not:
		inner, err := b.build(q.Query)
		if err != nil {
			return "", err
		}
		return "(!" + inner + ")", nil
	}

	fields := q.Fields()
	if len(fields) == 1 && fields[0] == metadata.FieldObjectType {
		return b.objectType(q)
	}

	switch q := q.(type) {
	case *Comparison:
		return b.comparison(q)
	case *In:
		return b.in(q)
	case *Regex:
		return b.regex(q)
	case *Exists:
		field, err := b.resolve(q.Field)
		if err != nil {
			return "", err
		}
		present := "(" + b.translator.FieldToAttribute(field.Path) + "=*)"
		if q.Exists {
			return present, nil
		}
		return "(!" + present + ")", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupported, q)
	}
}

func (b *FilterBuilder) join(op byte, queries []Query, empty string) (string, error) {
	switch len(queries) {
	case 0:
		return empty, nil
	case 1:
		return b.build(queries[0])
	}

	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteByte(op)
	for _, q := range queries {
		f, err := b.build(q)
		if err != nil {
			return "", err
		}
		sb.WriteString(f)
	}
	sb.WriteByte(')')
	return sb.String(), nil
}

// resolve returns the stored field a query refers to.
func (b *FilterBuilder) resolve(path string) (*metadata.Field, error) {
	field, ok := b.md.Field(path)
	if !ok || path == metadata.FieldDN {
		return nil, fmt.Errorf("%w: unknown field %s", ErrInvalidQuery, path)
	}
	if field.IsCount() {
		return nil, fmt.Errorf("%w: array count %s cannot be queried", ErrUnsupported, path)
	}
	return field, nil
}

func (b *FilterBuilder) encode(field *metadata.Field, value any) (string, error) {
	encoded, err := b.codec.Encode(field.ValueType(), value)
	if err != nil {
		var encErr *translate.EncodingError
		if errors.As(err, &encErr) {
			encErr.Field = field.Path
		}
		return "", err
	}
	return ldap.EscapeFilter(encoded), nil
}

func (b *FilterBuilder) comparison(q *Comparison) (string, error) {
	field, err := b.resolve(q.Field)
	if err != nil {
		return "", err
	}

	value, err := b.encode(field, q.Value)
	if err != nil {
		return "", err
	}

	attr := b.translator.FieldToAttribute(field.Path)
	switch q.Op {
	case OpEq:
		return "(" + attr + "=" + value + ")", nil
	case OpNeq:
		return "(!(" + attr + "=" + value + "))", nil
	case OpLte:
		return "(" + attr + "<=" + value + ")", nil
	case OpGte:
		return "(" + attr + ">=" + value + ")", nil
	case OpLt:
		return "(&(" + attr + "=*)(!(" + attr + ">=" + value + ")))", nil
	case OpGt:
		return "(&(" + attr + "=*)(!(" + attr + "<=" + value + ")))", nil
	default:
		return "", fmt.Errorf("%w: operator %s", ErrUnsupported, q.Op)
	}
}

func (b *FilterBuilder) in(q *In) (string, error) {
	field, err := b.resolve(q.Field)
	if err != nil {
		return "", err
	}

	attr := b.translator.FieldToAttribute(field.Path)
	var filter string
	switch len(q.Values) {
	case 0:
		if q.Negate {
			return MatchAll, nil
		}
		return MatchNone, nil
	default:
		var sb strings.Builder
		if len(q.Values) > 1 {
			sb.WriteString("(|")
		}
		for _, v := range q.Values {
			value, err := b.encode(field, v)
			if err != nil {
				return "", err
			}
			sb.WriteString("(" + attr + "=" + value + ")")
		}
		if len(q.Values) > 1 {
			sb.WriteByte(')')
		}
		filter = sb.String()
	}

	if q.Negate {
		return "(!" + filter + ")", nil
	}
	return filter, nil
}

func (b *FilterBuilder) regex(q *Regex) (string, error) {
	field, err := b.resolve(q.Field)
	if err != nil {
		return "", err
	}
	if t := field.ValueType(); t != metadata.TypeString && t != metadata.TypeUID {
		return "", fmt.Errorf("%w: regex on %s field %s", ErrUnsupported, t, field.Path)
	}

	pattern, err := parseLiteralPattern(q.Pattern)
	if err != nil {
		return "", err
	}

	attr := b.translator.FieldToAttribute(field.Path)
	return "(" + attr + "=" + pattern.filterValue() + ")", nil
}

// objectType expressions are decided against the entity name.
func (b *FilterBuilder) objectType(q Query) (string, error) {
	name := b.md.Name
	var match bool

	switch q := q.(type) {
	case *Comparison:
		s, ok := q.Value.(string)
		if !ok {
			return "", fmt.Errorf("%w: objectType compared with %v", ErrInvalidQuery, q.Value)
		}
		cmp := strings.Compare(name, s)
		switch q.Op {
		case OpEq:
			match = cmp == 0
		case OpNeq:
			match = cmp != 0
		case OpLt:
			match = cmp < 0
		case OpLte:
			match = cmp <= 0
		case OpGt:
			match = cmp > 0
		case OpGte:
			match = cmp >= 0
		}
	case *In:
		match = slices.Contains(q.Values, any(name)) != q.Negate
	case *Exists:
		match = q.Exists
	case *Regex:
		re, err := regexp.Compile(q.Pattern)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		match = re.MatchString(name)
	}

	if match {
		return MatchAll, nil
	}
	return MatchNone, nil
}

// literalPattern is a regex reduced to anchored literal parts joined by .*
type literalPattern struct {
	parts         []string
	anchoredStart bool
	anchoredEnd   bool
}

func parseLiteralPattern(pattern string) (*literalPattern, error) {
	p := &literalPattern{}

	if rest, ok := strings.CutPrefix(pattern, "^"); ok {
		p.anchoredStart = true
		pattern = rest
	}
	if strings.HasSuffix(pattern, "$") && !strings.HasSuffix(pattern, `\$`) {
		p.anchoredEnd = true
		pattern = pattern[:len(pattern)-1]
	}

	var current strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			if i+1 >= len(pattern) {
				return nil, fmt.Errorf("%w: trailing backslash in regex", ErrInvalidQuery)
			}
			i++
			current.WriteByte(pattern[i])
		case c == '.' && i+1 < len(pattern) && pattern[i+1] == '*':
			i++
			p.parts = append(p.parts, current.String())
			current.Reset()
		case strings.IndexByte(".*+?()[]{}|^$", c) >= 0:
			return nil, fmt.Errorf("%w: regex %q is not a literal pattern", ErrUnsupported, pattern)
		default:
			current.WriteByte(c)
		}
	}
	p.parts = append(p.parts, current.String())

	// A leading or trailing .* cancels the anchor on that side
	if p.parts[0] == "" && len(p.parts) > 1 {
		p.anchoredStart = false
	}
	if p.parts[len(p.parts)-1] == "" && len(p.parts) > 1 {
		p.anchoredEnd = false
	}

	if p.anchoredStart && p.anchoredEnd && len(p.parts) == 1 && p.parts[0] == "" {
		return nil, fmt.Errorf("%w: regex matches only the empty string", ErrUnsupported)
	}
	return p, nil
}

func (p *literalPattern) filterValue() string {
	var literals []string
	for _, part := range p.parts {
		if part != "" {
			literals = append(literals, ldap.EscapeFilter(part))
		}
	}

	if len(literals) == 0 {
		return "*"
	}

	value := strings.Join(literals, "*")
	if !p.anchoredStart {
		value = "*" + value
	}
	if !p.anchoredEnd {
		value += "*"
	}
	return value
}
