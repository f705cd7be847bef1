// Package query builds twin graph query text through a staged builder.
//
// Each stage is its own interface so that clauses can only be chained in a
// legal order:
//
//	q := query.New().
//	    SelectAll().
//	    FromDigitalTwins("twins").
//	    Where().
//	    WithStringProperty("twins.$dtId", "floor-1").
//	    Query()
//
// The emitted text is sent verbatim to the twin store, so fragments keep the
// exact keyword casing and spacing the store has always received.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxItemsPerQuery bounds the length of a single IN list.
const DefaultMaxItemsPerQuery = 100

const dateLayout = "2006-01-02T15:04:05Z"

// Builder is any stage that can render the accumulated query.
type Builder interface {
	Query() string
}

// Selector is the initial stage.
type Selector interface {
	SelectSingle() From
	SelectAll() From
	SelectTop(n int) From
	SelectCount() From
	Select(fields ...string) From
}

// From chooses the collection to query.
type From interface {
	FromDigitalTwins(alias string) Where
	FromRelationships(alias string) Where
}

// Where accepts traversal clauses and opens the filter section.
type Where interface {
	Builder
	// Match emits a traversal pattern. Empty directions default to "-" and "->".
	Match(relationships []string, source, target, hops, sourceDirection, targetDirection string) Where
	MatchExpressions(exprs ...MatchExpression) Where
	JoinRelated(targetAlias, sourceAlias, relationshipName string) Where
	Where() Filter
	WhereFilter(filter string) Filter
}

// Filter appends predicates and connectives. Precedence is the caller's
// responsibility.
type Filter interface {
	Builder
	And() Filter
	Or() Filter
	Not() Filter
	OpenGroupParenthesis() Filter
	CloseGroupParenthesis() Filter
	CheckDefined(properties ...string) Filter
	IsDefined(property string) Filter
	WithStringProperty(name, value string) Filter
	WithIntProperty(name string, value int) Filter
	WithBoolProperty(name string, value bool) Filter
	WithPropertyIn(name string, values []string, maxItemsPerQuery int) Filter
	WithAnyModel(models []string, alias string, exact bool) Filter
	Contains(name, value string) Filter
	BetweenDates(name string, start, end time.Time) Filter
	Where() Filter
	WhereFilter(filter string) Filter
}

// MatchExpression is one hop of a chained match pattern.
type MatchExpression struct {
	Entity        string
	Relationships []string
	Hops          string
}

// builder holds the text shared by every stage of one query.
type builder struct {
	sb         strings.Builder
	whereAdded bool
}

// stage is implemented by every stage wrapper; it exposes the shared builder
// to helpers that need to move between stages.
type stage interface {
	core() *builder
}

type (
	selectorStage struct{ b *builder }
	fromStage     struct{ b *builder }
	whereStage    struct{ b *builder }
	filterStage   struct{ b *builder }
)

func (s selectorStage) core() *builder { return s.b }
func (s fromStage) core() *builder     { return s.b }
func (s whereStage) core() *builder    { return s.b }
func (s filterStage) core() *builder   { return s.b }

// New starts an empty query.
func New() Selector {
	return selectorStage{b: &builder{}}
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) where() {
	if !b.whereAdded {
		b.write("where ")
		b.whereAdded = true
	}
}

func (b *builder) whereFilter(filter string) {
	if filter == "" {
		return
	}
	if !b.whereAdded {
		b.write("where ", " ", filter)
		b.whereAdded = true
		return
	}
	b.write(" and ", filter)
}

// escape is the only injection defense; identifiers are never escaped.
func escape(value string) string {
	return strings.ReplaceAll(value, "'", `\'`)
}

// Selector stage

func (s selectorStage) SelectSingle() From {
	s.b.write("SELECT top(1) ")
	return fromStage(s)
}

func (s selectorStage) SelectAll() From {
	s.b.write("SELECT * ")
	return fromStage(s)
}

func (s selectorStage) SelectTop(n int) From {
	s.b.write("SELECT top(", strconv.Itoa(n), ") ")
	return fromStage(s)
}

func (s selectorStage) SelectCount() From {
	s.b.write("SELECT count() ")
	return fromStage(s)
}

func (s selectorStage) Select(fields ...string) From {
	s.b.write("select ", strings.Join(fields, ","), " ")
	return fromStage(s)
}

// From stage

func (s fromStage) FromDigitalTwins(alias string) Where {
	return s.from("DIGITALTWINS", alias)
}

func (s fromStage) FromRelationships(alias string) Where {
	return s.from("RELATIONSHIPS", alias)
}

func (s fromStage) from(collection, alias string) Where {
	s.b.write("from ", collection, " ")
	if alias = strings.TrimSpace(alias); alias != "" {
		s.b.write(alias, " ")
	}
	return whereStage(s)
}

// Where stage

func (s whereStage) Match(relationships []string, source, target, hops, sourceDirection, targetDirection string) Where {
	if sourceDirection == "" {
		sourceDirection = "-"
	}
	if targetDirection == "" {
		targetDirection = "->"
	}
	prefix := ""
	if len(relationships) > 0 {
		prefix = ":"
	}
	s.b.write("match (", source, ")", sourceDirection,
		"[", prefix, strings.Join(relationships, "|"), hops, "]",
		targetDirection, "(", target, ") ")
	return s
}

func (s whereStage) MatchExpressions(exprs ...MatchExpression) Where {
	s.b.write("match ")
	for _, e := range exprs {
		s.b.write("(", e.Entity, ")")
		if len(e.Relationships) > 0 {
			s.b.write("-[:", strings.Join(e.Relationships, "|"), e.Hops, "]-")
		}
	}
	return s
}

func (s whereStage) JoinRelated(targetAlias, sourceAlias, relationshipName string) Where {
	s.b.write("JOIN ", targetAlias, " RELATED ", sourceAlias, ".", relationshipName, " ")
	return s
}

func (s whereStage) Where() Filter {
	s.b.where()
	return filterStage(s)
}

func (s whereStage) WhereFilter(filter string) Filter {
	s.b.whereFilter(filter)
	return filterStage(s)
}

func (s whereStage) Query() string {
	return s.b.sb.String()
}

// Filter stage

func (s filterStage) And() Filter {
	s.b.write("AND ")
	return s
}

func (s filterStage) Or() Filter {
	s.b.write("OR ")
	return s
}

func (s filterStage) Not() Filter {
	s.b.write("NOT ")
	return s
}

func (s filterStage) OpenGroupParenthesis() Filter {
	s.b.write("( ")
	return s
}

func (s filterStage) CloseGroupParenthesis() Filter {
	s.b.write(") ")
	return s
}

func (s filterStage) CheckDefined(properties ...string) Filter {
	defined := make([]string, len(properties))
	for i, p := range properties {
		defined[i] = "IS_DEFINED(" + p + ") "
	}
	s.b.write(strings.Join(defined, " AND "))
	return s
}

func (s filterStage) IsDefined(property string) Filter {
	s.b.write("IS_DEFINED(", property, ") ")
	return s
}

func (s filterStage) WithStringProperty(name, value string) Filter {
	s.b.write(name, " = '", escape(value), "' ")
	return s
}

func (s filterStage) WithIntProperty(name string, value int) Filter {
	s.b.write(name, " = ", strconv.Itoa(value))
	return s
}

func (s filterStage) WithBoolProperty(name string, value bool) Filter {
	s.b.write(name, " = ", strconv.FormatBool(value))
	return s
}

// WithPropertyIn OR-combines chunks of at most maxItemsPerQuery values. A
// one-element chunk becomes an equality, and only values inside IN lists are
// trimmed.
func (s filterStage) WithPropertyIn(name string, values []string, maxItemsPerQuery int) Filter {
	if maxItemsPerQuery <= 0 {
		maxItemsPerQuery = DefaultMaxItemsPerQuery
	}

	var statements []string
	for start := 0; start < len(values); start += maxItemsPerQuery {
		chunk := values[start:min(start+maxItemsPerQuery, len(values))]
		if len(chunk) == 1 {
			statements = append(statements, fmt.Sprintf("%s = '%s'", name, escape(chunk[0])))
			continue
		}
		quoted := make([]string, len(chunk))
		for i, v := range chunk {
			quoted[i] = "'" + escape(strings.TrimSpace(v)) + "'"
		}
		statements = append(statements, fmt.Sprintf("%s IN [%s]", name, strings.Join(quoted, ",")))
	}

	s.b.write("(", strings.Join(statements, " OR "), ") ")
	return s
}

func (s filterStage) WithAnyModel(models []string, alias string, exact bool) Filter {
	prefix := ""
	if alias != "" {
		prefix = alias + ", "
	}
	suffix := ""
	if exact {
		suffix = ", exact"
	}

	predicates := make([]string, len(models))
	for i, m := range models {
		predicates[i] = "IS_OF_MODEL(" + prefix + "'" + strings.TrimSpace(m) + "'" + suffix + ")"
	}
	s.b.write("(", strings.Join(predicates, " OR "), ") ")
	return s
}

func (s filterStage) Contains(name, value string) Filter {
	s.b.write("contains(", name, ", '", escape(value), "') ")
	return s
}

// BetweenDates renders both bounds in UTC.
func (s filterStage) BetweenDates(name string, start, end time.Time) Filter {
	s.b.write(name, " >= '", start.UTC().Format(dateLayout), "' and ",
		name, " <= '", end.UTC().Format(dateLayout), "'")
	return s
}

func (s filterStage) Where() Filter {
	s.b.where()
	return s
}

func (s filterStage) WhereFilter(filter string) Filter {
	s.b.whereFilter(filter)
	return s
}

func (s filterStage) Query() string {
	return s.b.sb.String()
}
