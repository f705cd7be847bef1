package query

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBuilder_Fragments(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	end := time.Date(2024, 1, 3, 1, 0, 0, 0, time.FixedZone("UTC+2", 2*60*60))

	tests := []struct {
		name  string
		build func() string
		want  string
	}{
		{
			name:  "select all with trimmed alias",
			build: func() string { return New().SelectAll().FromDigitalTwins("  twins ").Query() },
			want:  "SELECT * from DIGITALTWINS twins ",
		},
		{
			name:  "select top from relationships",
			build: func() string { return New().SelectTop(5).FromRelationships("r").Query() },
			want:  "SELECT top(5) from RELATIONSHIPS r ",
		},
		{
			name:  "select single",
			build: func() string { return New().SelectSingle().FromDigitalTwins("").Query() },
			want:  "SELECT top(1) from DIGITALTWINS ",
		},
		{
			name:  "select count",
			build: func() string { return New().SelectCount().FromDigitalTwins("").Query() },
			want:  "SELECT count() from DIGITALTWINS ",
		},
		{
			name:  "select fields",
			build: func() string { return New().Select("twins", "location").FromDigitalTwins("").Query() },
			want:  "select twins,location from DIGITALTWINS ",
		},
		{
			name: "match with relationships",
			build: func() string {
				return New().Select("twins").FromDigitalTwins("").
					Match([]string{"isPartOf", "locatedIn"}, "twins", "location", "*..6", "", "").Query()
			},
			want: "select twins from DIGITALTWINS match (twins)-[:isPartOf|locatedIn*..6]->(location) ",
		},
		{
			name: "match without relationships",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Match(nil, "a", "b", "", "<-", "-").Query()
			},
			want: "SELECT * from DIGITALTWINS match (a)<-[]-(b) ",
		},
		{
			name: "match expressions",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").MatchExpressions(
					MatchExpression{Entity: "a", Relationships: []string{"r1", "r2"}, Hops: "*..2"},
					MatchExpression{Entity: "b", Relationships: []string{"r3"}},
					MatchExpression{Entity: "c"},
				).Query()
			},
			want: "SELECT * from DIGITALTWINS match (a)-[:r1|r2*..2]-(b)-[:r3]-(c)",
		},
		{
			name: "join related",
			build: func() string {
				return New().Select("t", "s").FromDigitalTwins("s").JoinRelated("t", "s", "isPartOf").Query()
			},
			want: "select t,s from DIGITALTWINS s JOIN t RELATED s.isPartOf ",
		},
		{
			name: "where emitted once",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().Where().IsDefined("name").Query()
			},
			want: "SELECT * from DIGITALTWINS where IS_DEFINED(name) ",
		},
		{
			name: "where filter first then and",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").WhereFilter("a = 1").WhereFilter("").WhereFilter("b = 2").Query()
			},
			want: "SELECT * from DIGITALTWINS where  a = 1 and b = 2",
		},
		{
			name: "connectives and groups",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().
					OpenGroupParenthesis().WithIntProperty("level", 5).CloseGroupParenthesis().
					Or().Not().WithBoolProperty("enabled", false).Query()
			},
			want: "SELECT * from DIGITALTWINS where ( level = 5) OR NOT enabled = false",
		},
		{
			name: "check defined",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().CheckDefined("a", "b").Query()
			},
			want: "SELECT * from DIGITALTWINS where IS_DEFINED(a)  AND IS_DEFINED(b) ",
		},
		{
			name: "string property escaped",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().WithStringProperty("name", "it's").Query()
			},
			want: `SELECT * from DIGITALTWINS where name = 'it\'s' `,
		},
		{
			name: "contains escaped",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().Contains("name", "o'b").Query()
			},
			want: `SELECT * from DIGITALTWINS where contains(name, 'o\'b') `,
		},
		{
			name: "property in list trims values",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().
					WithPropertyIn("$dtId", []string{" a ", "b'"}, 0).Query()
			},
			want: `SELECT * from DIGITALTWINS where ($dtId IN ['a','b\'']) `,
		},
		{
			name: "property in single value is equality",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().
					WithPropertyIn("$dtId", []string{" a "}, 100).Query()
			},
			want: "SELECT * from DIGITALTWINS where ($dtId = ' a ') ",
		},
		{
			name: "property in mixed chunks",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().
					WithPropertyIn("$dtId", []string{"a", "b", "c"}, 2).Query()
			},
			want: "SELECT * from DIGITALTWINS where ($dtId IN ['a','b'] OR $dtId = 'c') ",
		},
		{
			name: "any model with alias and exact",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().
					WithAnyModel([]string{"dtmi:a;1", " dtmi:b;1 "}, "twins", true).Query()
			},
			want: "SELECT * from DIGITALTWINS where (IS_OF_MODEL(twins, 'dtmi:a;1', exact) OR IS_OF_MODEL(twins, 'dtmi:b;1', exact)) ",
		},
		{
			name: "any model plain",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().WithAnyModel([]string{"dtmi:a;1"}, "", false).Query()
			},
			want: "SELECT * from DIGITALTWINS where (IS_OF_MODEL('dtmi:a;1')) ",
		},
		{
			name: "between dates in utc",
			build: func() string {
				return New().SelectAll().FromDigitalTwins("").Where().BetweenDates("t", start, end).Query()
			},
			want: "SELECT * from DIGITALTWINS where t >= '2024-01-02T03:04:05Z' and t <= '2024-01-02T23:00:00Z'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.build()); diff != "" {
				t.Errorf("query mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWithPropertyIn_Chunking(t *testing.T) {
	values := make([]string, 250)
	for i := range values {
		values[i] = "twin-" + strings.Repeat("x", i%3)
	}

	q := New().SelectAll().FromDigitalTwins("").Where().WithPropertyIn("$dtId", values, 100).Query()

	if got := strings.Count(q, "$dtId IN ["); got != 3 {
		t.Fatalf("expected 3 IN groups, got %d in %q", got, q)
	}
	groups := strings.Split(strings.TrimSuffix(strings.TrimPrefix(q, "SELECT * from DIGITALTWINS where ("), ") "), " OR ")
	if len(groups) != 3 {
		t.Fatalf("expected 3 OR-combined groups, got %d", len(groups))
	}
	for i, want := range []int{100, 100, 50} {
		if got := strings.Count(groups[i], "'") / 2; got != want {
			t.Errorf("group %d: expected %d values, got %d", i, want, got)
		}
	}
}
