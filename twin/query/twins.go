package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

const (
	twinsAlias    = "twins"
	locationAlias = "location"
	locationHops  = "*..6"
)

var (
	// DefaultLocationRelationships are traversed when resolving twins under a location.
	DefaultLocationRelationships = []string{"isPartOf", "locatedIn", "hostedBy", "isCapabilityOf"}

	// SpaceModels are the models a location twin must be of.
	SpaceModels = []string{"dtmi:com:willowinc:Space;1", "dtmi:com:willowinc:Collection;1"}

	searchPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]*$`)
)

// TwinsQueryOptions are the optional filters of BuildTwinsQuery. Zero values
// disable a filter; the date range applies only when both bounds are set.
type TwinsQueryOptions struct {
	TwinIDs                 []string
	ModelIDs                []string
	LocationID              string
	RelationshipsToTraverse []string
	SearchString            string
	ModelExactMatch         bool
	StartTime               *time.Time
	EndTime                 *time.Time
	QueryFilter             string
	IsCountQuery            bool
}

// BuildTwinsQuery appends the twin filters described by opts to q.
//
// When a location is given and the query is not a count, q is replaced by a
// fresh "select twins from DIGITALTWINS" query, since the match pattern has
// to project the twins alias. q may be nil in that case only.
//
// Every filter step is preceded by AND when an earlier step already emitted
// a predicate.
func BuildTwinsQuery(q Where, opts TwinsQueryOptions) (Builder, error) {
	search := strings.TrimSpace(opts.SearchString)
	locationID := strings.TrimSpace(opts.LocationID)
	queryFilter := strings.TrimSpace(opts.QueryFilter)
	hasLocation := locationID != ""
	hasDates := opts.StartTime != nil && opts.EndTime != nil

	if search != "" && !searchPattern.MatchString(search) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: search string contains unsupported character(s), supported string is alphanumeric with space or -",
				errors.ErrInvalidArgument),
			"QueryBuilder", "BuildTwinsQuery", "validate search string")
	}
	if hasDates && opts.StartTime.After(*opts.EndTime) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: start time is greater than end time", errors.ErrInvalidData),
			"QueryBuilder", "BuildTwinsQuery", "validate date range")
	}

	if hasLocation && !opts.IsCountQuery {
		q = New().Select(twinsAlias).FromDigitalTwins("")
	}
	st, ok := q.(stage)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: query must be created with query.New", errors.ErrInvalidArgument),
			"QueryBuilder", "BuildTwinsQuery", "validate query")
	}

	f := filterStage{b: st.core()}
	includeAnd := false

	if hasLocation {
		relationships := opts.RelationshipsToTraverse
		if len(relationships) == 0 {
			relationships = DefaultLocationRelationships
		}
		q.Match(relationships, twinsAlias, locationAlias, locationHops, "-", "->")

		f.Where().WithStringProperty(locationAlias+"."+twin.FieldTwinID, locationID).And()
		if len(opts.ModelIDs) > 0 {
			f.Where().WithAnyModel(opts.ModelIDs, twinsAlias, opts.ModelExactMatch).And()
		}
		f.Where().WithAnyModel(SpaceModels, locationAlias, opts.ModelExactMatch)
		includeAnd = true
	}

	if len(opts.TwinIDs) > 0 {
		if includeAnd {
			f.And()
		}
		f.Where().WithPropertyIn(twin.FieldTwinID, opts.TwinIDs, DefaultMaxItemsPerQuery)
		includeAnd = true
	}

	if len(opts.ModelIDs) > 0 {
		if includeAnd {
			f.And()
		}
		alias := ""
		if hasLocation {
			alias = twinsAlias
		}
		f.Where().WithAnyModel(opts.ModelIDs, alias, opts.ModelExactMatch)
		includeAnd = true
	}

	if search != "" {
		if includeAnd {
			f.And()
		}
		dtID, name := twin.FieldTwinID, twin.FieldName
		if hasLocation {
			dtID, name = twinsAlias+"."+dtID, twinsAlias+"."+name
		}
		writeSearch(f, search, dtID, name)
		includeAnd = true
	}

	if hasDates {
		field := twin.FieldLastUpdateTime
		if hasLocation {
			field = locationAlias + "." + field
		}
		if includeAnd {
			f.And()
		} else {
			f.Where()
		}
		f.BetweenDates(field, *opts.StartTime, *opts.EndTime)
	}

	f.WhereFilter(queryFilter)

	return f, nil
}

// writeSearch emits the case-variant contains group. The store's contains is
// case sensitive, so the text is tried as-is, title cased, lower and upper.
func writeSearch(f Filter, search, idField, nameField string) {
	variants := []string{search, titleCase(search), strings.ToLower(search), strings.ToUpper(search)}

	f = f.Where().OpenGroupParenthesis()
	for i, v := range variants {
		if i > 0 {
			f = f.Or()
		}
		f = f.Contains(idField, v).Or().Contains(nameField, v)
	}
	f.CloseGroupParenthesis()
}

// titleCase upper-cases the first letter of every word and lower-cases the
// rest. Words are separated by anything that is not a letter or digit. Words
// that are entirely upper case are left alone.
func titleCase(s string) string {
	runes := []rune(s)
	for start := 0; start < len(runes); {
		if !isWordRune(runes[start]) {
			start++
			continue
		}
		end := start
		for end < len(runes) && isWordRune(runes[end]) {
			end++
		}
		word := runes[start:end]
		if !allUpper(word) {
			first := true
			for i, r := range word {
				if !unicode.IsLetter(r) {
					continue
				}
				if first {
					word[i] = unicode.ToUpper(r)
					first = false
				} else {
					word[i] = unicode.ToLower(r)
				}
			}
		}
		start = end
	}
	return string(runes)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func allUpper(word []rune) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
