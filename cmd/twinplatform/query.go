package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/promotion0824/TwinPlatform-sub045/twin/query"
)

// QueryFlags select the filters of the -query mode.
type QueryFlags struct {
	Enabled    bool
	TwinIDs    string
	ModelIDs   string
	ExactModel bool
	LocationID string
	Search     string
	Filter     string
	Count      bool
}

// printTwinsQuery writes the twins query described by f to w.
func printTwinsQuery(w io.Writer, f QueryFlags) error {
	var base query.Where
	if f.Count {
		base = query.New().SelectCount().FromDigitalTwins("")
	} else {
		base = query.New().SelectAll().FromDigitalTwins("")
	}

	q, err := query.BuildTwinsQuery(base, query.TwinsQueryOptions{
		TwinIDs:         splitList(f.TwinIDs),
		ModelIDs:        splitList(f.ModelIDs),
		ModelExactMatch: f.ExactModel,
		LocationID:      f.LocationID,
		SearchString:    f.Search,
		QueryFilter:     f.Filter,
		IsCountQuery:    f.Count,
	})
	if err != nil {
		return fmt.Errorf("build twins query: %w", err)
	}
	_, err = fmt.Fprintln(w, q.Query())
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
