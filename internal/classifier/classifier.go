package classifier

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/xaenox/aurora-bot/internal/models"
)

// Query is a free-text request split into the words to search for and the
// price/rating bounds mentioned alongside them.
type Query struct {
	Text    string
	Filters models.SearchFilters
}

// FilterSpec overlays the bounds found in the query on base.
func (q Query) FilterSpec(base models.FilterSpec) models.FilterSpec {
	spec := base
	if q.Filters.MinPrice != nil {
		spec.MinPrice = *q.Filters.MinPrice
	}
	if q.Filters.MaxPrice != nil {
		spec.MaxPrice = *q.Filters.MaxPrice
	}
	if q.Filters.MinRating != nil {
		spec.MinRating = *q.Filters.MinRating
	}
	return spec
}

type Classifier interface {
	Classify(ctx context.Context, text string) Query
}

type SimpleClassifier struct {
	maxRating float64
}

func NewSimpleClassifier() *SimpleClassifier {
	return &SimpleClassifier{maxRating: 5}
}

const number = `(\d+(?:\.\d+)?)`

var (
	ratingPattern  = regexp.MustCompile(`(?i)(?:\b(?:at least|minimum|min|rated)\s+)?\b(\d(?:\.\d)?)\s*\+?\s*(?:stars?|★)(?:\s+(?:and up|or more|or better|or higher))?`)
	betweenPattern = regexp.MustCompile(`(?i)\bbetween\s+\$?` + number + `\s+(?:and|to|-)\s+\$?` + number + `(?:\s*(?:dollars|usd|bucks))?`)
	maxPattern     = regexp.MustCompile(`(?i)\b(?:under|below|less than|cheaper than|up to|max(?:imum)?)\s+\$?` + number + `(?:\s*(?:dollars|usd|bucks))?`)
	minPattern     = regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?)\s+\$?` + number + `(?:\s*(?:dollars|usd|bucks))?`)

	trailingWords = map[string]struct{}{"with": {}, "and": {}, "for": {}, "that": {}, "are": {}, "is": {}, "priced": {}, "costing": {}}
)

// Classify extracts bounds with a fixed set of phrase rules. Rating phrases
// are matched first so "at least 4 stars" is never read as a price.
func (c *SimpleClassifier) Classify(_ context.Context, text string) Query {
	rest := text
	var q Query

	if m := ratingPattern.FindStringSubmatchIndex(rest); m != nil {
		if v, ok := parseBound(rest[m[2]:m[3]]); ok && v <= c.maxRating {
			q.Filters.MinRating = &v
			rest = rest[:m[0]] + " " + rest[m[1]:]
		}
	}

	if m := betweenPattern.FindStringSubmatchIndex(rest); m != nil {
		lo, okLo := parseBound(rest[m[2]:m[3]])
		hi, okHi := parseBound(rest[m[4]:m[5]])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			q.Filters.MinPrice = &lo
			q.Filters.MaxPrice = &hi
			rest = rest[:m[0]] + " " + rest[m[1]:]
		}
	}

	if q.Filters.MaxPrice == nil {
		if m := maxPattern.FindStringSubmatchIndex(rest); m != nil {
			if v, ok := parseBound(rest[m[2]:m[3]]); ok {
				q.Filters.MaxPrice = &v
				rest = rest[:m[0]] + " " + rest[m[1]:]
			}
		}
	}

	if q.Filters.MinPrice == nil {
		if m := minPattern.FindStringSubmatchIndex(rest); m != nil {
			if v, ok := parseBound(rest[m[2]:m[3]]); ok {
				q.Filters.MinPrice = &v
				rest = rest[:m[0]] + " " + rest[m[1]:]
			}
		}
	}

	q.Text = tidy(rest)
	if q.Text == "" {
		q.Text = strings.TrimSpace(text)
	}
	return q
}

func parseBound(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// tidy collapses whitespace and drops connectives left dangling at the end
// once a bound phrase has been cut out.
func tidy(s string) string {
	words := strings.Fields(strings.Trim(s, " ,.;!?"))
	for len(words) > 0 {
		last := strings.ToLower(strings.Trim(words[len(words)-1], ",.;!?"))
		if _, ok := trailingWords[last]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Trim(strings.Join(words, " "), " ,.;!?")
}
