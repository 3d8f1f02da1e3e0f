// Package catalog holds the client-side view over search results.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/aurora-bot/internal/models"
)

// Matches reports whether p satisfies every bound of spec. Bounds are
// inclusive.
func Matches(p models.Product, spec models.FilterSpec) bool {
	return p.Price >= spec.MinPrice &&
		p.Price <= spec.MaxPrice &&
		p.Rating >= spec.MinRating
}

// Apply returns the products that satisfy spec, in their original order. The
// input slice is never modified and the result is never nil.
func Apply(products []models.Product, spec models.FilterSpec) []models.Product {
	out := make([]models.Product, 0, len(products))
	if spec.MinPrice > spec.MaxPrice {
		return out
	}
	for _, p := range products {
		if Matches(p, spec) {
			out = append(out, p)
		}
	}
	return out
}

// ParseFilterArgs parses "<min> <max> [rating]". A leading '$' on prices is
// accepted.
func ParseFilterArgs(args []string) (models.FilterSpec, error) {
	spec := models.DefaultFilterSpec()
	if len(args) < 2 || len(args) > 3 {
		return spec, fmt.Errorf("expected <min> <max> [rating], got %d arguments", len(args))
	}

	parse := func(name, raw string) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(raw), "$"), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid %s %q", name, raw)
		}
		if v < 0 {
			return 0, fmt.Errorf("%s must not be negative", name)
		}
		return v, nil
	}

	var err error
	if spec.MinPrice, err = parse("min price", args[0]); err != nil {
		return spec, err
	}
	if spec.MaxPrice, err = parse("max price", args[1]); err != nil {
		return spec, err
	}
	if len(args) == 3 {
		if spec.MinRating, err = parse("rating", args[2]); err != nil {
			return spec, err
		}
		if spec.MinRating > 5 {
			return spec, fmt.Errorf("rating must be between 0 and 5")
		}
	}
	return spec, nil
}

// Describe renders spec for humans, e.g. "$0–$10000, 4★+".
func Describe(spec models.FilterSpec) string {
	s := fmt.Sprintf("$%s–$%s", trimFloat(spec.MinPrice), trimFloat(spec.MaxPrice))
	if spec.MinRating > 0 {
		s += fmt.Sprintf(", %s★+", trimFloat(spec.MinRating))
	} else {
		s += ", any rating"
	}
	return s
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ErrStale is returned by Replace for a search that a newer one superseded.
var ErrStale = errors.New("catalog: stale search")

// Page is one search response as the result set stores it.
type Page struct {
	Query    string
	Products []models.Product
	Method   string
	Latency  time.Duration
	// Filter, when set, replaces the active bounds together with the results.
	Filter *models.FilterSpec
}

// PageOf builds the page of a search response. The backend's own latency is
// preferred; elapsed is what the caller measured around the request.
func PageOf(query string, resp *models.SearchResponse, elapsed time.Duration) Page {
	page := Page{Query: query, Latency: elapsed}
	if resp == nil {
		return page
	}
	page.Products = resp.Results
	page.Method = resp.SearchMethod
	if resp.LatencyMS > 0 {
		page.Latency = time.Duration(resp.LatencyMS * float64(time.Millisecond))
	}
	return page
}

// ResultSet keeps the last full result list next to the active filter and
// derives the displayed list from both. Searches are numbered by Begin and
// only the latest one may replace the results.
type ResultSet struct {
	mu      sync.RWMutex
	seq     uint64
	query   string
	all     []models.Product
	spec    models.FilterSpec
	shown   []models.Product
	method  string
	latency time.Duration
}

func NewResultSet(spec models.FilterSpec) *ResultSet {
	return &ResultSet{spec: spec, shown: []models.Product{}}
}

// Begin reserves the id of a new search. Pages of earlier searches are
// rejected from then on.
func (r *ResultSet) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// Current reports whether id is the latest search.
func (r *ResultSet) Current(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id == r.seq
}

// Replace swaps in the page of search id and returns the filtered view. A
// page of a superseded search leaves the set untouched and returns ErrStale.
func (r *ResultSet) Replace(id uint64, page Page) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != r.seq {
		return nil, ErrStale
	}
	r.query = page.Query
	r.method = page.Method
	r.latency = page.Latency
	if page.Filter != nil {
		r.spec = *page.Filter
	}
	r.all = append([]models.Product(nil), page.Products...)
	r.shown = Apply(r.all, r.spec)
	return append([]models.Product(nil), r.shown...), nil
}

// SetFilter changes the active bounds and returns the re-filtered view without
// refetching.
func (r *ResultSet) SetFilter(spec models.FilterSpec) []models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.spec = spec
	r.shown = Apply(r.all, r.spec)
	return append([]models.Product(nil), r.shown...)
}

func (r *ResultSet) Filter() models.FilterSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spec
}

func (r *ResultSet) Query() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.query
}

func (r *ResultSet) Method() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.method
}

func (r *ResultSet) Latency() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latency
}

func (r *ResultSet) Results() []models.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Product(nil), r.shown...)
}

func (r *ResultSet) All() []models.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Product(nil), r.all...)
}

// Find looks a product up in the unfiltered list.
func (r *ResultSet) Find(productID string) (models.Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.all {
		if p.ID == productID {
			return p, true
		}
	}
	return models.Product{}, false
}
