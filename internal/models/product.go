package models

import (
	"encoding/json"
	"math"
)

// Product is a catalog record as returned by the search backend.
type Product struct {
	ID          string   `json:"productId"`
	Description string   `json:"product_description"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"stars"`
	Reviews     int      `json:"reviews"`
	Quantity    int      `json:"quantity"`
	Category    string   `json:"category_name,omitempty"`
	ImageURL    string   `json:"imgurl,omitempty"`
	ProductURL  string   `json:"producturl,omitempty"`
	Similarity  *float64 `json:"similarity_score,omitempty"`
}

// productWire accepts both the catalog field names and the shorter names the
// chat endpoints use for the same record.
type productWire struct {
	ProductID   string   `json:"productId"`
	ID          string   `json:"id"`
	Description string   `json:"product_description"`
	Name        string   `json:"name"`
	Price       *float64 `json:"price"`
	Stars       *float64 `json:"stars"`
	Rating      *float64 `json:"rating"`
	Reviews     int      `json:"reviews"`
	Quantity    int      `json:"quantity"`
	CategoryNm  string   `json:"category_name"`
	Category    string   `json:"category"`
	ImgURL      string   `json:"imgurl"`
	Image       string   `json:"image"`
	ProductURL  string   `json:"producturl"`
	Similarity  *float64 `json:"similarity_score"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var w productWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*p = Product{
		ID:          firstNonEmpty(w.ProductID, w.ID),
		Description: firstNonEmpty(w.Description, w.Name),
		Reviews:     w.Reviews,
		Quantity:    w.Quantity,
		Category:    firstNonEmpty(w.CategoryNm, w.Category),
		ImageURL:    firstNonEmpty(w.ImgURL, w.Image),
		ProductURL:  w.ProductURL,
		Similarity:  w.Similarity,
	}
	if w.Price != nil {
		p.Price = *w.Price
	}
	switch {
	case w.Stars != nil:
		p.Rating = *w.Stars
	case w.Rating != nil:
		p.Rating = *w.Rating
	}
	return nil
}

// SimilarityPercent returns the similarity score as a rounded percentage, or
// -1 when the record did not come from a similarity search.
func (p Product) SimilarityPercent() int {
	if p.Similarity == nil {
		return -1
	}
	return int(math.Round(*p.Similarity * 100))
}

func (p Product) InStock() bool {
	return p.Quantity > 0
}

// FilterSpec bounds applied client-side to a result list. All bounds are
// inclusive.
type FilterSpec struct {
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	MinRating float64 `json:"min_rating"`
}

const (
	DefaultMinPrice  = 0
	DefaultMaxPrice  = 10000
	DefaultMinRating = 0
)

func DefaultFilterSpec() FilterSpec {
	return FilterSpec{
		MinPrice:  DefaultMinPrice,
		MaxPrice:  DefaultMaxPrice,
		MinRating: DefaultMinRating,
	}
}

func (f FilterSpec) IsDefault() bool {
	return f == DefaultFilterSpec()
}

// SearchFilters are the optional server-side filters of a search request.
type SearchFilters struct {
	Category  string   `json:"category,omitempty"`
	MinPrice  *float64 `json:"min_price,omitempty"`
	MaxPrice  *float64 `json:"max_price,omitempty"`
	MinRating *float64 `json:"min_rating,omitempty"`
	InStock   *bool    `json:"in_stock,omitempty"`
}

func (f *SearchFilters) Empty() bool {
	return f == nil || (f.Category == "" && f.MinPrice == nil && f.MaxPrice == nil && f.MinRating == nil && f.InStock == nil)
}

type SearchRequest struct {
	Query         string         `json:"query"`
	Limit         int            `json:"limit,omitempty"`
	MinSimilarity *float64       `json:"min_similarity,omitempty"`
	Filters       *SearchFilters `json:"filters,omitempty"`
}

// Completion is one autocomplete suggestion for a partial query.
type Completion struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

type SearchResponse struct {
	Query        string    `json:"query"`
	Results      []Product `json:"results"`
	Total        int       `json:"total"`
	LatencyMS    float64   `json:"latency_ms"`
	SearchMethod string    `json:"search_method,omitempty"`
}

// UnmarshalJSON also understands the backend's older response layout, where
// hits are wrapped as {"product": ..., "explanation": ...} and the counters
// are named total_results and search_time_ms.
func (r *SearchResponse) UnmarshalJSON(data []byte) error {
	var w struct {
		Query           string            `json:"query"`
		Results         []json.RawMessage `json:"results"`
		Total           *int              `json:"total"`
		TotalResults    *int              `json:"total_results"`
		LatencyMS       *float64          `json:"latency_ms"`
		SearchTimeMS    *float64          `json:"search_time_ms"`
		ExecutionTimeMS *float64          `json:"execution_time_ms"`
		SearchMethod    string            `json:"search_method"`
		SearchType      string            `json:"search_type"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	results := make([]Product, 0, len(w.Results))
	for _, raw := range w.Results {
		var wrapped struct {
			Product    json.RawMessage `json:"product"`
			Similarity *float64        `json:"similarity_score"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Product) > 0 {
			raw = wrapped.Product
		} else {
			wrapped.Similarity = nil
		}
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Similarity == nil {
			p.Similarity = wrapped.Similarity
		}
		results = append(results, p)
	}

	*r = SearchResponse{
		Query:        w.Query,
		Results:      results,
		Total:        len(results),
		SearchMethod: firstNonEmpty(w.SearchMethod, w.SearchType),
	}
	switch {
	case w.Total != nil:
		r.Total = *w.Total
	case w.TotalResults != nil:
		r.Total = *w.TotalResults
	}
	for _, v := range []*float64{w.LatencyMS, w.SearchTimeMS, w.ExecutionTimeMS} {
		if v != nil {
			r.LatencyMS = *v
			break
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
