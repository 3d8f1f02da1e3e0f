package classifier

import "strings"

// Agent labels shown next to an assistant answer.
const (
	AgentOrchestrator   = "orchestrator"
	AgentPricing        = "pricing"
	AgentRecommendation = "recommendation"
	AgentSearch         = "search"
)

var (
	pricingWords        = []string{"cheap", "price", "deal", "cost", "value"}
	recommendationWords = []string{"recommend", "suggest", "best", "top"}
)

// AgentFor guesses which specialist answered when the backend did not report
// an execution trace.
func AgentFor(query string) string {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, pricingWords):
		return AgentPricing
	case containsAny(q, recommendationWords):
		return AgentRecommendation
	default:
		return AgentSearch
	}
}

// categoryTerms are catalog categories the backend can browse directly,
// without embedding the query.
var categoryTerms = []string{
	"security cameras",
	"vacuum cleaners",
	"gaming consoles",
	"shaving grooming",
	"kids watches",
	"kids play tractors",
}

// Category reports whether query names a directly browsable category.
func Category(query string) bool {
	return containsAny(strings.ToLower(query), categoryTerms)
}

// DefaultSuggestions are offered when nothing better is known.
var DefaultSuggestions = []string{"🎧 Wireless earbuds", "💻 Laptops", "📱 Smartphones", "🎮 Gaming gear"}

// Suggestions builds follow-up prompts for an answer that came back without
// any.
func Suggestions(query string, hasProducts bool) []string {
	if hasProducts {
		return []string{"Show similar items", "Different price range", "Other brands"}
	}

	q := strings.ToLower(query)
	switch {
	case containsAny(q, []string{"headphone", "audio", "earbud"}):
		return []string{"Show wireless options", "What about noise cancelling?", "Under $100"}
	case containsAny(q, []string{"laptop", "computer"}):
		return []string{"Show gaming laptops", "Best for work", "Under $1000"}
	case strings.Contains(q, "phone"):
		return []string{"Show latest models", "Best camera phones", "Budget smartphones"}
	}
	return append([]string(nil), DefaultSuggestions...)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
