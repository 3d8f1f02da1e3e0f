// Package render turns transcript messages, search results and carts into
// chat text. MarkdownV2 targets Telegram; Markdown targets terminal output.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/aurora-bot/internal/catalog"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/theme"
)

type Format int

const (
	MarkdownV2 Format = iota
	Markdown
)

const (
	maxNameLength    = 90
	maxContentLength = 2500
)

var markdownV2Special = []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}

// EscapeMarkdown escapes every character Telegram reserves in MarkdownV2.
func EscapeMarkdown(text string) string {
	escaped := text
	for _, char := range markdownV2Special {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (f Format) esc(s string) string {
	if f == MarkdownV2 {
		return EscapeMarkdown(s)
	}
	return s
}

func (f Format) bold(s string) string {
	if f == MarkdownV2 {
		return "*" + EscapeMarkdown(s) + "*"
	}
	return "**" + s + "**"
}

func (f Format) italic(s string) string {
	return "_" + f.esc(s) + "_"
}

// Message renders an assistant or user message. visible limits the number of
// agent steps drawn while the message is still thinking.
func (f Format) Message(m *models.Message, pal theme.Palette, visible int) string {
	if m == nil {
		return ""
	}
	var b strings.Builder

	if m.Role == models.RoleAssistant && m.Agent != "" {
		b.WriteString(f.italic(fmt.Sprintf("%s %s agent", pal.Assistant, m.Agent)))
		b.WriteString("\n\n")
	}
	b.WriteString(f.esc(Truncate(m.Content, maxContentLength)))

	active := m.Status == models.StatusPending || m.Status == models.StatusThinking
	if trace := f.Trace(m.Execution, pal, visible, active); trace != "" {
		b.WriteString("\n\n")
		b.WriteString(trace)
	}

	if len(m.Products) > 0 {
		b.WriteString("\n\n")
		b.WriteString(f.Products(m.Products, pal, 5))
	}
	return b.String()
}

// Trace renders the agent workflow. While active only the first visible
// steps are drawn.
func (f Format) Trace(exec *models.ExecutionTrace, pal theme.Palette, visible int, active bool) string {
	if exec.Empty() {
		return ""
	}

	steps := exec.AgentSteps
	if active && visible < len(steps) {
		if visible < 0 {
			visible = 0
		}
		steps = steps[:visible]
	}

	var lines []string
	lines = append(lines, f.bold("Agent workflow"))
	for _, s := range steps {
		icon := pal.InProgress
		if s.Status == models.StepCompleted {
			icon = pal.Done
		}
		line := fmt.Sprintf("%s %s", icon, f.bold(s.Agent))
		if s.Action != "" {
			line += f.esc(": " + s.Action)
		}
		if s.DurationMS > 0 {
			line += " " + f.italic(fmt.Sprintf("(%.0fms)", s.DurationMS))
		}
		lines = append(lines, line)
	}
	if active && len(steps) < len(exec.AgentSteps) {
		lines = append(lines, f.esc("…"))
	}

	for _, tc := range exec.ToolCalls {
		line := fmt.Sprintf("%s %s", pal.Bullet, f.esc("🔧 "+tc.Tool))
		if tc.Params != "" {
			line += " " + f.italic(tc.Params)
		}
		lines = append(lines, line)
	}

	if !active && exec.TotalDurationMS > 0 {
		summary := fmt.Sprintf("Total %.0fms", exec.TotalDurationMS)
		if exec.SuccessRate > 0 {
			summary += fmt.Sprintf(", %.0f%% success", exec.SuccessRate*100)
		}
		lines = append(lines, f.italic(summary))
	}
	return strings.Join(lines, "\n")
}

// Products renders up to limit products as a numbered list.
func (f Format) Products(products []models.Product, pal theme.Palette, limit int) string {
	if limit <= 0 || limit > len(products) {
		limit = len(products)
	}
	lines := make([]string, 0, limit+1)
	for i, p := range products[:limit] {
		lines = append(lines, f.esc(fmt.Sprintf("%d. ", i+1))+f.product(p, pal))
	}
	if rest := len(products) - limit; rest > 0 {
		lines = append(lines, f.italic(fmt.Sprintf("…and %d more", rest)))
	}
	return strings.Join(lines, "\n")
}

func (f Format) product(p models.Product, pal theme.Palette) string {
	parts := []string{fmt.Sprintf("$%.2f", p.Price)}
	if p.Rating > 0 {
		rating := fmt.Sprintf("%.1f★", p.Rating)
		if p.Reviews > 0 {
			rating += fmt.Sprintf(" (%d reviews)", p.Reviews)
		}
		parts = append(parts, rating)
	}
	if pct := p.SimilarityPercent(); pct >= 0 {
		parts = append(parts, fmt.Sprintf("%d%% match", pct))
	}
	if !p.InStock() {
		parts = append(parts, "out of stock")
	}

	name := Truncate(strings.TrimSpace(p.Description), maxNameLength)
	if name == "" {
		name = p.ID
	}
	line := f.bold(name) + " " + f.esc(strings.Join(parts, " · "))
	if link := f.link("view", p.ProductURL); link != "" {
		line += " " + link
	}
	if pct := p.SimilarityPercent(); pct >= 90 {
		line = pal.Highlight + " " + line
	}
	return line
}

// link renders an inline link, or nothing when url is not an http(s) URL.
func (f Format) link(label, url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ""
	}
	if f == MarkdownV2 {
		// Inside the URL part only ')' and '\' need escaping.
		url = strings.NewReplacer(`\`, `\\`, ")", `\)`).Replace(url)
		return "[" + EscapeMarkdown(label) + "](" + url + ")"
	}
	return "[" + label + "](" + url + ")"
}

// ProductDetail renders everything known about one product.
func (f Format) ProductDetail(p models.Product, pal theme.Palette) string {
	name := strings.TrimSpace(p.Description)
	if name == "" {
		name = p.ID
	}
	lines := []string{f.bold(name), ""}
	add := func(label, value string) {
		lines = append(lines, fmt.Sprintf("%s %s %s", pal.Bullet, f.bold(label), f.esc(value)))
	}

	add("Price:", fmt.Sprintf("$%.2f", p.Price))
	if p.Rating > 0 {
		rating := fmt.Sprintf("%.1f★", p.Rating)
		if p.Reviews > 0 {
			rating += fmt.Sprintf(" from %d reviews", p.Reviews)
		}
		add("Rating:", rating)
	}
	if p.Category != "" {
		add("Category:", p.Category)
	}
	if p.InStock() {
		add("Availability:", "in stock")
	} else {
		add("Availability:", "out of stock")
	}
	if pct := p.SimilarityPercent(); pct >= 0 {
		add("Match:", fmt.Sprintf("%d%%", pct))
	}
	add("ID:", p.ID)

	var links []string
	if l := f.link("Open product page", p.ProductURL); l != "" {
		links = append(links, l)
	}
	if l := f.link("Photo", p.ImageURL); l != "" {
		links = append(links, l)
	}
	if len(links) > 0 {
		lines = append(lines, "", strings.Join(links, " · "))
	}
	return strings.Join(lines, "\n")
}

// SearchResults renders the filtered view of a result set.
func (f Format) SearchResults(rs *catalog.ResultSet, pal theme.Palette, limit int) string {
	shown := rs.Results()
	total := len(rs.All())

	var b strings.Builder
	b.WriteString(f.bold(fmt.Sprintf("Results for \"%s\"", rs.Query())))
	b.WriteString("\n")
	b.WriteString(f.italic(searchSummary(len(shown), total, rs)))
	b.WriteString("\n\n")

	if len(shown) == 0 {
		if total == 0 {
			b.WriteString(f.esc("No products found. Try a different query."))
		} else {
			b.WriteString(f.esc("No products match the current filter. Use /filter reset to see everything."))
		}
		return b.String()
	}
	b.WriteString(f.Products(shown, pal, limit))
	return b.String()
}

func searchSummary(shown, total int, rs *catalog.ResultSet) string {
	parts := []string{fmt.Sprintf("%d of %d shown", shown, total), catalog.Describe(rs.Filter())}
	if m := rs.Method(); m != "" {
		parts = append(parts, m)
	}
	if ms := rs.Latency().Milliseconds(); ms > 0 {
		parts = append(parts, fmt.Sprintf("%dms", ms))
	}
	return strings.Join(parts, " · ")
}

func (f Format) Cart(items []models.CartItem, pal theme.Palette) string {
	if len(items) == 0 {
		return f.esc("🛒 Your cart is empty.")
	}
	lines := []string{f.bold(fmt.Sprintf("🛒 Cart (%d items)", models.CartCount(items)))}
	for _, it := range items {
		name := Truncate(it.Product.Description, maxNameLength)
		if name == "" {
			name = it.Product.ID
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			pal.Bullet,
			f.esc(name),
			f.esc(fmt.Sprintf("× %d = $%.2f", it.Quantity, it.Product.Price*float64(it.Quantity)))))
	}
	lines = append(lines, "", f.bold(fmt.Sprintf("Total: $%.2f", models.CartTotal(items))))
	return strings.Join(lines, "\n")
}

func (f Format) Health(h *models.HealthStatus, baseURL string) string {
	if !h.Healthy() {
		status := "unknown"
		if h != nil && h.Status != "" {
			status = h.Status
		}
		return f.esc(fmt.Sprintf("⚠️ Backend at %s reports status %q.", baseURL, status))
	}
	s := fmt.Sprintf("✅ Backend at %s is healthy", baseURL)
	if h.Version != "" {
		s += " (v" + h.Version + ")"
	}
	return f.esc(s + ".")
}

// Suggestions renders follow-up prompts as a numbered list.
func (f Format) Suggestions(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	lines := []string{f.italic("Try next:")}
	for i, s := range suggestions {
		lines = append(lines, f.esc(fmt.Sprintf("%d. %s", i+1, s)))
	}
	return strings.Join(lines, "\n")
}

// Truncate cuts s to at most n runes, ending with an ellipsis when shortened.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string([]rune(s)[:n-1]) + "…"
}
