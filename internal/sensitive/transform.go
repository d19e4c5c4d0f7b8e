package sensitive

import (
	"html"
	"sort"
	"strings"
)

const (
	// MaskRune fills masked spans.
	MaskRune = 'X'
	// DefaultPlaceholder replaces anonymized spans.
	DefaultPlaceholder = "[REDACTED]"
)

// Highlight is the presentation window of one item.
type Highlight struct {
	Item   Item   `json:"item"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Render returns the window with the value wrapped in open and close.
func (h Highlight) Render(open, close string) string {
	var b strings.Builder
	if h.Before != "" {
		b.WriteString(h.Before)
		b.WriteByte(' ')
	}
	b.WriteString(open)
	b.WriteString(h.Item.Value)
	b.WriteString(close)
	if h.After != "" {
		b.WriteByte(' ')
		b.WriteString(h.After)
	}
	return b.String()
}

// Highlights returns one window per item, in item order. Items outside text
// are skipped.
func Highlights(text string, items []Item) []Highlight {
	highlights := make([]Highlight, 0, len(items))
	for _, it := range items {
		if !inBounds(text, it) {
			continue
		}
		from, to := window(text, it.Index, it.End(), ContextRunes)
		highlights = append(highlights, Highlight{
			Item:   it,
			Before: collapseSpace(text[from:it.Index]),
			After:  collapseSpace(text[it.End():to]),
		})
	}
	return highlights
}

// HighlightHTML escapes text and wraps every item span in a <mark> element
// tagged with its type.
func HighlightHTML(text string, items []Item) string {
	if text == "" || len(items) == 0 {
		return html.EscapeString(text)
	}

	sorted := sortedBy(items, func(a, b Item) bool { return a.Index < b.Index })

	var b strings.Builder
	last := 0
	for _, it := range sorted {
		if !inBounds(text, it) || it.Index < last {
			continue
		}
		b.WriteString(html.EscapeString(text[last:it.Index]))
		b.WriteString(`<mark class="sensitive" data-type="`)
		b.WriteString(html.EscapeString(string(it.Type)))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(text[it.Index:it.End()]))
		b.WriteString(`</mark>`)
		last = it.End()
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

// Mask replaces each item span with as many MaskRune as the span has bytes,
// so the result has the same length as text. items must not overlap.
func Mask(text string, items []Item) string {
	if text == "" || len(items) == 0 {
		return text
	}

	masked := []byte(text)
	for _, it := range descending(items) {
		if !inBounds(text, it) {
			continue
		}
		for i := it.Index; i < it.End(); i++ {
			masked[i] = MaskRune
		}
	}
	return string(masked)
}

// Anonymize replaces each item span with placeholder. An empty placeholder
// means DefaultPlaceholder. items must not overlap.
func Anonymize(text string, items []Item, placeholder string) string {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	return replaceSpans(text, items, func(Item) string { return placeholder })
}

// AnonymizeByType replaces each span with a token naming its type, such as
// [EMAIL] or [PHONE_NUMBER].
func AnonymizeByType(text string, items []Item) string {
	return replaceSpans(text, items, func(it Item) string { return TypeToken(it.Type) })
}

// TypeToken returns the placeholder used by AnonymizeByType for t.
func TypeToken(t Type) string {
	token := strings.ToUpper(strings.Join(strings.Fields(string(t)), "_"))
	return "[" + token + "]"
}

func replaceSpans(text string, items []Item, replacement func(Item) string) string {
	if text == "" || len(items) == 0 {
		return text
	}

	// Right to left so earlier offsets stay valid.
	result := text
	for _, it := range descending(items) {
		if !inBounds(result, it) {
			continue
		}
		result = result[:it.Index] + replacement(it) + result[it.End():]
	}
	return result
}

func inBounds(text string, it Item) bool {
	return it.Within(text)
}

func descending(items []Item) []Item {
	return sortedBy(items, func(a, b Item) bool { return a.Index > b.Index })
}

func sortedBy(items []Item, less func(a, b Item) bool) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}
