package sensitive

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContextRunes is the number of runes kept on each side of a match in
// Item.Context.
const ContextRunes = 30

var whitespaceRun = regexp.MustCompile(`\s+`)

// Match runs every pattern of bank over text and returns the raw candidates.
// Overlaps between different patterns are left for Resolve.
func Match(text string, bank Bank) []Item {
	items, _ := MatchContext(context.Background(), text, bank)
	return items
}

// MatchContext is Match with cancellation checked between patterns. On
// cancellation it returns the candidates found so far and ctx.Err().
func MatchContext(ctx context.Context, text string, bank Bank) ([]Item, error) {
	candidates := make([]Item, 0)
	if text == "" {
		return candidates, nil
	}

	for _, p := range bank {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		if p.Expr == nil {
			continue
		}

		// FindAllStringIndex iterates from a fresh state on every call and
		// steps past empty matches on its own.
		for _, loc := range p.Expr.FindAllStringIndex(text, -1) {
			start, end := trimSpan(text, loc[0], loc[1])
			if end <= start {
				continue
			}
			candidates = append(candidates, Item{
				Type:    p.Type,
				Index:   start,
				Length:  end - start,
				Value:   text[start:end],
				Context: contextAround(text, start, end),
			})
		}
	}

	return candidates, nil
}

// trimSpan shrinks [start, end) so it neither starts nor ends with
// whitespace.
func trimSpan(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

// window returns the offsets of up to n runes before start and after end.
func window(text string, start, end, n int) (int, int) {
	from := start
	for i := 0; i < n && from > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:from])
		from -= size
	}
	to := end
	for i := 0; i < n && to < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	return from, to
}

func contextAround(text string, start, end int) string {
	from, to := window(text, start, end, ContextRunes)
	return collapseSpace(text[from:to])
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Strip returns copies of items without Value and Context, leaving only
// what locates them.
func Strip(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{Type: it.Type, Index: it.Index, Length: it.Length}
	}
	return out
}

// Restore fills Value and Context of stripped items from the text they
// were found in. Items whose span is not inside text are dropped.
func Restore(text string, items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !it.Within(text) {
			continue
		}
		it.Value = text[it.Index:it.End()]
		it.Context = contextAround(text, it.Index, it.End())
		out = append(out, it)
	}
	return out
}
