package sensitive

import (
	"context"
	"sort"
)

// Resolve turns raw candidates into a sorted list of non-overlapping items.
//
// Candidates are visited by ascending Index (stable, so discovery order
// breaks ties). A candidate that overlaps accepted items replaces them only
// if it beats every one of them: longer span first, then higher Priority.
// On a full tie the item accepted first stays.
func Resolve(candidates []Item) []Item {
	return ResolveWith(candidates, Priority)
}

// ResolveWith is Resolve with a caller-supplied priority ranking.
func ResolveWith(candidates []Item, rank func(Type) int) []Item {
	sorted := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		if c.valid() {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	accepted := make([]Item, 0, len(sorted))
	for _, candidate := range sorted {
		var overlapping []int
		for i, a := range accepted {
			if candidate.Overlaps(a) {
				overlapping = append(overlapping, i)
			}
		}

		if len(overlapping) == 0 {
			accepted = append(accepted, candidate)
			continue
		}

		wins := true
		for _, i := range overlapping {
			if !beats(candidate, accepted[i], rank) {
				wins = false
				break
			}
		}
		if !wins {
			continue
		}

		accepted = removeAt(accepted, overlapping)
		accepted = append(accepted, candidate)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Index < accepted[j].Index
	})
	return accepted
}

// beats reports whether challenger should replace incumbent.
func beats(challenger, incumbent Item, rank func(Type) int) bool {
	if challenger.Length != incumbent.Length {
		return challenger.Length > incumbent.Length
	}
	return rank(challenger.Type) > rank(incumbent.Type)
}

// removeAt drops the items at the given ascending indices.
func removeAt(items []Item, indices []int) []Item {
	kept := items[:0]
	next := 0
	for i, it := range items {
		if next < len(indices) && indices[next] == i {
			next++
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// Detect scans text with the default bank and returns the resolved items.
func Detect(text string) []Item {
	return Resolve(Match(text, defaultBank))
}

// Detector scans with a fixed bank. The zero value uses the default bank.
type Detector struct {
	bank Bank
	rank map[Type]int
}

// NewDetector returns a Detector over bank. Pattern priorities of the bank
// override the built-in ranking for their types.
func NewDetector(bank Bank) *Detector {
	rank := make(map[Type]int, len(priorities)+len(bank))
	for t, p := range priorities {
		rank[t] = p
	}
	for _, p := range bank {
		rank[p.Type] = p.Priority
	}
	return &Detector{bank: bank, rank: rank}
}

// Bank returns the patterns used by d.
func (d *Detector) Bank() Bank {
	if d == nil || d.bank == nil {
		return DefaultBank()
	}
	return d.bank
}

// Priority returns the rank d uses for t.
func (d *Detector) Priority(t Type) int {
	if d == nil || d.rank == nil {
		return Priority(t)
	}
	return d.rank[t]
}

// Detect matches and resolves text.
func (d *Detector) Detect(text string) []Item {
	items, _ := d.DetectContext(context.Background(), text)
	return items
}

// DetectContext is Detect bounded by ctx. A cancelled scan returns no items.
func (d *Detector) DetectContext(ctx context.Context, text string) ([]Item, error) {
	candidates, err := MatchContext(ctx, text, d.Bank())
	if err != nil {
		return []Item{}, err
	}
	return ResolveWith(candidates, d.Priority), nil
}
