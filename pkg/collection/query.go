package collection

import "tinydb/pkg/doc"

// conjuncts flattens a top-level AND into its children; any other
// filter (including a single comparison) is treated as the sole
// conjunct of an implicit one-term conjunction.
func conjuncts(f Filter) []Filter {
	if f.Op == OpAnd {
		return f.Children
	}
	return []Filter{f}
}

// candidate pairs an indexable conjunct with the index that covers it.
type candidate struct {
	conjunct Filter
	index    *indexMeta
}

// selectivityRank orders op kinds the way spec.md's "eq beats range"
// tie-break does: lower is more selective and wins.
func selectivityRank(op Op) int {
	if op == OpEq {
		return 0
	}
	return 1
}

// choosePlan implements spec.md §4.6's query planning rule: among the
// filter's top-level conjuncts that take the indexable `path op value`
// form and are covered by some index on this collection, pick the best
// by (lowest index priority, then eq-before-range, then
// lexicographically-smallest field path — the deterministic tie-break
// SPEC_FULL.md's Open Question resolution calls for). Returns ok=false
// if no conjunct is indexable, meaning the caller should fall back to a
// full heap scan.
func choosePlan(f Filter, indexes []indexMeta) (chosen candidate, ok bool) {
	for _, c := range conjuncts(f) {
		if !c.Op.indexable() {
			continue
		}
		for i := range indexes {
			im := &indexes[i]
			if im.Path != c.Path {
				continue
			}
			if !ok || better(c, im, chosen.conjunct, chosen.index) {
				chosen = candidate{conjunct: c, index: im}
				ok = true
			}
		}
	}
	return chosen, ok
}

func better(c Filter, im *indexMeta, prevC Filter, prevIm *indexMeta) bool {
	if im.Priority != prevIm.Priority {
		return im.Priority < prevIm.Priority
	}
	if r, pr := selectivityRank(c.Op), selectivityRank(prevC.Op); r != pr {
		return r < pr
	}
	return im.Path < prevIm.Path
}

// remainingFilter returns the conjuncts left to apply as a post-filter
// after the chosen index probe has narrowed the candidate set.
func remainingFilter(f Filter, chosen Filter) *Filter {
	all := conjuncts(f)
	var rest []Filter
	skipped := false
	for _, c := range all {
		if !skipped && sameConjunct(c, chosen) {
			skipped = true
			continue
		}
		rest = append(rest, c)
	}
	if len(rest) == 0 {
		return nil
	}
	out := And(rest...)
	return &out
}

func sameConjunct(a, b Filter) bool {
	return a.Op == b.Op && a.Path == b.Path && doc.Compare(a.Value, b.Value) == 0
}
