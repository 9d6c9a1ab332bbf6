package collection

import "tinydb/pkg/doc"

// Op identifies a filter node's comparison or boolean combinator.
type Op byte

const (
	OpEq Op = iota
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpAnd
	OpOr
	OpNot
)

// indexableOps are the comparisons the query planner can satisfy with a
// single index probe (spec.md §4.6's "op ∈ {eq, lt, le, gt, ge, in}").
func (o Op) indexable() bool {
	switch o {
	case OpEq, OpLt, OpLe, OpGt, OpGe, OpIn:
		return true
	default:
		return false
	}
}

// Filter is a node in the abstract predicate tree spec.md §4.6 describes:
// field-path comparisons combined with and/or/not. Comparison nodes
// (Eq/Lt/Le/Gt/Ge) carry Path and Value; In carries Path and Values;
// And/Or carry Children; Not carries a single child in Children[0].
type Filter struct {
	Op       Op
	Path     string
	Value    doc.Value
	Values   []doc.Value
	Children []Filter
}

func Eq(path string, v doc.Value) Filter  { return Filter{Op: OpEq, Path: path, Value: v} }
func Lt(path string, v doc.Value) Filter  { return Filter{Op: OpLt, Path: path, Value: v} }
func Le(path string, v doc.Value) Filter  { return Filter{Op: OpLe, Path: path, Value: v} }
func Gt(path string, v doc.Value) Filter  { return Filter{Op: OpGt, Path: path, Value: v} }
func Ge(path string, v doc.Value) Filter  { return Filter{Op: OpGe, Path: path, Value: v} }
func In(path string, vs []doc.Value) Filter {
	return Filter{Op: OpIn, Path: path, Values: vs}
}
func And(children ...Filter) Filter { return Filter{Op: OpAnd, Children: children} }
func Or(children ...Filter) Filter  { return Filter{Op: OpOr, Children: children} }
func Not(f Filter) Filter           { return Filter{Op: OpNot, Children: []Filter{f}} }

// Matches evaluates the predicate tree against a document. A comparison
// against a field the document doesn't have never matches (spec.md is
// silent on this; treating an absent field as non-matching, rather than
// erroring, keeps partial documents usable, matching a schemaless
// store's spirit).
func (f Filter) Matches(d *doc.Document) bool {
	switch f.Op {
	case OpAnd:
		for _, c := range f.Children {
			if !c.Matches(d) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Children {
			if c.Matches(d) {
				return true
			}
		}
		return len(f.Children) == 0
	case OpNot:
		return !f.Children[0].Matches(d)
	default:
		v, ok := d.Get(f.Path)
		if !ok {
			return false
		}
		return f.compare(v)
	}
}

func (f Filter) compare(v doc.Value) bool {
	switch f.Op {
	case OpEq:
		return doc.Compare(v, f.Value) == 0
	case OpLt:
		return doc.Compare(v, f.Value) < 0
	case OpLe:
		return doc.Compare(v, f.Value) <= 0
	case OpGt:
		return doc.Compare(v, f.Value) > 0
	case OpGe:
		return doc.Compare(v, f.Value) >= 0
	case OpIn:
		for _, want := range f.Values {
			if doc.Compare(v, want) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}
