package repositories

import (
	"cmp"
	"slices"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/models"
)

// unfoundedDerived returns the refs of rule-derived rows that cannot be
// reached from base rows through complete supports, sorted.
//
// The reachable set is a least fixpoint: it starts empty and a derived row
// joins once one of its supports has every path edge either a base row or a
// row already in the set. Rows that only support each other in a cycle
// never join. A support with no path edges justifies nothing.
func unfoundedDerived(derived []*models.EdgeRecord, isBase func(models.EdgeRef) bool) []models.EdgeRef {
	founded := make(map[models.EdgeRef]bool, len(derived))
	pending := slices.Clone(derived)

	for len(pending) > 0 {
		rest := pending[:0]
		for _, d := range pending {
			if wellSupported(d.Support, founded, isBase) {
				founded[d.Ref()] = true
			} else {
				rest = append(rest, d)
			}
		}
		if len(rest) == len(pending) {
			break
		}
		pending = rest
	}

	stale := make([]models.EdgeRef, 0, len(pending))
	for _, d := range pending {
		stale = append(stale, d.Ref())
	}
	slices.SortFunc(stale, compareRefs)
	return stale
}

func wellSupported(supports []models.Support, founded map[models.EdgeRef]bool, isBase func(models.EdgeRef) bool) bool {
	for _, sup := range supports {
		if len(sup.PathEdges) == 0 {
			continue
		}
		if !slices.ContainsFunc(sup.PathEdges, func(ref models.EdgeRef) bool {
			return !founded[ref] && !isBase(ref)
		}) {
			return true
		}
	}
	return false
}

func compareRefs(a, b models.EdgeRef) int {
	return cmp.Or(cmp.Compare(a.Src, b.Src), cmp.Compare(a.Predicate, b.Predicate), cmp.Compare(a.Dst, b.Dst))
}

// refColumns splits refs into parallel src, predicate and dst arrays for
// unnest() in SQL.
func refColumns(refs []models.EdgeRef) (srcs, preds, dsts []string) {
	srcs = make([]string, 0, len(refs))
	preds = make([]string, 0, len(refs))
	dsts = make([]string, 0, len(refs))
	for _, r := range refs {
		srcs = append(srcs, r.Src)
		preds = append(preds, r.Predicate)
		dsts = append(dsts, r.Dst)
	}
	return srcs, preds, dsts
}
