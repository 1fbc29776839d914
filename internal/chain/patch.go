package chain

import (
	"sort"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/internal/validator"
)

// patchPriority lists the validators whose patches are applied, highest
// priority first. Ethics and language verdicts never edit text.
var patchPriority = []string{validator.Identity, validator.Citation, validator.Confidence}

func priorityOf(name string) (int, bool) {
	for i, n := range patchPriority {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

type PatchResult struct {
	Text string
	// Applied and Discarded hold indices into the verdict slice.
	Applied   []int
	Discarded []int
}

type placed struct {
	edit     models.Edit
	priority int
	seq      int
}

// ApplyPatches applies the edits carried by PATCHED verdicts to candidate.
// It is a pure function of its arguments.
//
// Verdicts are taken in priority order and each one is applied whole or not
// at all: if any of its edits overlaps an edit already accepted, the verdict
// is discarded. Replacements overlap when their ranges intersect; an
// insertion conflicts only when it falls strictly inside a replacement.
func ApplyPatches(candidate string, verdicts []models.Verdict) PatchResult {
	type ranked struct {
		idx      int
		priority int
	}
	var order []ranked
	for i, v := range verdicts {
		if v.Status != models.StatusPatched || v.Patch.Empty() {
			continue
		}
		if p, ok := priorityOf(v.Validator); ok {
			order = append(order, ranked{idx: i, priority: p})
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].priority < order[b].priority })

	res := PatchResult{}
	var accepted []placed
	seq := 0
	for _, r := range order {
		edits := verdicts[r.idx].Patch.Edits
		ok := true
		for _, e := range edits {
			if !inBounds(e, len(candidate)) || conflictsWith(e, accepted) || conflictsWithin(e, edits) {
				ok = false
				break
			}
		}
		if !ok {
			res.Discarded = append(res.Discarded, r.idx)
			continue
		}
		for _, e := range edits {
			accepted = append(accepted, placed{edit: e, priority: r.priority, seq: seq})
			seq++
		}
		res.Applied = append(res.Applied, r.idx)
	}

	sort.SliceStable(accepted, func(a, b int) bool {
		x, y := accepted[a], accepted[b]
		if x.edit.Start != y.edit.Start {
			return x.edit.Start < y.edit.Start
		}
		if x.edit.IsInsertion() != y.edit.IsInsertion() {
			return x.edit.IsInsertion()
		}
		return x.seq < y.seq
	})

	out := make([]byte, 0, len(candidate)+64)
	last := 0
	for _, p := range accepted {
		out = append(out, candidate[last:p.edit.Start]...)
		out = append(out, p.edit.Text...)
		last = p.edit.End
	}
	out = append(out, candidate[last:]...)
	res.Text = string(out)
	sort.Ints(res.Applied)
	sort.Ints(res.Discarded)
	return res
}

func inBounds(e models.Edit, n int) bool {
	return e.Start >= 0 && e.Start <= e.End && e.End <= n
}

func overlaps(a, b models.Edit) bool {
	switch {
	case a.IsInsertion() && b.IsInsertion():
		return false
	case a.IsInsertion():
		return b.Start < a.Start && a.Start < b.End
	case b.IsInsertion():
		return a.Start < b.Start && b.Start < a.End
	default:
		return a.Start < b.End && b.Start < a.End
	}
}

func conflictsWith(e models.Edit, accepted []placed) bool {
	for _, p := range accepted {
		if overlaps(e, p.edit) {
			return true
		}
	}
	return false
}

// conflictsWithin rejects a verdict whose own edits overlap each other.
func conflictsWithin(e models.Edit, edits []models.Edit) bool {
	seen := 0
	for _, o := range edits {
		if o == e {
			seen++
			if seen > 1 {
				return true
			}
			continue
		}
		if overlaps(e, o) {
			return true
		}
	}
	return false
}
