package pipeline

import (
	"sort"
	"strings"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

// Merge combines collector batches into one deduplicated list. Records are
// visited in source precedence order; the first record for a key wins and
// later duplicates only fill its missing fields. Items without a title or
// without any due information are dropped.
func Merge(batches ...[]assignment.Assignment) []assignment.Assignment {
	var all []assignment.Assignment
	for _, b := range batches {
		all = append(all, b...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Source.Rank() < all[j].Source.Rank()
	})

	index := make(map[string]int, len(all))
	out := make([]assignment.Assignment, 0, len(all))
	for _, a := range all {
		a.Title = strings.TrimSpace(a.Title)
		if a.Title == "" {
			continue
		}
		if norm, err := assignment.NormalizeURL(a.URL); err == nil {
			a.URL = norm
		}
		key := assignment.Key(a)
		if i, ok := index[key]; ok {
			fill(&out[i], a)
			continue
		}
		index[key] = len(out)
		out = append(out, a)
	}

	kept := out[:0]
	for _, a := range out {
		if a.HasDue() {
			kept = append(kept, a)
		}
	}
	return kept
}

func fill(dst *assignment.Assignment, src assignment.Assignment) {
	if dst.DueAt == nil && src.DueAt != nil {
		dst.DueAt = src.DueAt
	}
	if dst.DueText == "" {
		dst.DueText = src.DueText
	}
	if dst.Points == nil && src.Points != nil {
		dst.Points = src.Points
	}
	if dst.Course == "" {
		dst.Course = src.Course
	}
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.URL == "" {
		dst.URL = src.URL
	}
	if dst.Kind == "" || dst.Kind == assignment.KindUnknown {
		dst.Kind = src.Kind
	}
	dst.Submitted = dst.Submitted || src.Submitted
	dst.Locked = dst.Locked || src.Locked
}
