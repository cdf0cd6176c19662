package history

import (
	"cmp"
	"slices"

	"golang.org/x/text/collate"
)

type SortKey string

const (
	SortDate       SortKey = "date"
	SortConfidence SortKey = "confidence"
	SortStatus     SortKey = "status"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// AllStatuses disables the status filter.
const AllStatuses = "all"

// View is the local, non-persisted sort and filter state of the history list.
type View struct {
	Sort   SortKey
	Dir    Direction
	Status string
}

// DefaultView is newest first, unfiltered.
func DefaultView() View {
	return View{Sort: SortDate, Dir: Descending, Status: AllStatuses}
}

// Normalize replaces unknown values with the defaults.
func (v View) Normalize() View {
	def := DefaultView()
	switch v.Sort {
	case SortDate, SortConfidence, SortStatus:
	default:
		v.Sort = def.Sort
	}
	switch v.Dir {
	case Ascending, Descending:
	default:
		v.Dir = def.Dir
	}
	if v.Status == "" {
		v.Status = AllStatuses
	}
	return v
}

// Apply returns a sorted, filtered copy of records. Sorting is stable.
// Status sort is alphabetical by collator and ignores the direction.
func (v View) Apply(records []Record, collator *collate.Collator) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if v.Status == AllStatuses || v.Status == "" || r.Status == v.Status {
			out = append(out, r)
		}
	}

	switch v.Sort {
	case SortStatus:
		slices.SortStableFunc(out, func(a, b Record) int {
			if collator == nil {
				return cmp.Compare(a.Status, b.Status)
			}
			return collator.CompareString(a.Status, b.Status)
		})
	case SortConfidence:
		slices.SortStableFunc(out, func(a, b Record) int {
			return v.directed(cmp.Compare(a.Confidence, b.Confidence))
		})
	default:
		slices.SortStableFunc(out, func(a, b Record) int {
			return v.directed(a.Time.Compare(b.Time))
		})
	}
	return out
}

func (v View) directed(c int) int {
	if v.Dir == Descending {
		return -c
	}
	return c
}

// uniqueStatuses lists statuses in first-seen order.
func uniqueStatuses(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	statuses := make([]string, 0)
	for _, r := range records {
		if _, ok := seen[r.Status]; ok {
			continue
		}
		seen[r.Status] = struct{}{}
		statuses = append(statuses, r.Status)
	}
	return statuses
}
