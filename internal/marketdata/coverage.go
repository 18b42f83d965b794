package marketdata

import (
	"sort"
	"time"
)

// span is an inclusive date range, both bounds formatted YYYY-MM-DD. For
// metrics coverage an empty Start means unbounded below.
type span struct {
	Start string `msgpack:"start"`
	End   string `msgpack:"end"`
}

const dayLayout = "2006-01-02"

func nextDay(day string) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, 1).Format(dayLayout)
}

func prevDay(day string) string {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, -1).Format(dayLayout)
}

// addCoveredSpan inserts s into a sorted, disjoint span set, merging spans
// that overlap or sit on adjacent days. Bounds must be non-empty.
func addCoveredSpan(spans []span, s span) []span {
	out := make([]span, 0, len(spans)+1)
	for _, e := range spans {
		if nextDay(e.End) < s.Start || nextDay(s.End) < e.Start {
			out = append(out, e)
			continue
		}
		if e.Start < s.Start {
			s.Start = e.Start
		}
		if e.End > s.End {
			s.End = e.End
		}
	}
	out = append(out, s)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// uncoveredSpans returns the sub-ranges of want not covered by the given
// sorted, disjoint span set, ascending. An empty result means want is fully
// covered.
func uncoveredSpans(spans []span, want span) []span {
	var gaps []span
	cur := want.Start
	for _, e := range spans {
		if e.End < cur {
			continue
		}
		if e.Start > want.End {
			break
		}
		if e.Start > cur {
			gaps = append(gaps, span{Start: cur, End: prevDay(e.Start)})
		}
		if e.End >= want.End {
			return gaps
		}
		cur = nextDay(e.End)
	}
	if cur <= want.End {
		gaps = append(gaps, span{Start: cur, End: want.End})
	}
	return gaps
}
