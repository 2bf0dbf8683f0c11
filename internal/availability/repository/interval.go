package repository

import "time"

type interval struct {
	start time.Time
	end   time.Time
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// subtract removes every cut from [start, end) and returns the
// remaining fragments in order. Cuts may overlap each other.
func subtract(start, end time.Time, cuts []interval) []interval {
	remain := []interval{{start: start, end: end}}
	for _, c := range cuts {
		var next []interval
		for _, r := range remain {
			if !overlaps(r.start, r.end, c.start, c.end) {
				next = append(next, r)
				continue
			}
			if r.start.Before(c.start) {
				next = append(next, interval{start: r.start, end: c.start})
			}
			if c.end.Before(r.end) {
				next = append(next, interval{start: c.end, end: r.end})
			}
		}
		remain = next
	}
	return remain
}
