package provider

import "time"

const (
	// MaxDataPointsPerRequest is the most buckets the provider serves per call.
	MaxDataPointsPerRequest = 300

	// AnchorOffset is how far before now a fresh backfill ends.
	AnchorOffset = 24 * time.Hour
)

// DateRange is a fetch window. Start and End are passed to the provider as
// given and are not required to be ordered.
type DateRange struct {
	Start       time.Time
	End         time.Time
	Granularity int
}

func (r DateRange) bucket() time.Duration {
	return time.Duration(r.Granularity) * time.Second
}

// Datapoints returns how many buckets of the range's granularity fit in it.
func (r DateRange) Datapoints() int {
	b := r.bucket()
	if b <= 0 {
		return 0
	}
	d := r.End.Sub(r.Start)
	if d < 0 {
		d = -d
	}
	return int(d / b)
}

// Swap exchanges the bounds. Transient retries fetch the swapped range.
func (r DateRange) Swap() DateRange {
	return DateRange{Start: r.End, End: r.Start, Granularity: r.Granularity}
}

// DefaultAnchor returns the instant a fresh backfill walks back from.
func DefaultAnchor(now time.Time) time.Time {
	return now.Add(-AnchorOffset)
}

// Plan walks back from anchor in steps of maxPerRequest buckets until
// datapoints buckets are covered. The oldest range is shortened so the union
// is exactly [anchor - datapoints*granularity, anchor].
func Plan(anchor time.Time, granularity, datapoints, maxPerRequest int) []DateRange {
	if granularity <= 0 || datapoints <= 0 || maxPerRequest <= 0 {
		return nil
	}

	bucket := time.Duration(granularity) * time.Second
	ranges := make([]DateRange, 0, (datapoints+maxPerRequest-1)/maxPerRequest)

	cursor := anchor
	for remaining := datapoints; remaining > 0; remaining -= maxPerRequest {
		n := min(remaining, maxPerRequest)
		start := cursor.Add(-time.Duration(n) * bucket)
		ranges = append(ranges, DateRange{Start: start, End: cursor, Granularity: granularity})
		cursor = start
	}
	return ranges
}

// Split cuts r into k contiguous pieces running from r.Start toward r.End.
// Inner cut points fall on granularity boundaries whenever a piece is at
// least one bucket wide; the last piece always ends at r.End.
func Split(r DateRange, k int) []DateRange {
	if k <= 1 {
		return []DateRange{r}
	}

	step := r.End.Sub(r.Start) / time.Duration(k)
	if b := r.bucket(); b > 0 && (step >= b || step <= -b) {
		step = step / b * b
	}

	pieces := make([]DateRange, 0, k)
	cur := r.Start
	for i := range k {
		end := cur.Add(step)
		if i == k-1 {
			end = r.End
		}
		pieces = append(pieces, DateRange{Start: cur, End: end, Granularity: r.Granularity})
		cur = end
	}
	return pieces
}
