package container

import "math"

// Info describes the state of a container.
type Info struct {
	Segments     int           `json:"segments"`
	Entries      int           `json:"entries"`      // including expired entries that were not reaped yet
	Expired      int           `json:"expired"`      // expired entries that were not reaped yet
	ValueBytes   int64         `json:"value_bytes"`  // sum of all value sizes
	Distribution SegmentSpread `json:"distribution"` // how evenly the keys are spread over the segments
}

// SegmentSpread summarizes the sizes of all segments.
type SegmentSpread struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_deviation"`
	// Quality is 1 for a perfectly even spread and approaches 0 for a skewed one.
	Quality float64 `json:"quality"`
}

// newSegmentSpread computes the spread of the given segment sizes.
func newSegmentSpread(sizes []float64) SegmentSpread {
	if len(sizes) == 0 {
		return SegmentSpread{}
	}

	s := SegmentSpread{Min: sizes[0], Max: sizes[0]}
	var sum float64
	for _, v := range sizes {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(sizes))

	var squares float64
	for _, v := range sizes {
		d := v - s.Mean
		squares += d * d
	}
	s.StdDev = math.Sqrt(squares / float64(len(sizes)))

	// coefficient of variation and min/max ratio weigh equally
	ratio := 1.0
	if s.Max > 0 {
		ratio = s.Min / s.Max
	}
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDev / s.Mean
	}
	s.Quality = (1.0-math.Min(1.0, cv))*0.5 + ratio*0.5
	return s
}
