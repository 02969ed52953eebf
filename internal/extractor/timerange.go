// Package extractor turns detection groups into padded time ranges and cuts
// those ranges out of the source clip with ffmpeg stream copy.
package extractor

import (
	"slices"
)

// DefaultClipDuration is the nominal length of a camera clip in seconds.
const DefaultClipDuration = 60.0

// TimeRange is a half-open interval in seconds from the start of a clip.
type TimeRange struct {
	Start float64
	End   float64
}

// Duration returns End - Start
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// ComputeRanges converts detection group indices into merged time ranges.
//
// Group i covers [i*exposure, (i+1)*exposure]. Each interval is padded by
// margin on both sides, clamped to [0, clipDuration], and intervals that touch
// or overlap are merged. Groups lying past the end of the clip yield no range.
// A clipDuration <= 0 selects DefaultClipDuration.
func ComputeRanges(groups []int, exposure, margin, clipDuration float64) []TimeRange {
	if len(groups) == 0 {
		return nil
	}
	if clipDuration <= 0 {
		clipDuration = DefaultClipDuration
	}

	raw := make([]TimeRange, 0, len(groups))
	for _, g := range groups {
		r := TimeRange{
			Start: min(clipDuration, max(0, float64(g)*exposure-margin)),
			End:   min(clipDuration, max(0, float64(g+1)*exposure+margin)),
		}
		if r.End <= r.Start {
			continue
		}
		raw = append(raw, r)
	}
	if len(raw) == 0 {
		return nil
	}
	slices.SortStableFunc(raw, func(a, b TimeRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	merged := []TimeRange{raw[0]}
	for _, r := range raw[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
