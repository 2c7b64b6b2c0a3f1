package estimators

import (
	"sort"

	"taglocalizer/utils"
)

// DefaultHeadingWindowSec is how much heading history is kept for disambiguation.
const DefaultHeadingWindowSec = 1.5

// HeadingBuffer is a short rolling history of platform yaw keyed by timestamp.
type HeadingBuffer struct {
	window  float64
	samples []utils.HeadingSample
}

func NewHeadingBuffer(windowSec float64) *HeadingBuffer {
	if windowSec <= 0 {
		windowSec = DefaultHeadingWindowSec
	}
	return &HeadingBuffer{window: windowSec}
}

// Add inserts a sample, replacing one with the same timestamp, and drops samples older
// than the window measured from the newest sample.
func (b *HeadingBuffer) Add(timestamp, yaw float64) {
	sample := utils.HeadingSample{Timestamp: timestamp, Yaw: utils.WrapAngleRad(yaw)}
	i := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].Timestamp >= timestamp })
	switch {
	case i < len(b.samples) && b.samples[i].Timestamp == timestamp:
		b.samples[i] = sample
	case i == len(b.samples):
		b.samples = append(b.samples, sample)
	default:
		b.samples = append(b.samples, utils.HeadingSample{})
		copy(b.samples[i+1:], b.samples[i:])
		b.samples[i] = sample
	}

	cutoff := b.samples[len(b.samples)-1].Timestamp - b.window
	drop := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].Timestamp >= cutoff })
	if drop > 0 {
		b.samples = append(b.samples[:0], b.samples[drop:]...)
	}
}

// SampleAt interpolates the yaw at a timestamp along the shortest arc. Outside the
// buffered range the nearest sample is returned. It reports false when the buffer is empty.
func (b *HeadingBuffer) SampleAt(timestamp float64) (float64, bool) {
	n := len(b.samples)
	if n == 0 {
		return 0, false
	}
	i := sort.Search(n, func(i int) bool { return b.samples[i].Timestamp >= timestamp })
	if i == 0 {
		return b.samples[0].Yaw, true
	}
	if i == n {
		return b.samples[n-1].Yaw, true
	}
	before, after := b.samples[i-1], b.samples[i]
	span := after.Timestamp - before.Timestamp
	if span <= 0 {
		return after.Yaw, true
	}
	frac := (timestamp - before.Timestamp) / span
	return utils.WrapAngleRad(before.Yaw + frac*utils.WrapAngleRad(after.Yaw-before.Yaw)), true
}

func (b *HeadingBuffer) Len() int {
	return len(b.samples)
}
