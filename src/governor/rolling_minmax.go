package governor

import (
	"math"
	"time"
)

const rollingBuckets = 60

// minMaxBucket holds min/max values for a single bucket
type minMaxBucket struct {
	min, max float64
}

var emptyBucket = minMaxBucket{min: math.MaxFloat64, max: -math.MaxFloat64}

// RollingMinMax tracks min/max values over a rolling window split into 60
// equal buckets. The flow controller feeds it the estimated rate so telemetry
// can show how steady a dispense was.
type RollingMinMax struct {
	buckets [rollingBuckets]minMaxBucket
	width   time.Duration
	current int64 // absolute bucket number, -1 = uninitialized
}

// NewRollingMinMax covers the given window, e.g. one minute gives 1s buckets.
func NewRollingMinMax(window time.Duration) *RollingMinMax {
	width := window / rollingBuckets
	if width <= 0 {
		width = time.Second
	}
	r := &RollingMinMax{width: width, current: -1}
	r.Reset()
	return r
}

// Reset drops every recorded value.
func (r *RollingMinMax) Reset() {
	for i := range r.buckets {
		r.buckets[i] = emptyBucket
	}
	r.current = -1
}

// Update records a value at the given time.
func (r *RollingMinMax) Update(value float64, now time.Time) {
	r.updateAt(value, now.UnixNano()/int64(r.width))
}

func (r *RollingMinMax) updateAt(value float64, bucket int64) {
	if r.current >= 0 && bucket != r.current {
		if bucket-r.current >= rollingBuckets || bucket < r.current {
			for i := range r.buckets {
				r.buckets[i] = emptyBucket
			}
		} else {
			// Clear missed buckets
			for b := r.current + 1; b < bucket; b++ {
				r.buckets[b%rollingBuckets] = emptyBucket
			}
		}
	}

	i := bucket % rollingBuckets
	if bucket != r.current {
		r.buckets[i] = minMaxBucket{min: value, max: value}
		r.current = bucket
		return
	}

	b := &r.buckets[i]
	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// Min returns the minimum value across all buckets, or 0 if no data
func (r *RollingMinMax) Min() float64 {
	result := math.MaxFloat64
	for _, b := range r.buckets {
		result = min(result, b.min)
	}
	if result == math.MaxFloat64 {
		return 0
	}
	return result
}

// Max returns the maximum value across all buckets, or 0 if no data
func (r *RollingMinMax) Max() float64 {
	result := -math.MaxFloat64
	for _, b := range r.buckets {
		result = max(result, b.max)
	}
	if result == -math.MaxFloat64 {
		return 0
	}
	return result
}
