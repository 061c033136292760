package metrics

import (
	"time"

	"github.com/saveenergy/connflurry/pkg/types"
)

const (
	DefaultBucketWidth = time.Millisecond
	DefaultBucketCount = 5000
)

// ConnectLatency accumulates handshake durations in fixed-width buckets.
// It is not safe for concurrent use; the pool records from one goroutine.
type ConnectLatency struct {
	bucketWidth time.Duration
	buckets     []uint32
	overflow    uint32
	count       int64
	min         time.Duration
	max         time.Duration
	sum         time.Duration
}

func NewConnectLatency(bucketWidth time.Duration, bucketCount int) *ConnectLatency {
	if bucketWidth <= 0 {
		bucketWidth = DefaultBucketWidth
	}
	if bucketCount <= 0 {
		bucketCount = 1
	}
	return &ConnectLatency{
		bucketWidth: bucketWidth,
		buckets:     make([]uint32, bucketCount),
	}
}

func (c *ConnectLatency) Record(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	if c.count == 0 || sample < c.min {
		c.min = sample
	}
	if sample > c.max {
		c.max = sample
	}
	c.count++
	c.sum += sample

	index := int(sample / c.bucketWidth)
	if index >= len(c.buckets) {
		c.overflow++
		return
	}
	c.buckets[index]++
}

func (c *ConnectLatency) Count() int64 {
	return c.count
}

func (c *ConnectLatency) Reset() {
	for i := range c.buckets {
		c.buckets[i] = 0
	}
	c.overflow = 0
	c.count = 0
	c.min, c.max, c.sum = 0, 0, 0
}

func (c *ConnectLatency) Summary() types.LatencyMetrics {
	if c.count == 0 {
		return types.LatencyMetrics{}
	}

	maxMs := toMs(c.max)
	return types.LatencyMetrics{
		MinMs: toMs(c.min),
		MaxMs: maxMs,
		AvgMs: float64(c.sum) / float64(c.count) / float64(time.Millisecond),
		P50Ms: c.percentile(0.50, maxMs),
		P95Ms: c.percentile(0.95, maxMs),
		P99Ms: c.percentile(0.99, maxMs),
		Count: int(c.count),
	}
}

// percentile returns the upper edge of the bucket holding the ratio-th
// sample, or the observed max when that sample overflowed.
func (c *ConnectLatency) percentile(ratio float64, maxMs float64) float64 {
	target := int64(float64(c.count)*ratio) + 1
	if target > c.count {
		target = c.count
	}

	var seen int64
	for i, n := range c.buckets {
		seen += int64(n)
		if seen >= target {
			edge := toMs(time.Duration(i+1) * c.bucketWidth)
			if edge > maxMs {
				return maxMs
			}
			return edge
		}
	}
	return maxMs
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
