// Package perfstats tracks per-frame inference latency.
package perfstats

import (
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// FrameSample is the latency measurement of a single frame.
type FrameSample struct {
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed"`
	FPS     float64       `json:"fps"`
}

// Snapshot is a point-in-time copy of the stats, for the status API.
type Snapshot struct {
	Frames       int64         `json:"frames"`
	AvgElapsedMS float64       `json:"avgElapsedMS"`
	LastFPS      float64       `json:"lastFPS"`
	Recent       []FrameSample `json:"recent"`
}

// FrameStats accumulates frame latencies. The frame callback writes
// from the bus dispatch thread; the status API reads from HTTP handler
// goroutines, so access is guarded by a mutex.
type FrameStats struct {
	lock    sync.Mutex
	total   TimeAccumulator
	recent  ringbuffer.RingP[FrameSample]
	lastFPS float64
}

func NewFrameStats(historySize int) *FrameStats {
	return &FrameStats{
		recent: ringbuffer.NewRingP[FrameSample](historySize),
	}
}

func (s *FrameStats) AddFrame(elapsed time.Duration, fps float64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.total.AddSample(elapsed)
	s.lastFPS = fps
	s.recent.Add(FrameSample{
		At:      time.Now(),
		Elapsed: elapsed,
		FPS:     fps,
	})
}

func (s *FrameStats) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	recent := make([]FrameSample, s.recent.Len())
	for i := 0; i < s.recent.Len(); i++ {
		recent[i] = s.recent.Peek(i)
	}
	return Snapshot{
		Frames:       s.total.Samples,
		AvgElapsedMS: float64(s.total.Average().Nanoseconds()) / 1e6,
		LastFPS:      s.lastFPS,
		Recent:       recent,
	}
}
