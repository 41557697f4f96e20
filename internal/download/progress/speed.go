package progress

// DefaultSampleCount is the ring capacity used when none is configured.
const DefaultSampleCount = 10

// Sample is a single (timestamp, cumulative bytes) observation.
type Sample struct {
	Timestamp float64 // seconds
	Bytes     int64   // cumulative bytes received at Timestamp
}

// SpeedEstimator keeps a fixed-size ring of samples and reports the secant
// slope between the oldest retained and the newest sample.
//
// Timestamps are strictly increasing inside the ring: a sample whose timestamp
// is not after the last recorded one is dropped.
type SpeedEstimator struct {
	timestamps []float64
	bytes      []int64
	writeIndex int // last written slot, -1 when empty
	count      int // samples ever written
}

// NewSpeedEstimator returns an estimator retaining up to size samples.
func NewSpeedEstimator(size int) *SpeedEstimator {
	if size < 2 {
		size = DefaultSampleCount
	}

	return &SpeedEstimator{
		timestamps: make([]float64, size),
		bytes:      make([]int64, size),
		writeIndex: -1,
	}
}

// AddSample records the cumulative byte count observed at timestamp.
func (s *SpeedEstimator) AddSample(timestamp float64, cumulativeBytes int64) {
	if s.count > 0 && timestamp <= s.timestamps[s.writeIndex] {
		return
	}

	// While nothing has arrived yet, slide the idle baseline forward instead
	// of filling the ring with zero samples.
	if s.count == 1 && s.bytes[s.writeIndex] == 0 && cumulativeBytes == 0 {
		s.timestamps[s.writeIndex] = timestamp

		return
	}

	s.writeIndex = (s.writeIndex + 1) % len(s.timestamps)
	s.timestamps[s.writeIndex] = timestamp
	s.bytes[s.writeIndex] = cumulativeBytes
	s.count++
}

// AverageRate returns the bytes per second between the oldest retained and
// the newest sample, or 0 with fewer than two samples.
func (s *SpeedEstimator) AverageRate() int64 {
	if s.count < 2 {
		return 0
	}

	oldest := s.oldestIndex()
	dt := s.timestamps[s.writeIndex] - s.timestamps[oldest]

	if dt <= 0 {
		return 0
	}

	return int64(float64(s.bytes[s.writeIndex]-s.bytes[oldest]) / dt)
}

// Len returns the number of retained samples.
func (s *SpeedEstimator) Len() int {
	return min(s.count, len(s.timestamps))
}

// Samples returns the retained samples from oldest to newest.
func (s *SpeedEstimator) Samples() []Sample {
	n := s.Len()
	out := make([]Sample, 0, n)

	for i, idx := 0, s.oldestIndex(); i < n; i, idx = i+1, (idx+1)%len(s.timestamps) {
		out = append(out, Sample{Timestamp: s.timestamps[idx], Bytes: s.bytes[idx]})
	}

	return out
}

func (s *SpeedEstimator) oldestIndex() int {
	if s.count > len(s.timestamps) {
		return (s.writeIndex + 1) % len(s.timestamps)
	}

	return 0
}
