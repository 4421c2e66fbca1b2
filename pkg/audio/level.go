package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of a 16-bit little-endian PCM
// buffer, normalised to [0.0, 1.0]. A trailing odd byte is ignored.
//
// RMS is called once per frame from the ingestion point, so it must stay
// allocation-free.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// LevelMeter tracks a smoothed amplitude level for UI display. It applies an
// exponential moving average so the indicator does not flicker frame to frame.
//
// A LevelMeter is owned by the frame ingestion goroutine; it is not safe for
// concurrent use.
type LevelMeter struct {
	alpha float64
	level float64
}

// NewLevelMeter creates a meter with the given smoothing factor in (0, 1].
// Higher alpha reacts faster; 0.3 is a reasonable UI default. Out-of-range
// values are clamped.
func NewLevelMeter(alpha float64) *LevelMeter {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &LevelMeter{alpha: alpha}
}

// Update feeds one frame's PCM into the meter and returns the smoothed level.
func (m *LevelMeter) Update(pcm []byte) float64 {
	m.level = m.alpha*RMS(pcm) + (1-m.alpha)*m.level
	return m.level
}

// Level returns the current smoothed level without feeding new audio.
func (m *LevelMeter) Level() float64 { return m.level }

// Reset clears the meter to silence.
func (m *LevelMeter) Reset() { m.level = 0 }
