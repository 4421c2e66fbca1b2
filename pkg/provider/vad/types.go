package vad

// Result is the classification of a single audio frame.
type Result struct {
	// IsSpeech reports whether the frame was classified as speech after
	// threshold comparison, including the engine's own frame-to-frame
	// smoothing.
	IsSpeech bool

	// Probability is the raw speech probability score (0.0–1.0). Energy-based
	// engines derive it from the normalised RMS level relative to the
	// configured thresholds.
	Probability float64
}
