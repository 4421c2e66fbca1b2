package energy

import (
	"encoding/binary"
	"testing"

	"github.com/auralis-ai/auralis/pkg/provider/vad"
)

func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      100,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	}
}

// tonePCM builds one 100 ms frame (3200 bytes at 16 kHz) of constant-amplitude
// samples. With the default calibration of 0.06, amplitude 3000 lands at
// probability 1.0 and amplitude 800 lands between the two thresholds.
func tonePCM(amplitude int16) []byte {
	pcm := make([]byte, 3200)
	for i := 0; i+1 < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(amplitude))
	}
	return pcm
}

func TestNewSession_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"zero sample rate", func(c *vad.Config) { c.SampleRate = 0 }},
		{"zero frame size", func(c *vad.Config) { c.FrameSizeMs = 0 }},
		{"zero speech threshold", func(c *vad.Config) { c.SpeechThreshold = 0 }},
		{"speech threshold above one", func(c *vad.Config) { c.SpeechThreshold = 1.2 }},
		{"negative silence threshold", func(c *vad.Config) { c.SilenceThreshold = -0.1 }},
		{"silence above speech", func(c *vad.Config) { c.SilenceThreshold = 0.8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New().NewSession(cfg); err == nil {
				t.Error("NewSession() error = nil, want error")
			}
		})
	}
}

func TestSession_HysteresisBetweenThresholds(t *testing.T) {
	sess, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	loud, mid, quiet := tonePCM(3000), tonePCM(800), tonePCM(0)

	res, err := sess.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("ProcessFrame(quiet) error = %v", err)
	}
	if res.IsSpeech {
		t.Error("quiet frame IsSpeech = true, want false")
	}

	res, _ = sess.ProcessFrame(loud)
	if !res.IsSpeech {
		t.Fatal("loud frame IsSpeech = false, want true")
	}
	if res.Probability != 1.0 {
		t.Errorf("loud frame Probability = %v, want 1.0 (clamped)", res.Probability)
	}

	// Between the thresholds the session holds its previous state.
	res, _ = sess.ProcessFrame(mid)
	if !res.IsSpeech {
		t.Error("mid frame after speech IsSpeech = false, want true (hysteresis)")
	}

	res, _ = sess.ProcessFrame(quiet)
	if res.IsSpeech {
		t.Error("quiet frame IsSpeech = true, want false")
	}

	res, _ = sess.ProcessFrame(mid)
	if res.IsSpeech {
		t.Error("mid frame after silence IsSpeech = true, want false (hysteresis)")
	}
}

func TestSession_ResetClearsSpeechState(t *testing.T) {
	sess, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	if res, _ := sess.ProcessFrame(tonePCM(3000)); !res.IsSpeech {
		t.Fatal("loud frame IsSpeech = false, want true")
	}
	sess.Reset()
	if res, _ := sess.ProcessFrame(tonePCM(800)); res.IsSpeech {
		t.Error("mid frame after Reset IsSpeech = true, want false")
	}
}

func TestSession_RejectsWrongFrameSize(t *testing.T) {
	sess, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	if _, err := sess.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("ProcessFrame(short frame) error = nil, want error")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	sess, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := sess.ProcessFrame(tonePCM(0)); err == nil {
		t.Error("ProcessFrame after Close error = nil, want error")
	}
}

func TestWithCalibration(t *testing.T) {
	// A lower calibration makes the same amplitude proportionally louder.
	sess, err := New(WithCalibration(0.01)).NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	res, err := sess.ProcessFrame(tonePCM(800))
	if err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}
	if !res.IsSpeech {
		t.Error("mid frame with 0.01 calibration IsSpeech = false, want true")
	}
}
