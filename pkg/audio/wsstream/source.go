// Package wsstream implements an [audio.Source] backed by a remote
// microphone streaming Opus packets over a WebSocket connection.
//
// Mobile and browser clients capture audio locally, encode it as 20 ms Opus
// packets, and push the packets as binary WebSocket messages. This source
// decodes each packet to 16-bit PCM and re-frames the samples into the
// fixed-duration frames the pipeline expects.
//
// Frame timestamps are derived from the cumulative sample count rather than
// wall-clock arrival time, so network jitter does not distort VAD timing.
package wsstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/auralis-ai/auralis/pkg/audio"
)

// opusFrameSize is the per-channel sample count of a 20 ms packet at 16 kHz.
const opusFrameSize = 320

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDialHeaders sets extra HTTP headers for the WebSocket handshake
// (e.g., an Authorization token for the stream gateway).
func WithDialHeaders(headers map[string]string) Option {
	return func(s *Source) { s.headers = headers }
}

// Source connects to a WebSocket audio gateway and exposes the decoded
// remote microphone as an [audio.Source].
//
// All exported methods are safe for concurrent use.
type Source struct {
	url     string
	headers map[string]string

	mu     sync.Mutex
	conn   *websocket.Conn
	active bool
	stop   context.CancelFunc
}

// New creates a Source that will dial url on [Source.StartStream].
func New(url string, opts ...Option) (*Source, error) {
	if url == "" {
		return nil, errors.New("wsstream: url must not be empty")
	}
	s := &Source{url: url}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// StartStream implements [audio.Source]. It dials the gateway, then decodes
// and re-frames incoming Opus packets in a background goroutine. The returned
// channel is closed when the connection drops or Stop is called.
func (s *Source) StartStream(ctx context.Context, cfg audio.StreamConfig) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, errors.New("wsstream: stream already active")
	}
	if cfg.Channels != 1 {
		return nil, fmt.Errorf("wsstream: unsupported channel count %d (mono only)", cfg.Channels)
	}

	dec, err := gopus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("wsstream: create opus decoder: %w", err)
	}

	opts := &websocket.DialOptions{}
	if len(s.headers) > 0 {
		opts.HTTPHeader = make(map[string][]string, len(s.headers))
		for k, v := range s.headers {
			opts.HTTPHeader.Set(k, v)
		}
	}
	conn, _, err := websocket.Dial(ctx, s.url, opts)
	if err != nil {
		return nil, fmt.Errorf("wsstream: dial: %w", err)
	}
	// Audio streams are long-lived; disable the default message size cap.
	conn.SetReadLimit(-1)

	readCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.active = true
	s.stop = cancel

	out := make(chan audio.Frame, 32)
	go s.readLoop(readCtx, conn, dec, cfg, out)
	return out, nil
}

// Stop implements [audio.Source]. It closes the connection and the frame
// channel. Safe to call multiple times.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	s.stop()
	return s.conn.Close(websocket.StatusNormalClosure, "stream stopped")
}

// readLoop receives Opus packets, decodes them, and re-frames the PCM into
// cfg.FrameDuration slices on out.
func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn, dec *gopus.Decoder, cfg audio.StreamConfig, out chan<- audio.Frame) {
	defer close(out)
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	frameBytes := cfg.FrameBytes()
	buf := make([]byte, 0, frameBytes*2)
	var totalSamples int64

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation — exit gracefully.
			if ctx.Err() == nil {
				slog.Warn("wsstream: read failed, closing stream", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue // control/heartbeat messages are ignored
		}

		pcm, err := dec.Decode(msg, opusFrameSize, false)
		if err != nil {
			slog.Warn("wsstream: opus decode failed, dropping packet", "err", err)
			continue
		}
		buf = appendSamples(buf, pcm)

		for len(buf) >= frameBytes {
			frame := audio.Frame{
				PCM:        append([]byte(nil), buf[:frameBytes]...),
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
				Timestamp:  time.Duration(totalSamples) * time.Second / time.Duration(cfg.SampleRate),
			}
			totalSamples += int64(frameBytes / 2)
			buf = buf[frameBytes:]

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// appendSamples appends interleaved int16 samples to buf as little-endian bytes.
func appendSamples(buf []byte, samples []int16) []byte {
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}
