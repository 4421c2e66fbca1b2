package wsstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/auralis-ai/auralis/pkg/audio"
)

// maxOpusPacketBytes bounds a single encoded packet. Opus packets for 20 ms of
// mono speech are far smaller; this is the encoder's scratch limit.
const maxOpusPacketBytes = 1275

// flushControlMessage tells the gateway to drop any audio it has buffered but
// not yet played. Sent as a text message so it cannot be confused with an
// audio packet.
const flushControlMessage = "flush"

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// SinkOption is a functional option for configuring a Sink.
type SinkOption func(*Sink)

// WithSinkDialHeaders sets extra HTTP headers for the WebSocket handshake.
func WithSinkDialHeaders(headers map[string]string) SinkOption {
	return func(s *Sink) { s.headers = headers }
}

// WithSinkSampleRate sets the PCM sample rate written to the sink.
// The default is 16000.
func WithSinkSampleRate(rate int) SinkOption {
	return func(s *Sink) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// Sink is the playback half of the WebSocket audio gateway. PCM chunks are
// encoded as 20 ms mono Opus packets and pushed to the remote client as binary
// messages; the client decodes and plays them. Flush sends a control message
// telling the client to drop its playback buffer, which is what makes remote
// barge-in cut off mid-sentence instead of draining queued speech.
//
// All exported methods are safe for concurrent use.
type Sink struct {
	url        string
	headers    map[string]string
	sampleRate int

	mu      sync.Mutex
	conn    *websocket.Conn
	enc     *gopus.Encoder
	pending []byte
	closed  bool
}

// NewSink creates a Sink that dials url on the first Write.
func NewSink(url string, opts ...SinkOption) (*Sink, error) {
	if url == "" {
		return nil, errors.New("wsstream: sink url must not be empty")
	}
	s := &Sink{url: url, sampleRate: 16000}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Write implements [audio.Sink]. Chunk boundaries are not preserved: samples
// are re-framed into fixed 20 ms packets, and a remainder shorter than one
// packet stays buffered until the next Write or Flush.
func (s *Sink) Write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("wsstream: sink is closed")
	}
	if err := s.ensureConn(ctx); err != nil {
		return err
	}

	s.pending = append(s.pending, pcm...)
	frameBytes := s.sampleRate / 50 * 2 // 20 ms of mono int16 samples

	for len(s.pending) >= frameBytes {
		packet, err := s.enc.Encode(bytesToSamples(s.pending[:frameBytes]), frameBytes/2, maxOpusPacketBytes)
		if err != nil {
			return fmt.Errorf("wsstream: opus encode: %w", err)
		}
		if err := s.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			s.dropConn()
			return fmt.Errorf("wsstream: write packet: %w", err)
		}
		s.pending = s.pending[frameBytes:]
	}
	return nil
}

// Flush implements [audio.Sink]. It discards the local remainder and tells
// the gateway to drop its queued audio. A Flush with no connection is a no-op.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Write(context.Background(), websocket.MessageText, []byte(flushControlMessage)); err != nil {
		s.dropConn()
		return fmt.Errorf("wsstream: send flush: %w", err)
	}
	return nil
}

// Close implements [audio.Sink]. Safe to call multiple times.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "sink closed")
	s.conn = nil
	return err
}

// ensureConn dials the gateway and creates the encoder on first use.
// Must be called with s.mu held.
func (s *Sink) ensureConn(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	enc, err := gopus.NewEncoder(s.sampleRate, 1, gopus.Voip)
	if err != nil {
		return fmt.Errorf("wsstream: create opus encoder: %w", err)
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
		return fmt.Errorf("wsstream: dial sink: %w", err)
	}

	s.conn = conn
	s.enc = enc
	return nil
}

// dropConn abandons a connection after a write failure so the next Write
// redials. Must be called with s.mu held.
func (s *Sink) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusInternalError, "write failed")
		s.conn = nil
	}
	s.pending = nil
}

// bytesToSamples converts little-endian bytes to int16 PCM samples.
func bytesToSamples(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
