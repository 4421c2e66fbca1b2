// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to inject per-frame results and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Result: vad.Result{IsSpeech: true, Probability: 0.9},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/auralis-ai/auralis/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of [vad.Engine].
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Session is a mock implementation of [vad.SessionHandle]. Tests either set
// Result for a constant answer or queue per-frame answers via Script.
type Session struct {
	mu sync.Mutex

	// Result is returned by ProcessFrame when the script queue is empty.
	Result vad.Result

	// Script holds per-call results consumed in order before falling back to
	// Result.
	Script []vad.Result

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ProcessFrameCount is the number of ProcessFrame calls.
	ProcessFrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Compile-time interface assertion.
var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame records the call and returns the next scripted result.
func (s *Session) ProcessFrame(_ []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCount++
	if s.ProcessFrameErr != nil {
		return vad.Result{}, s.ProcessFrameErr
	}
	if len(s.Script) > 0 {
		r := s.Script[0]
		s.Script = s.Script[1:]
		return r, nil
	}
	return s.Result, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
