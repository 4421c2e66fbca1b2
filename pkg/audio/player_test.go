package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/audio/mock"
)

// waitDone waits for an onDone signal and returns the reported interrupt flag.
func waitDone(t *testing.T, done <-chan bool) bool {
	t.Helper()
	select {
	case interrupted := <-done:
		return interrupted
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish within 2s")
		return false
	}
}

// waitForChunks polls until the sink has received at least n chunks.
func waitForChunks(t *testing.T, sink *mock.Sink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Chunks()) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("sink received %d chunks, want at least %d", len(sink.Chunks()), n)
}

func TestPlayer_PlaysStreamToCompletion(t *testing.T) {
	sink := &mock.Sink{}
	p := audio.NewPlayer(sink)

	ch := make(chan []byte, 3)
	for i := 0; i < 3; i++ {
		ch <- []byte{byte(i)}
	}
	close(ch)

	done := make(chan bool, 1)
	p.Play(context.Background(), ch, func(interrupted bool) { done <- interrupted })

	if interrupted := waitDone(t, done); interrupted {
		t.Error("onDone interrupted = true, want false")
	}
	if got := len(sink.Chunks()); got != 3 {
		t.Errorf("sink chunks = %d, want 3", got)
	}
	if p.Speaking() {
		t.Error("Speaking() = true after completed stream, want false")
	}
}

func TestPlayer_StopInterruptsAndFlushes(t *testing.T) {
	sink := &mock.Sink{}
	p := audio.NewPlayer(sink)

	ch := make(chan []byte, 8)
	ch <- []byte{1}

	done := make(chan bool, 1)
	p.Play(context.Background(), ch, func(interrupted bool) { done <- interrupted })
	waitForChunks(t, sink, 1)

	if !p.Speaking() {
		t.Error("Speaking() = false during playback, want true")
	}
	p.Stop()

	if interrupted := waitDone(t, done); !interrupted {
		t.Error("onDone interrupted = false after Stop, want true")
	}
	if p.Speaking() {
		t.Error("Speaking() = true after Stop, want false")
	}
	if sink.CallCountFlush == 0 {
		t.Error("sink Flush was not called on interrupt")
	}
	close(ch)
}

func TestPlayer_NewPlayInterruptsPrevious(t *testing.T) {
	sink := &mock.Sink{}
	p := audio.NewPlayer(sink)

	first := make(chan []byte, 8)
	first <- []byte{1}
	firstDone := make(chan bool, 1)
	p.Play(context.Background(), first, func(interrupted bool) { firstDone <- interrupted })
	waitForChunks(t, sink, 1)

	second := make(chan []byte, 1)
	second <- []byte{2}
	close(second)
	secondDone := make(chan bool, 1)
	p.Play(context.Background(), second, func(interrupted bool) { secondDone <- interrupted })

	if interrupted := waitDone(t, firstDone); !interrupted {
		t.Error("first stream interrupted = false, want true")
	}
	if interrupted := waitDone(t, secondDone); interrupted {
		t.Error("second stream interrupted = true, want false")
	}
	if p.Speaking() {
		t.Error("Speaking() = true after both streams ended, want false")
	}
	close(first)
}

func TestPlayer_SinkErrorReportedAsCompleted(t *testing.T) {
	sink := &mock.Sink{WriteError: errors.New("device gone")}
	p := audio.NewPlayer(sink)

	ch := make(chan []byte, 2)
	ch <- []byte{1}
	ch <- []byte{2}
	close(ch)

	done := make(chan bool, 1)
	p.Play(context.Background(), ch, func(interrupted bool) { done <- interrupted })

	// A broken device ends the stream but must not look like a barge-in.
	if interrupted := waitDone(t, done); interrupted {
		t.Error("onDone interrupted = true on sink error, want false")
	}
}

func TestPlayer_StopWhenIdleIsNoOp(t *testing.T) {
	p := audio.NewPlayer(&mock.Sink{})
	p.Stop()
	if p.Speaking() {
		t.Error("Speaking() = true on idle player, want false")
	}
}
