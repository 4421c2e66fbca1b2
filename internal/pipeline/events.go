package pipeline

import (
	"github.com/auralis-ai/auralis/internal/bargein"
	vadet "github.com/auralis-ai/auralis/internal/vad"
	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
)

// eventKind discriminates the events funnelled through the controller's
// single-threaded loop.
type eventKind int

const (
	evStart eventKind = iota
	evStop
	evClose
	evVAD
	evBargeIn
	evPartial
	evFinal
	evASRClosed
	evASRStarted
	evAudioClosed
	evAudioStarted
	evSpeak
	evAssistantText
	evPlaybackDone
	evEchoSettled
	evProactivePrompt
	evSessionTimeout
)

// event is the controller loop's message type. Only the fields relevant to
// the kind are populated; gen tags events from session-scoped goroutines so
// the loop can discard stale deliveries after a restart or stop.
type event struct {
	kind eventKind
	gen  uint64

	vad         vadet.Event
	barge       bargein.Event
	transcript  stt.Transcript
	err         error
	text        string
	frames      <-chan audio.Frame
	asr         stt.SessionHandle
	audio       <-chan []byte
	interrupted bool
	n           int
	reason      string
}
