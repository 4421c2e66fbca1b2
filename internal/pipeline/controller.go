// Package pipeline orchestrates the voice interaction loop: audio capture,
// voice activity detection, streaming recognition, command processing,
// synthesis playback, barge-in, and proactive prompting.
//
// The [Controller] is a finite state machine over [State]. Everything that
// happens — frames, transcripts, playback completions, timer expiries — is
// converted into an event and funnelled through one loop goroutine, so the
// state needs no lock for its transitions and every handler observes a
// consistent world. Events that arrive in a state with no defined transition
// are logged and dropped.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auralis-ai/auralis/internal/bargein"
	"github.com/auralis-ai/auralis/internal/history"
	"github.com/auralis-ai/auralis/internal/observe"
	"github.com/auralis-ai/auralis/internal/proactive"
	"github.com/auralis-ai/auralis/internal/resilience"
	vadet "github.com/auralis-ai/auralis/internal/vad"
	"github.com/auralis-ai/auralis/pkg/audio"
	"github.com/auralis-ai/auralis/pkg/command"
	"github.com/auralis-ai/auralis/pkg/provider/stt"
	"github.com/auralis-ai/auralis/pkg/provider/tts"
	vadengine "github.com/auralis-ai/auralis/pkg/provider/vad"
)

const (
	defaultEchoSettleDelay  = 800 * time.Millisecond
	minEchoSettleDelay      = 500 * time.Millisecond
	maxEchoSettleDelay      = 1500 * time.Millisecond
	defaultFinalDedupWindow = 2 * time.Second
	defaultHistoryDepth     = 20
	defaultRestartDelay     = time.Second
)

// defaultPrompts is the rotation spoken when the user stays silent.
var defaultPrompts = []string{
	"Are you still there?",
	"Is there anything else I can help you with?",
	"Just checking in. Did you want to continue?",
}

const defaultClosingMessage = "I'll stop listening for now. Just start me again when you need me."

// Config wires the controller's collaborators and tuning knobs. Source, Sink,
// STT, TTS, and Command are required; everything else has defaults.
type Config struct {
	// SessionID identifies the conversation for history persistence and
	// stateful command processors. Defaults to a fresh UUID per controller.
	SessionID string

	Source audio.Source
	Sink   audio.Sink

	// Stream is the capture format. Zero value promotes to
	// [audio.DefaultStreamConfig].
	Stream audio.StreamConfig

	STT stt.Provider

	// STTLanguage is the BCP-47 recognition language hint. Empty lets the
	// provider auto-detect.
	STTLanguage string

	TTS   tts.Provider
	Voice tts.VoiceProfile

	Command command.Processor

	// VADEngine is the preferred frame-level VAD engine. Nil selects the
	// energy fallback.
	VADEngine vadengine.Engine

	// History is the in-memory conversation log. Nil creates a default one.
	History *history.Log

	// Store optionally persists turns beyond the session. Store failures are
	// logged, never surfaced into turn-taking.
	Store history.Store

	// Metrics optionally records pipeline telemetry. Nil disables recording.
	Metrics *observe.Metrics

	// EchoSettleDelay is how long ASR stays muted after playback ends, to
	// drain residual echo already in flight. Default 800 ms, clamped to
	// [500 ms, 1500 ms].
	EchoSettleDelay time.Duration

	// SpeechEndThreshold is the sustained-silence duration that closes an
	// utterance. Default 1200 ms.
	SpeechEndThreshold time.Duration

	// MinSpeechDuration is the sustained-speech duration that opens an
	// utterance. Default 200 ms.
	MinSpeechDuration time.Duration

	// BargeInConfirmation is the sustained-speech duration that confirms an
	// interruption during playback. Default 300 ms.
	BargeInConfirmation time.Duration

	// BargeInCooldown suppresses barge-in detection after a detection or a
	// playback stop. Default 500 ms.
	BargeInCooldown time.Duration

	// BargeInKeywords short-circuit the confirmation delay when recognized in
	// a transcript during playback.
	BargeInKeywords []string

	// FinalDedupWindow is the idempotence window for duplicate final
	// transcripts. Default 2 s.
	FinalDedupWindow time.Duration

	// HistoryDepth is how many recent turns accompany each command request.
	// Default 20.
	HistoryDepth int

	// RestartDelay is the debounce before an automatic ASR or audio-stream
	// restart. Default 1 s.
	RestartDelay time.Duration

	// PromptDelay, SessionSilence, and MaxNoResponse tune the proactive
	// conversation manager; see [proactive.Config].
	PromptDelay    time.Duration
	SessionSilence time.Duration
	MaxNoResponse  int

	// Prompts is the proactive prompt rotation. Empty selects a built-in set.
	Prompts []string

	// ClosingMessage is spoken before a session-timeout stop. Empty selects a
	// built-in message.
	ClosingMessage string
}

// Callbacks is the host application's view into the pipeline. All callbacks
// are optional and are invoked from the controller loop (or, for OnLevel, the
// frame ingestion goroutine) — they must return quickly.
type Callbacks struct {
	OnStateChange       func(from, to State)
	OnPartialTranscript func(text string)
	OnFinalTranscript   func(text string)
	OnResponse          func(text string)
	OnBargeIn           func(ev bargein.Event)
	OnLevel             func(level float64)
	OnError             func(err error)
	OnSessionEnd        func(reason string)
}

// Controller is the pipeline orchestrator. Construct with [New], drive with
// Start/Stop, and release with Close.
type Controller struct {
	cfg Config
	cb  Callbacks

	events    chan event
	closed    chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state State
	muted bool
	asr   stt.SessionHandle

	vad    *vadet.Detector
	barge  *bargein.Detector
	pro    *proactive.Manager
	player *audio.Player
	hist   *history.Log

	asrRetrier   *resilience.Retrier
	audioRetrier *resilience.Retrier

	// Loop-owned session state. Touched only from the loop goroutine.
	sessionCtx        context.Context
	sessionCancel     context.CancelFunc
	turnCancel        context.CancelFunc
	asrGen            uint64
	audioGen          uint64
	playGen           uint64
	procGen           uint64
	echoGen           uint64
	stopAfterPlayback bool
	stopReason        string
	lastFinalNorm     string
	lastFinalAt       time.Time
	turnStartedAt     time.Time
	promptIdx         int
}

// New validates cfg, builds the detector stack, and starts the event loop.
// The controller begins in [StateIdle]; call [Controller.Start] to open a
// session and [Controller.Close] to release everything.
func New(cfg Config, cb Callbacks) (*Controller, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("pipeline: Source must not be nil")
	case cfg.Sink == nil:
		return nil, errors.New("pipeline: Sink must not be nil")
	case cfg.STT == nil:
		return nil, errors.New("pipeline: STT provider must not be nil")
	case cfg.TTS == nil:
		return nil, errors.New("pipeline: TTS provider must not be nil")
	case cfg.Command == nil:
		return nil, errors.New("pipeline: Command processor must not be nil")
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Stream.SampleRate == 0 {
		cfg.Stream = audio.DefaultStreamConfig()
	}
	if cfg.EchoSettleDelay == 0 {
		cfg.EchoSettleDelay = defaultEchoSettleDelay
	}
	if cfg.EchoSettleDelay < minEchoSettleDelay {
		cfg.EchoSettleDelay = minEchoSettleDelay
	}
	if cfg.EchoSettleDelay > maxEchoSettleDelay {
		cfg.EchoSettleDelay = maxEchoSettleDelay
	}
	if cfg.FinalDedupWindow <= 0 {
		cfg.FinalDedupWindow = defaultFinalDedupWindow
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = defaultPrompts
	}
	if cfg.ClosingMessage == "" {
		cfg.ClosingMessage = defaultClosingMessage
	}
	if cfg.History == nil {
		cfg.History = history.NewLog(0, 0)
	}

	c := &Controller{
		cfg:      cfg,
		cb:       cb,
		events:   make(chan event, 256),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    StateIdle,
		hist:     cfg.History,
		player:   audio.NewPlayer(cfg.Sink),
	}

	var err error
	c.vad, err = vadet.NewDetector(vadet.Config{
		Engine:             cfg.VADEngine,
		Stream:             cfg.Stream,
		MinSpeechDuration:  cfg.MinSpeechDuration,
		SpeechEndThreshold: cfg.SpeechEndThreshold,
		OnEvent:            func(ev vadet.Event) { c.post(event{kind: evVAD, vad: ev}) },
	})
	if err != nil {
		return nil, err
	}

	c.barge, err = bargein.NewDetector(bargein.Config{
		ConfirmationDelay: cfg.BargeInConfirmation,
		Cooldown:          cfg.BargeInCooldown,
		Keywords:          cfg.BargeInKeywords,
		OnEvent:           func(ev bargein.Event) { c.post(event{kind: evBargeIn, barge: ev}) },
	})
	if err != nil {
		return nil, err
	}

	c.pro, err = proactive.NewManager(proactive.Config{
		PromptDelay:    cfg.PromptDelay,
		SessionSilence: cfg.SessionSilence,
		MaxNoResponse:  cfg.MaxNoResponse,
		OnPrompt:       func(n int) { c.post(event{kind: evProactivePrompt, n: n}) },
		OnSessionTimeout: func() { c.post(event{kind: evSessionTimeout}) },
	})
	if err != nil {
		return nil, err
	}

	c.asrRetrier = resilience.NewRetrier(resilience.RetrierConfig{
		Name: "asr-restart", Delay: cfg.RestartDelay,
	})
	c.audioRetrier = resilience.NewRetrier(resilience.RetrierConfig{
		Name: "audio-restart", Delay: cfg.RestartDelay,
	})

	go c.loop()
	return c, nil
}

// Start requests a session start (idle → listening). A no-op in any other
// state.
func (c *Controller) Start() {
	c.post(event{kind: evStart})
}

// Stop requests an explicit session stop. Cancels in-flight recognition and
// synthesis, releases the audio device, and returns the pipeline to idle.
func (c *Controller) Stop() {
	c.post(event{kind: evStop, reason: "requested"})
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Muted reports whether the ASR input path is currently muted. VAD keeps
// running regardless.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// History returns the in-memory conversation log.
func (c *Controller) History() *history.Log {
	return c.hist
}

// Close stops any active session, terminates the event loop, and releases the
// detector stack. Safe to call multiple times.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.post(event{kind: evClose})
	})
	<-c.loopDone
	return nil
}

// post delivers an event to the loop without ever blocking the caller: frame
// ingestion and timer goroutines must not stall behind a busy loop.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	default:
		go func() {
			select {
			case c.events <- ev:
			case <-c.closed:
			}
		}()
	}
}

// ---- event loop ----

func (c *Controller) loop() {
	defer close(c.loopDone)
	for ev := range c.events {
		if ev.kind == evClose {
			c.stopSession("closed")
			close(c.closed)
			c.asrRetrier.Stop()
			c.audioRetrier.Stop()
			c.vad.Close()
			return
		}
		c.handle(ev)
	}
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evStart:
		c.startSession()
	case evStop:
		c.stopSession(ev.reason)
	case evVAD:
		c.handleVAD(ev.vad)
	case evBargeIn:
		c.handleBargeIn(ev.barge)
	case evPartial:
		c.handlePartial(ev.gen, ev.transcript)
	case evFinal:
		c.handleFinal(ev.gen, ev.transcript)
	case evASRClosed:
		c.handleASRClosed(ev.gen, ev.err)
	case evASRStarted:
		c.handleASRStarted(ev.asr)
	case evAudioClosed:
		c.handleAudioClosed(ev.gen)
	case evAudioStarted:
		c.handleAudioStarted(ev.frames)
	case evSpeak:
		c.handleSpeak(ev.gen, ev.audio)
	case evAssistantText:
		c.handleAssistantText(ev.gen, ev.text)
	case evPlaybackDone:
		c.handlePlaybackDone(ev.gen, ev.interrupted)
	case evEchoSettled:
		c.handleEchoSettled(ev.gen)
	case evProactivePrompt:
		c.handleProactivePrompt(ev.n)
	case evSessionTimeout:
		c.handleSessionTimeout()
	}
}

// setState performs a transition if the table allows it. Invalid moves are
// logged and refused.
func (c *Controller) setState(to State) bool {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		slog.Warn("pipeline: dropping invalid state transition", "from", from, "to", to)
		return false
	}
	c.state = to
	c.mu.Unlock()

	slog.Debug("pipeline state changed", "from", from, "to", to)
	c.cfg.Metrics.RecordStateChange(from.String(), to.String())
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(from, to)
	}
	return true
}

func (c *Controller) setMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// ---- session lifecycle ----

func (c *Controller) startSession() {
	if c.State() != StateIdle {
		slog.Warn("pipeline: start ignored, session already active", "state", c.State())
		return
	}

	c.sessionCtx, c.sessionCancel = context.WithCancel(context.Background())

	frames, err := c.cfg.Source.StartStream(c.sessionCtx, c.cfg.Stream)
	if err != nil {
		c.sessionCancel()
		c.reportError(err)
		return
	}

	if !c.setState(StateListening) {
		c.cfg.Source.Stop()
		c.sessionCancel()
		return
	}
	c.setMuted(false)
	c.stopAfterPlayback = false
	c.lastFinalNorm = ""
	c.lastFinalAt = time.Time{}
	c.cfg.Metrics.RecordSessionStart()

	c.audioGen++
	go c.ingest(frames, c.audioGen)

	c.openASR()

	c.pro.Start()
	c.pro.OnTurnSilence()
}

// stopSession tears the session down from any active state: cancels in-flight
// recognition, synthesis and playback, releases the audio device, and leaves
// the pipeline behaviorally identical to a fresh one.
func (c *Controller) stopSession(reason string) {
	state := c.State()
	if state == StateIdle || state == StateStopping {
		return
	}
	if !c.setState(StateStopping) {
		return
	}

	c.stopAfterPlayback = false
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.player.Stop()
	c.barge.Reset()
	c.pro.Stop()
	c.asrRetrier.Cancel()
	c.audioRetrier.Cancel()

	c.mu.Lock()
	asr := c.asr
	c.asr = nil
	c.mu.Unlock()
	if asr != nil {
		if err := asr.Close(); err != nil {
			slog.Debug("pipeline: asr close on stop", "err", err)
		}
	}
	// Invalidate all session-scoped goroutine generations so their final
	// events are discarded as stale.
	c.asrGen++
	c.audioGen++
	c.playGen++
	c.procGen++
	c.echoGen++

	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if err := c.cfg.Source.Stop(); err != nil {
		slog.Debug("pipeline: source stop", "err", err)
	}
	if err := c.cfg.Sink.Flush(); err != nil {
		slog.Debug("pipeline: sink flush on stop", "err", err)
	}

	c.vad.Reset()
	c.setMuted(false)
	c.lastFinalNorm = ""
	c.lastFinalAt = time.Time{}

	c.setState(StateIdle)
	c.cfg.Metrics.RecordSessionEnd(reason)
	if c.cb.OnSessionEnd != nil {
		c.cb.OnSessionEnd(reason)
	}
}

// ---- audio ingestion ----

// ingest is the single frame consumer: level metering, VAD, barge-in feed,
// and (unless muted) the ASR feed all happen synchronously per frame. When
// barge-in keywords are configured, frames keep flowing to the recognizer
// during playback so keyword transcripts can arrive; transcript routing keeps
// those results on the barge-in path.
func (c *Controller) ingest(frames <-chan audio.Frame, gen uint64) {
	meter := audio.NewLevelMeter(0.3)
	for frame := range frames {
		if c.cb.OnLevel != nil {
			c.cb.OnLevel(meter.Update(frame.PCM))
		} else {
			meter.Update(frame.PCM)
		}

		c.vad.ProcessFrame(frame)

		if c.State() == StateSpeaking {
			speech := c.vad.Classification() != vadet.Silence
			c.barge.ProcessVADResult(speech, frame.Duration())
		}

		feedASR := !c.Muted()
		if !feedASR && len(c.cfg.BargeInKeywords) > 0 && c.State() == StateSpeaking {
			feedASR = true
		}
		if feedASR {
			c.mu.Lock()
			asr := c.asr
			c.mu.Unlock()
			if asr != nil {
				if err := asr.SendAudio(frame.PCM); err != nil {
					// The read side reports the failure; don't spam per frame.
					slog.Debug("pipeline: asr send", "err", err)
				}
			}
		}
	}
	c.post(event{kind: evAudioClosed, gen: gen})
}

func (c *Controller) handleAudioClosed(gen uint64) {
	if gen != c.audioGen {
		return
	}
	state := c.State()
	if state == StateIdle || state == StateStopping {
		return
	}
	slog.Warn("pipeline: audio stream closed unexpectedly, re-acquiring device")
	c.audioRetrier.Schedule(c.sessionCtx, func(ctx context.Context) error {
		frames, err := c.cfg.Source.StartStream(ctx, c.cfg.Stream)
		if err != nil {
			return err
		}
		c.post(event{kind: evAudioStarted, frames: frames})
		return nil
	})
}

func (c *Controller) handleAudioStarted(frames <-chan audio.Frame) {
	state := c.State()
	if state == StateIdle || state == StateStopping {
		go audio.Drain(frames)
		c.cfg.Source.Stop()
		return
	}
	c.audioGen++
	go c.ingest(frames, c.audioGen)
}

// ---- ASR lifecycle ----

func (c *Controller) sttConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate: c.cfg.Stream.SampleRate,
		Channels:   c.cfg.Stream.Channels,
		Language:   c.cfg.STTLanguage,
	}
}

// openASR starts the first recognition session of a pipeline session. A
// failure is not fatal: the restart path takes over.
func (c *Controller) openASR() {
	h, err := c.cfg.STT.StartStream(c.sessionCtx, c.sttConfig())
	if err != nil {
		slog.Warn("pipeline: asr session start failed, scheduling retry", "err", err)
		c.scheduleASRRestart()
		return
	}
	c.adoptASR(h)
}

// adoptASR installs a recognition session and spawns its transcript reader.
func (c *Controller) adoptASR(h stt.SessionHandle) {
	c.mu.Lock()
	old := c.asr
	c.asr = h
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.asrGen++
	go c.readTranscripts(h, c.asrGen)
}

// readTranscripts pumps one session's partial and final channels into the
// event loop until the session ends.
func (c *Controller) readTranscripts(h stt.SessionHandle, gen uint64) {
	partials := h.Partials()
	finals := h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.post(event{kind: evPartial, gen: gen, transcript: t})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.post(event{kind: evFinal, gen: gen, transcript: t})
		}
	}
	c.post(event{kind: evASRClosed, gen: gen, err: h.Err()})
}

func (c *Controller) handleASRClosed(gen uint64, err error) {
	if gen != c.asrGen {
		return
	}
	state := c.State()
	if state == StateIdle || state == StateStopping {
		return
	}
	if err != nil {
		slog.Warn("pipeline: asr stream terminated", "err", err)
	} else {
		slog.Warn("pipeline: asr stream closed unexpectedly")
	}
	c.mu.Lock()
	c.asr = nil
	c.mu.Unlock()
	c.scheduleASRRestart()
}

// scheduleASRRestart arms the debounced restart. The retrier guarantees at
// most one restart in flight, so a recurring error cannot cause a storm.
func (c *Controller) scheduleASRRestart() {
	scheduled := c.asrRetrier.Schedule(c.sessionCtx, func(ctx context.Context) error {
		h, err := c.cfg.STT.StartStream(ctx, c.sttConfig())
		if err != nil {
			return err
		}
		c.post(event{kind: evASRStarted, asr: h})
		return nil
	})
	if scheduled {
		c.cfg.Metrics.RecordASRRestart()
	}
}

func (c *Controller) handleASRStarted(h stt.SessionHandle) {
	state := c.State()
	if state == StateIdle || state == StateStopping {
		h.Close()
		return
	}
	c.adoptASR(h)
}

// ---- VAD and barge-in ----

func (c *Controller) handleVAD(ev vadet.Event) {
	switch ev.Kind {
	case vadet.SpeechStart:
		c.pro.OnUserActivity()
	case vadet.SpeechEnd:
		slog.Debug("pipeline: utterance ended", "duration", ev.SpeechDuration)
	case vadet.SilenceTimeout:
		// Proactive timing is driven by the manager's own timers.
	}
}

func (c *Controller) handleBargeIn(ev bargein.Event) {
	if c.cb.OnBargeIn != nil {
		c.cb.OnBargeIn(ev)
	}
	switch ev.Kind {
	case bargein.Cancelled:
		slog.Debug("pipeline: barge-in burst cancelled", "duration", ev.SpeechDuration)
		return
	case bargein.Detected, bargein.KeywordDetected:
	}
	if c.State() != StateSpeaking {
		slog.Warn("pipeline: dropping barge-in outside playback", "kind", ev.Kind, "state", c.State())
		return
	}

	slog.Info("pipeline: barge-in confirmed, interrupting playback", "kind", ev.Kind, "keyword", ev.Keyword)
	c.cfg.Metrics.RecordBargeIn(ev.Kind.String())

	// Abandon the in-flight response and stop playback within this tick.
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.player.Stop()
	c.playGen++ // the pending playback-done event is now stale
	c.barge.NotifyTTSStopped()

	if c.setState(StateListening) {
		// Barge-in un-mutes immediately: the user is already talking and must
		// not lose the start of their utterance to an echo-settle wait.
		c.echoGen++
		c.setMuted(false)
		c.pro.OnUserActivity()
	}
}

// ---- transcripts ----

func (c *Controller) handlePartial(gen uint64, t stt.Transcript) {
	if gen != c.asrGen {
		return
	}
	c.cfg.Metrics.RecordTranscript(false)
	switch c.State() {
	case StateSpeaking:
		c.barge.ProcessTranscript(t.Text)
	case StateListening:
		if c.cb.OnPartialTranscript != nil {
			c.cb.OnPartialTranscript(t.Text)
		}
	}
}

func (c *Controller) handleFinal(gen uint64, t stt.Transcript) {
	if gen != c.asrGen {
		return
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	if c.State() == StateSpeaking {
		c.barge.ProcessTranscript(text)
		return
	}
	if c.State() != StateListening {
		slog.Debug("pipeline: dropping final transcript", "state", c.State())
		return
	}

	// Duplicate finals inside the window are idempotent: one command
	// invocation, one history entry.
	norm := normalizeTranscript(text)
	now := time.Now()
	if norm == c.lastFinalNorm && now.Sub(c.lastFinalAt) < c.cfg.FinalDedupWindow {
		slog.Debug("pipeline: dropping duplicate final transcript", "text", text)
		return
	}
	c.lastFinalNorm = norm
	c.lastFinalAt = now

	c.cfg.Metrics.RecordTranscript(true)
	if c.cb.OnFinalTranscript != nil {
		c.cb.OnFinalTranscript(text)
	}
	c.pro.OnUserActivity()

	// Context snapshot excludes the utterance itself.
	msgs := c.historyMessages()

	turn := history.NewTurn(history.RoleUser, text)
	if !c.hist.Append(turn) {
		slog.Debug("pipeline: history rejected echoed user turn", "text", text)
		return
	}
	c.persist(turn)

	if !c.setState(StateProcessing) {
		return
	}
	c.setMuted(true)
	c.turnStartedAt = now
	c.beginTurn(command.Request{
		SessionID: c.cfg.SessionID,
		Text:      text,
		History:   msgs,
	})
}

func normalizeTranscript(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (c *Controller) historyMessages() []command.Message {
	turns := c.hist.Recent(c.cfg.HistoryDepth)
	msgs := make([]command.Message, 0, len(turns))
	for _, t := range turns {
		var role string
		switch t.Role {
		case history.RoleUser:
			role = command.RoleUser
		case history.RoleAssistant:
			role = command.RoleAssistant
		default:
			role = command.RoleSystem
		}
		msgs = append(msgs, command.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// persist writes a turn to the external store without blocking the loop.
func (c *Controller) persist(turn history.Turn) {
	if c.cfg.Store == nil {
		return
	}
	ctx := c.sessionCtx
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.cfg.Store.Append(pctx, c.cfg.SessionID, turn); err != nil {
			slog.Warn("pipeline: history persistence failed", "err", err)
		}
	}()
}

// ---- turn processing and playback ----

// beginTurn hands the utterance to the command processor and pipes response
// fragments straight into synthesis. Runs in its own goroutine; the loop
// learns the outcome via evSpeak and evAssistantText.
func (c *Controller) beginTurn(req command.Request) {
	c.procGen++
	gen := c.procGen
	ctx, cancel := context.WithCancel(c.sessionCtx)
	c.turnCancel = cancel

	go func() {
		stream, err := c.cfg.Command.Process(ctx, req)
		if err != nil {
			c.reportError(err)
			c.post(event{kind: evSpeak, gen: gen, audio: nil})
			c.post(event{kind: evAssistantText, gen: gen, text: ""})
			return
		}

		ttsIn := make(chan string, 16)
		audioCh, synthErr := c.cfg.TTS.SynthesizeStream(ctx, ttsIn, c.cfg.Voice)
		if synthErr != nil {
			// Playback failure must not wedge turn-taking: proceed as if the
			// response had already been played.
			slog.Warn("pipeline: synthesis start failed, skipping playback", "err", synthErr)
			audioCh = nil
		}

		go func() {
			defer close(ttsIn)
			var b strings.Builder
			for frag := range stream {
				b.WriteString(frag)
				if audioCh != nil {
					select {
					case ttsIn <- frag:
					case <-ctx.Done():
						// Keep draining; the processor closes the stream on
						// cancellation.
					}
				}
			}
			c.post(event{kind: evAssistantText, gen: gen, text: b.String()})
		}()

		c.post(event{kind: evSpeak, gen: gen, audio: audioCh})
	}()
}

func (c *Controller) handleSpeak(gen uint64, audioCh <-chan []byte) {
	if gen != c.procGen {
		if audioCh != nil {
			go audio.Drain(audioCh)
		}
		return
	}
	if c.State() != StateProcessing {
		if audioCh != nil {
			go audio.Drain(audioCh)
		}
		return
	}
	if !c.setState(StateSpeaking) {
		return
	}
	if !c.turnStartedAt.IsZero() {
		c.cfg.Metrics.RecordTurnLatency(time.Since(c.turnStartedAt))
		c.turnStartedAt = time.Time{}
	}

	c.barge.NotifyTTSStarted()
	c.playGen++
	playGen := c.playGen

	if audioCh == nil {
		// Nothing to play (synthesis failed or empty response); complete the
		// turn through the normal path.
		c.handlePlaybackDone(playGen, false)
		return
	}
	c.player.Play(c.sessionCtx, audioCh, func(interrupted bool) {
		c.post(event{kind: evPlaybackDone, gen: playGen, interrupted: interrupted})
	})
}

func (c *Controller) handleAssistantText(gen uint64, text string) {
	if gen != c.procGen {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("pipeline: turn produced no response text")
		return
	}
	turn := history.NewTurn(history.RoleAssistant, text)
	if c.hist.Append(turn) {
		c.persist(turn)
	}
	if c.cb.OnResponse != nil {
		c.cb.OnResponse(text)
	}
}

func (c *Controller) handlePlaybackDone(gen uint64, interrupted bool) {
	if gen != c.playGen {
		return
	}
	if c.State() != StateSpeaking {
		return
	}

	c.barge.NotifyTTSStopped()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}

	if c.stopAfterPlayback {
		c.stopAfterPlayback = false
		c.stopSession(c.stopReason)
		return
	}

	if !c.setState(StateListening) {
		return
	}

	// Stay muted through the echo-settle window so residual playback audio
	// already in flight never reaches ASR. VAD keeps running.
	c.echoGen++
	echoGen := c.echoGen
	time.AfterFunc(c.cfg.EchoSettleDelay, func() {
		c.post(event{kind: evEchoSettled, gen: echoGen})
	})

	if interrupted {
		slog.Debug("pipeline: playback interrupted")
	}
	c.pro.OnTurnSilence()
}

func (c *Controller) handleEchoSettled(gen uint64) {
	if gen != c.echoGen {
		return
	}
	if c.State() == StateListening {
		c.setMuted(false)
	}
}

// ---- proactive conversation ----

func (c *Controller) handleProactivePrompt(n int) {
	if c.State() != StateListening {
		slog.Debug("pipeline: skipping proactive prompt", "state", c.State())
		return
	}
	prompt := c.cfg.Prompts[c.promptIdx%len(c.cfg.Prompts)]
	c.promptIdx++
	slog.Info("pipeline: speaking proactive prompt", "attempt", n, "text", prompt)

	if !c.setState(StateProcessing) {
		return
	}
	c.setMuted(true)
	c.speakText(prompt)
}

func (c *Controller) handleSessionTimeout() {
	slog.Info("pipeline: session timed out")
	if c.State() == StateListening && c.cfg.ClosingMessage != "" {
		c.stopAfterPlayback = true
		c.stopReason = "session-timeout"
		if c.setState(StateProcessing) {
			c.setMuted(true)
			c.speakText(c.cfg.ClosingMessage)
			return
		}
		c.stopAfterPlayback = false
	}
	c.stopSession("session-timeout")
}

// speakText synthesizes a fixed utterance (proactive prompt or closing
// message) outside the command-processor path.
func (c *Controller) speakText(text string) {
	c.procGen++
	gen := c.procGen
	ctx, cancel := context.WithCancel(c.sessionCtx)
	c.turnCancel = cancel

	go func() {
		audioCh, err := tts.SynthesizeText(ctx, c.cfg.TTS, text, c.cfg.Voice)
		if err != nil {
			slog.Warn("pipeline: prompt synthesis failed, skipping playback", "err", err)
			audioCh = nil
		}
		c.post(event{kind: evSpeak, gen: gen, audio: audioCh})
		c.post(event{kind: evAssistantText, gen: gen, text: text})
	}()
}

func (c *Controller) reportError(err error) {
	slog.Error("pipeline error", "err", err)
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
