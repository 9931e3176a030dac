// Package session runs one relay conversation. A session ties one client
// connection to its transcription and synthesis upstreams, its completion
// orchestrator and its turn coordinator, and serializes every event that
// touches them on a single goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/stt"
	"ai-voice-relay-service/internal/service/tts"
	"ai-voice-relay-service/internal/service/turn"
	"ai-voice-relay-service/internal/store"
	"ai-voice-relay-service/internal/upstream"
)

var (
	// ErrUnknownAssistant ends a session whose assistant cannot be resolved.
	ErrUnknownAssistant = errors.New("unknown assistant")
	// ErrStopped is returned by Run when the client stopped the stream.
	ErrStopped = errors.New("stream stopped by client")
)

// Outbound delivers server messages to the client. Send must not block.
type Outbound interface {
	Send(msg protocol.ServerMessage) bool
}

// Recorder persists conversation records without blocking.
type Recorder interface {
	Transcript(line models.TranscriptLine)
	CallStatus(status models.CallStatus)
}

// Transferer hands a live telephony call to a human.
type Transferer interface {
	Transfer(ctx context.Context, callSID string) error
}

// Directory is told about each session once its assistant is known.
type Directory interface {
	Describe(info store.SessionInfo)
}

// Deps are shared by every session of a process.
type Deps struct {
	Config    *config.Configuration
	Agents    store.AgentStore
	Recorder  Recorder
	Providers *Providers
	// Transferer and Directory are optional.
	Transferer Transferer
	Directory  Directory
}

// Session is one conversation. Only Deliver and Done may be called from
// other goroutines.
type Session struct {
	id        string
	deps      Deps
	out       Outbound
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	createdAt time.Time

	inbound chan protocol.ClientFrame
	done    chan struct{}

	// Owned by the Run goroutine.
	agent      models.AgentConfig
	userId     string
	callSid    string
	streamSid  string
	telephony  bool
	started    bool
	readySent  bool
	endReason  string
	sttSup     *upstream.Supervisor
	ttsSup     *upstream.Supervisor
	sttAdapter *stt.Adapter
	synth      *tts.Synthesizer
	coord      *turn.Coordinator
	seq        *audio.Sequencer
	turnCancel context.CancelFunc
	aux        sync.WaitGroup
}

// New creates a session that has not started running.
func New(id string, deps Deps, out Outbound, logger zerolog.Logger) *Session {
	return &Session{
		id:        id,
		deps:      deps,
		out:       out,
		logger:    logger.With().Str("sessionId", id).Logger(),
		metrics:   metrics.DefaultMetrics,
		createdAt: time.Now(),
		inbound:   make(chan protocol.ClientFrame, 64),
		done:      make(chan struct{}),
		seq:       audio.NewSequencer(),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once Run has returned and the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver hands a decoded client frame to the session. It blocks while the
// session is busy and returns false once the session has ended.
func (s *Session) Deliver(f protocol.ClientFrame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbound <- f:
		return true
	case <-s.done:
		return false
	}
}

// Run processes events until ctx is canceled, the client stops the stream,
// the assistant ends the call, or the session fails to start. Both upstreams
// are closed before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)
	defer s.teardown()

	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")

	for {
		select {
		case <-ctx.Done():
			if s.endReason == "" {
				s.endReason = "client_closed"
			}
			return nil
		case f := <-s.inbound:
			if err := s.handleFrame(ctx, f); err != nil {
				return err
			}
		case ev, ok := <-events(s.sttSup):
			if !ok {
				s.sttSup = nil
				continue
			}
			s.handleTranscription(ev)
		case ev, ok := <-events(s.ttsSup):
			if !ok {
				s.ttsSup = nil
				continue
			}
			s.handleSynthesis(ev)
		case ev := <-s.coordEvents():
			s.coord.Handle(ev)
		}

		if s.endReason != "" {
			return nil
		}
	}
}

func events(sup *upstream.Supervisor) <-chan upstream.Event {
	if sup == nil {
		return nil
	}
	return sup.Events()
}

func (s *Session) coordEvents() <-chan turn.Event {
	if s.coord == nil {
		return nil
	}
	return s.coord.Events()
}

func (s *Session) handleFrame(ctx context.Context, f protocol.ClientFrame) error {
	switch f := f.(type) {
	case protocol.Connected:
		if s.started {
			s.logger.Debug().Msg("Ignoring repeated connected frame")
			return nil
		}
		if f.AssistantID == "" {
			if f.Protocol != "" {
				// Telephony streams name their assistant in the start frame.
				s.telephony = true
				return nil
			}
			s.metrics.RecordFrameRejected("missing_assistant")
			s.send(protocol.NewError("assistantId is required"))
			return nil
		}
		return s.start(ctx, f.AssistantID, f.UserID)

	case protocol.Start:
		if s.started {
			return nil
		}
		s.telephony = true
		s.streamSid = f.StreamSID
		s.callSid = f.CallSID
		assistantId := f.AssistantID
		if assistantId == "" {
			assistantId = s.deps.Config.Gateway.DefaultAssistantID
		}
		if assistantId == "" {
			s.logger.Error().Str("callSid", f.CallSID).Msg("Telephony stream without assistant")
			s.endReason = "missing_assistant"
			return fmt.Errorf("%w: stream %s names no assistant", ErrUnknownAssistant, f.StreamSID)
		}
		return s.start(ctx, assistantId, f.UserID)

	case protocol.Media:
		if !s.started {
			s.metrics.RecordFrameRejected("not_started")
			return nil
		}
		if f.Track != "" && f.Track != "inbound" {
			return nil
		}
		data, err := audio.DecodePayload(f.Payload)
		if err != nil {
			s.metrics.RecordFrameRejected("bad_audio")
			s.logger.Debug().Err(err).Msg("Dropping media frame")
			return nil
		}
		s.sttAdapter.SendAudio(s.seq.Next(data))

	case protocol.TextInput:
		if !s.started {
			s.metrics.RecordFrameRejected("not_started")
			s.send(protocol.NewError("session not started"))
			return nil
		}
		s.coord.HandleUtterance(f.Text, turn.SourceText)

	case protocol.Ping:
		s.send(protocol.NewPong())

	case protocol.Stop:
		s.logger.Info().Str("streamSid", f.StreamSID).Msg("Client stopped the stream")
		s.endReason = "stream_stopped"
		return ErrStopped
	}
	return nil
}

// start resolves the assistant and opens both upstreams.
func (s *Session) start(ctx context.Context, assistantId, userId string) error {
	agent, err := s.deps.Agents.GetAgent(ctx, assistantId)
	if err != nil {
		s.endReason = "agent_lookup_failed"
		if errors.Is(err, store.ErrAgentNotFound) {
			s.send(protocol.NewError("unknown assistant: " + assistantId))
			return fmt.Errorf("%w: %s", ErrUnknownAssistant, assistantId)
		}
		s.send(protocol.NewError("assistant lookup failed"))
		return fmt.Errorf("resolve assistant %s: %w", assistantId, err)
	}
	if agent.ID == "" {
		agent.ID = assistantId
	}

	sttDialer, decoder, sttPolicy, err := s.deps.Providers.Transcription()
	if err != nil {
		s.endReason = "fatal_config"
		s.send(protocol.NewError("transcription is misconfigured"))
		return fmt.Errorf("transcription upstream: %w", err)
	}
	ttsDialer, ttsPolicy, err := s.deps.Providers.Synthesis(agent.VoiceID)
	if err != nil {
		s.endReason = "fatal_config"
		s.send(protocol.NewError("synthesis is misconfigured"))
		return fmt.Errorf("synthesis upstream: %w", err)
	}

	s.agent = agent
	s.userId = userId
	s.started = true
	s.logger = s.logger.With().Str("assistantId", agent.ID).Logger()

	cfg := s.deps.Config
	sttLogger := s.logger.With().Str("upstream", "stt").Str("provider", cfg.STT.Provider).Logger()
	ttsLogger := s.logger.With().Str("upstream", "tts").Str("provider", cfg.TTS.Provider).Logger()

	s.sttSup = upstream.NewSupervisor("stt", sttDialer, sttPolicy, sttLogger)
	s.ttsSup = upstream.NewSupervisor("tts", ttsDialer, ttsPolicy, ttsLogger)
	s.sttAdapter = stt.NewAdapter(s.id, cfg.STT.Provider, s.sttSup, decoder, sttLogger)
	s.synth = tts.NewSynthesizer(s.id, cfg.TTS.Provider, s.ttsSup, agent.FirstMessage, ttsLogger)

	var turnCtx context.Context
	turnCtx, s.turnCancel = context.WithCancel(ctx)
	s.coord = turn.NewCoordinator(turnCtx, agent, s.deps.Providers.Orchestrator(s.logger), speaker{s}, s, turn.Options{
		BargeIn:      turn.ParseBargeIn(cfg.Turn.BargeIn),
		MaxPending:   cfg.Turn.MaxPending,
		HistoryLimit: cfg.Turn.HistoryLimit,
		SpeakTimeout: cfg.Turn.SpeakTimeout,
		EndCallGrace: cfg.Turn.EndCallGrace,
	}, s.logger)
	if err := s.coord.Start(); err != nil {
		return fmt.Errorf("start turn coordinator: %w", err)
	}

	s.sttSup.Open(ctx)
	s.ttsSup.Open(ctx)

	s.send(protocol.NewConnectionEstablished(agent.Name, agent.FirstMessage))
	s.status(models.CallStatusInProgress, "")
	if s.deps.Directory != nil {
		s.deps.Directory.Describe(store.SessionInfo{
			ID:          s.id,
			AssistantID: agent.ID,
			UserID:      userId,
			CallSID:     s.callSid,
			StreamSID:   s.streamSid,
			StartedAt:   s.createdAt,
		})
	}

	s.logger.Info().
		Str("userId", userId).
		Bool("telephony", s.telephony).
		Msg("Conversation started")
	return nil
}

func (s *Session) handleTranscription(ev upstream.Event) {
	for _, u := range s.sttAdapter.Handle(ev) {
		switch u.Kind {
		case stt.UpdateInterim:
			s.send(protocol.NewTranscript(u.Transcript.Text, false, u.Transcript.Confidence))
		case stt.UpdateUtterance:
			s.send(protocol.NewTranscript(u.Transcript.Text, true, u.Transcript.Confidence))
			s.coord.HandleUtterance(u.Transcript.Text, turn.SourceSpeech)
		case stt.UpdateAvailability:
			s.availabilityChanged()
		case stt.UpdateSpeechStarted:
			s.logger.Debug().Str("turnState", s.coord.State().String()).Msg("Caller started speaking")
		}
	}
}

func (s *Session) handleSynthesis(ev upstream.Event) {
	for _, u := range s.synth.Handle(ev) {
		switch u.Kind {
		case tts.UpdateAudio:
			s.metrics.RecordAudioChunkOut()
			payload := audio.EncodePayload(u.Audio)
			if s.telephony {
				s.send(protocol.NewTelephonyMedia(s.streamSid, payload))
			} else {
				s.send(protocol.NewAudioResponse(payload, s.deps.Config.TTS.Encoding, s.deps.Config.TTS.SampleRateHz))
			}
		case tts.UpdateFlushSent:
			s.coord.HandleFlushSent(u.Tag)
		case tts.UpdateAvailability:
			s.availabilityChanged()
			if u.Available {
				s.coord.HandleSynthesisAvailable()
			}
		case tts.UpdateGreeting:
			s.coord.SpeakGreeting(u.Text)
		case tts.UpdateFlushed:
			s.logger.Debug().Msg("Synthesis flushed")
		}
	}
}

// availabilityChanged reports upstream availability and sends ready the
// first time both upstreams are connected.
func (s *Session) availabilityChanged() {
	sttUp, ttsUp := s.sttAdapter.Available(), s.synth.Available()
	if !s.readySent && sttUp && ttsUp {
		s.readySent = true
		s.send(protocol.NewReady())
		s.logger.Info().Dur("sinceStart", time.Since(s.createdAt)).Msg("Session ready")
		return
	}
	if s.readySent {
		s.send(protocol.NewStatus(sttUp, ttsUp, s.coord.State().String()))
	}
}

// send applies the dialect of the connection. Telephony streams only accept
// media and clear events.
func (s *Session) send(msg protocol.ServerMessage) {
	if s.telephony {
		switch msg.(type) {
		case protocol.TelephonyMedia, protocol.TelephonyClear:
		default:
			return
		}
	}
	if !s.out.Send(msg) {
		s.metrics.RecordOutboundDropped(msg.MessageType())
	}
}

func (s *Session) status(status, reason string) {
	st := models.CallStatus{
		SessionID:   s.id,
		CallSID:     s.callSid,
		AssistantID: s.agent.ID,
		UserID:      s.userId,
		Status:      status,
		Reason:      reason,
	}
	if status == models.CallStatusCompleted {
		st.DurationSec = int(time.Since(s.createdAt).Seconds())
	}
	s.deps.Recorder.CallStatus(st)
}

// AIResponse implements turn.Sink.
func (s *Session) AIResponse(text string) {
	s.send(protocol.NewAIResponse(text))
}

// Record implements turn.Sink.
func (s *Session) Record(role models.Role, text string) {
	s.deps.Recorder.Transcript(models.TranscriptLine{
		SessionID:   s.id,
		CallSID:     s.callSid,
		AssistantID: s.agent.ID,
		UserID:      s.userId,
		Role:        role,
		Text:        text,
	})
}

// TransferRequested implements turn.Sink.
func (s *Session) TransferRequested() {
	s.status(models.CallStatusTransferred, "assistant_transfer")
	if !s.telephony || s.callSid == "" || s.deps.Transferer == nil {
		s.logger.Info().Msg("Transfer requested, no live call to transfer")
		return
	}
	callSid := s.callSid
	s.aux.Add(1)
	go func() {
		defer s.aux.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Transferer.Transfer(ctx, callSid); err != nil {
			s.logger.Error().Err(err).Str("callSid", callSid).Msg("Call transfer failed")
		}
	}()
}

// EndCall implements turn.Sink.
func (s *Session) EndCall() {
	s.logger.Info().Msg("Assistant ended the call")
	s.endReason = "assistant_end_call"
}

// teardown stops the coordinator, then closes both upstreams and waits for
// them to reach DISCONNECTED.
func (s *Session) teardown() {
	if s.coord != nil {
		s.turnCancel()
		s.coord.Close()
	}

	var wg sync.WaitGroup
	for _, sup := range []*upstream.Supervisor{s.sttSup, s.ttsSup} {
		if sup == nil {
			continue
		}
		wg.Add(1)
		go func(sup *upstream.Supervisor) {
			defer wg.Done()
			sup.Close()
		}(sup)
	}
	wg.Wait()
	s.aux.Wait()

	if s.endReason == "" {
		s.endReason = "closed"
	}
	if s.started {
		s.status(models.CallStatusCompleted, s.endReason)
	}
	s.metrics.RecordSessionEnd(time.Since(s.createdAt).Seconds())
	s.logger.Info().
		Str("reason", s.endReason).
		Uint64("framesIn", s.seq.Frames()).
		Dur("duration", time.Since(s.createdAt)).
		Msg("Session ended")
}

// speaker clears buffered telephony playback along with queued synthesis.
type speaker struct {
	s *Session
}

func (sp speaker) Speak(text string) (string, error) {
	return sp.s.synth.Speak(text)
}

func (sp speaker) Clear() bool {
	if sp.s.telephony && sp.s.streamSid != "" {
		sp.s.send(protocol.NewTelephonyClear(sp.s.streamSid))
	}
	return sp.s.synth.Clear()
}
