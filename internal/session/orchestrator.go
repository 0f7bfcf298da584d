// Package session is the per-connection orchestrator: it routes each input
// to a command or a generation, streams the generation through sentence
// segmentation and synthesis, and unwinds everything on interrupt.
package session

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/access"
	"github.com/normanking/cortexvoice/internal/actions"
	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/domain"
	"github.com/normanking/cortexvoice/internal/history"
	"github.com/normanking/cortexvoice/internal/llm"
	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/stt"
	"github.com/normanking/cortexvoice/internal/tts"
)

// Generator streams model output.
type Generator interface {
	Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.Delta, error)
}

// Synthesizer turns one sentence into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *stt.TranscribeRequest) (*stt.TranscribeResponse, error)
}

// Resolver classifies text as a command or conversation.
type Resolver interface {
	Resolve(ctx context.Context, text string) (command.Command, command.Source)
}

// Dispatcher executes commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) actions.Outcome
}

// Vision supplies identity and emotion context.
type Vision interface {
	CurrentIdentity(ctx context.Context) (*access.Identity, error)
	EmotionContext(ctx context.Context) string
	SetEnabled(ctx context.Context, enabled bool) error
}

// Deps are the orchestrator's collaborators. Transcriber, Router, Vision,
// History and Filter may be nil.
type Deps struct {
	Generator   Generator
	Synthesizer Synthesizer
	Transcriber Transcriber
	Resolver    Resolver
	Dispatcher  Dispatcher
	Router      *domain.Router
	Vision      Vision
	History     history.Recorder
	Filter      *speech.TranscriptFilter
}

// Config is the per-session snapshot of configuration.
type Config struct {
	SystemPrompt string
	GuestPrompt  string
	OwnerProfile string

	Model       string
	Temperature float64
	MaxTokens   int
	Voice       string
	TTSProvider string
	Speed       float64
	Language    string

	VisionEnabled bool
	DomainRouting bool
	Access        access.Policy

	// SearchHandoff lets the model hand a turn over to web search.
	SearchHandoff        bool
	SearchHandoffLimit   int
	MaxTranscript        int
	SynthesisConcurrency int
}

// ConfigFrom builds a session Config. Search hand-off is off when
// search_web is among the disabled kinds.
func ConfigFrom(cfg *config.Config, disabled []command.Kind) Config {
	handoff := true
	for _, k := range disabled {
		if k == command.SearchWeb {
			handoff = false
		}
	}
	return Config{
		SystemPrompt:         cfg.Session.SystemPrompt,
		GuestPrompt:          cfg.Session.GuestPrompt,
		OwnerProfile:         cfg.Session.OwnerProfile,
		Model:                cfg.LLM.Model,
		Temperature:          cfg.LLM.Temperature,
		MaxTokens:            cfg.LLM.MaxTokens,
		Voice:                cfg.TTS.Voice,
		TTSProvider:          cfg.TTS.Provider,
		Speed:                cfg.TTS.Speed,
		Language:             cfg.STT.Language,
		VisionEnabled:        cfg.Vision.Enabled,
		DomainRouting:        cfg.Router.Enabled,
		Access:               access.Policy{RequireIdentity: cfg.Access.RequireIdentity},
		SearchHandoff:        handoff,
		SearchHandoffLimit:   cfg.Session.SearchHandoffLimit,
		MaxTranscript:        cfg.Session.MaxTranscript,
		SynthesisConcurrency: cfg.Session.SynthesisConcurrency,
	}
}

// Turn outcomes, used as metric labels.
const (
	outcomeComplete    = "complete"
	outcomeInterrupted = "interrupted"
	outcomeError       = "error"
	outcomeDenied      = "denied"
	outcomeCommand     = "command"
	outcomeHandoff     = "handoff"
	outcomeEmpty       = "empty"
	outcomeSpoken      = "spoken"
)

const sourceHandoff = "handoff"

// turn is one unit of work started by a text, audio or speak message.
// Fields below done are written only by the turn's goroutine.
type turn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time

	// interrupted is guarded by Orchestrator.mu.
	interrupted bool

	user      string
	assistant string
	command   string
	domain    domain.ID
	model     string
	access    access.Mode
}

// Orchestrator owns one Session. Handle must be called from a single
// goroutine, normally the connection's read loop.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	sess   *Session
	active *turn

	wg sync.WaitGroup
}

// New creates an orchestrator with a fresh session.
func New(cfg Config, deps Deps, sink Sink, logger zerolog.Logger) *Orchestrator {
	if cfg.SynthesisConcurrency <= 0 {
		cfg.SynthesisConcurrency = 2
	}
	if cfg.SearchHandoffLimit <= 0 {
		cfg.SearchHandoffLimit = 150
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if deps.History == nil {
		deps.History = history.Nop{}
	}

	id := uuid.NewString()
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		sink:   sink,
		logger: logger.With().Str("component", "session").Str("session", id).Logger(),
		now:    time.Now,
		sess: &Session{
			ID:            id,
			State:         StateIdle,
			Model:         cfg.Model,
			Voice:         cfg.Voice,
			Provider:      cfg.TTSProvider,
			Speed:         cfg.Speed,
			Access:        access.Full,
			VisionEnabled: cfg.VisionEnabled,
			DomainRouting: cfg.DomainRouting,
			maxTranscript: cfg.MaxTranscript,
		},
	}
}

// ID returns the session id.
func (o *Orchestrator) ID() string {
	return o.sess.ID
}

// Snapshot returns a copy of the session state.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := *o.sess
	s.Transcript = append([]Entry(nil), o.sess.Transcript...)
	return s
}

// Handle processes one inbound message. Turns run in the background; a new
// turn interrupts the active one first.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound) {
	switch in.Type {
	case TypeText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			o.sendError("", CodeBadRequest, "text message is empty")
			return
		}
		o.startTurn(ctx, text, func(t *turn) string { return o.runText(t, text) })

	case TypeAudio:
		audio, err := base64.StdEncoding.DecodeString(in.Audio)
		if err != nil || len(audio) == 0 {
			o.sendError("", CodeBadAudio, "audio is empty or not valid base64")
			return
		}
		req := &stt.TranscribeRequest{
			Audio:      audio,
			Format:     in.Format,
			SampleRate: in.SampleRate,
			Language:   o.cfg.Language,
		}
		o.startTurn(ctx, "", func(t *turn) string { return o.runAudio(t, req) })

	case TypeSpeak:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			o.sendError("", CodeBadRequest, "speak message is empty")
			return
		}
		o.startTurn(ctx, "", func(t *turn) string {
			if !o.speak(t, text, "") {
				return outcomeInterrupted
			}
			return outcomeSpoken
		})

	case TypeInterrupt:
		o.Interrupt()

	case TypeSettings:
		o.applySettings(ctx, in.Settings)

	case TypeClearHistory:
		o.mu.Lock()
		o.sess.Transcript = nil
		o.sink(Message{Type: TypeHistoryCleared})
		o.mu.Unlock()

	default:
		o.sendError("", CodeBadRequest, "unknown message type "+in.Type)
	}
}

// Interrupt cancels the active turn, acknowledges it and waits for the turn
// to unwind. It does nothing when idle.
func (o *Orchestrator) Interrupt() {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return
	}
	t.interrupted = true
	t.cancel()
	o.active = nil
	o.sess.Interrupted = true
	o.sess.Generating = false
	o.sess.State = StateIdle
	o.sink(Message{Type: TypeInterrupted, TurnID: t.id})
	o.sink(Message{Type: TypeStatus, TurnID: t.id, Status: StatusIdle})
	o.mu.Unlock()

	metrics.Interrupts.Inc()
	o.logger.Info().Str("turn", t.id).Msg("Turn interrupted")
	<-t.done
}

// Close cancels any active turn without acknowledging it and waits for
// background work to stop.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if t := o.active; t != nil {
		t.interrupted = true
		t.cancel()
		o.active = nil
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) startTurn(parent context.Context, user string, run func(t *turn) string) {
	o.Interrupt()

	ctx, cancel := context.WithCancel(parent)
	t := &turn{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		start:  o.now(),
		user:   user,
	}

	o.mu.Lock()
	o.active = t
	o.sess.Interrupted = false
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(t.done)
		defer cancel()
		o.endTurn(t, run(t))
	}()
}

func (o *Orchestrator) endTurn(t *turn, outcome string) {
	o.mu.Lock()
	if t.interrupted {
		outcome = outcomeInterrupted
	}
	if o.active == t {
		o.active = nil
		o.sess.State = StateIdle
		o.sess.Generating = false
		o.sink(Message{Type: TypeStatus, TurnID: t.id, Status: StatusIdle})
	}
	o.mu.Unlock()

	metrics.Turns.WithLabelValues(outcome).Inc()
	o.logger.Debug().
		Str("turn", t.id).
		Str("outcome", outcome).
		Dur("took", o.now().Sub(t.start)).
		Msg("Turn finished")

	if t.user == "" && t.assistant == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), 2*time.Second)
	defer cancel()
	o.deps.History.Record(ctx, history.Turn{
		SessionID:   o.sess.ID,
		TurnID:      t.id,
		User:        t.user,
		Assistant:   t.assistant,
		Command:     t.command,
		Domain:      string(t.domain),
		Model:       t.model,
		Access:      string(t.access),
		Interrupted: outcome == outcomeInterrupted || outcome == outcomeHandoff,
		Duration:    o.now().Sub(t.start),
		At:          t.start,
	})
}

// emit sends a turn message unless the turn was interrupted or replaced.
func (o *Orchestrator) emit(t *turn, msg Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != t || t.interrupted {
		return false
	}
	msg.TurnID = t.id
	o.sink(msg)
	return true
}

// emitAudio delivers one synthesized unit. The first delivered unit of a
// speaker moves the session to speaking.
func (o *Orchestrator) emitAudio(t *turn, u *unit, resp *tts.SynthesizeResponse, first bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != t || t.interrupted {
		return false
	}
	if first && o.sess.State != StateSpeaking {
		o.sess.State = StateSpeaking
		o.sink(Message{Type: TypeStatus, TurnID: t.id, Status: StatusSpeaking})
	}
	o.sink(Message{
		Type:     TypeAudioChunk,
		TurnID:   t.id,
		Text:     u.text,
		Audio:    resp.Audio,
		Format:   resp.Format,
		Sentence: u.index,
	})
	return true
}

func (o *Orchestrator) setState(t *turn, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != t || t.interrupted {
		return
	}
	prev := o.sess.State
	o.sess.State = s
	o.sess.Generating = s == StateGenerating || s == StateSpeaking
	if prev.status() != s.status() {
		o.sink(Message{Type: TypeStatus, TurnID: t.id, Status: s.status()})
	}
}

func (o *Orchestrator) sendError(turnID, code, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink(Message{Type: TypeError, TurnID: turnID, Code: code, Text: text})
}

// remember appends to the transcript unless the turn runs with restricted
// access, whose exchanges never join the owner's history.
func (o *Orchestrator) remember(t *turn, role, text string) {
	if t.access == access.Restricted || t.access == access.Denied {
		return
	}
	o.mu.Lock()
	o.sess.append(role, strings.TrimSpace(text), o.now())
	o.mu.Unlock()
}

func (o *Orchestrator) applySettings(ctx context.Context, upd *SettingsUpdate) {
	if upd == nil {
		o.sendError("", CodeBadRequest, "settings message has no settings")
		return
	}

	o.mu.Lock()
	if upd.Voice != nil {
		o.sess.Voice = *upd.Voice
	}
	if upd.Model != nil && *upd.Model != "" {
		o.sess.Model = *upd.Model
	}
	if upd.TTSProvider != nil {
		o.sess.Provider = *upd.TTSProvider
	}
	if upd.Speed != nil && *upd.Speed > 0 {
		o.sess.Speed = *upd.Speed
	}
	if upd.DomainRouting != nil {
		o.sess.DomainRouting = *upd.DomainRouting
	}
	visionChanged := upd.VisionEnabled != nil && *upd.VisionEnabled != o.sess.VisionEnabled
	if upd.VisionEnabled != nil {
		o.sess.VisionEnabled = *upd.VisionEnabled
	}
	o.mu.Unlock()

	if visionChanged && o.deps.Vision != nil {
		if err := o.deps.Vision.SetEnabled(ctx, *upd.VisionEnabled); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to toggle vision service")
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if visionChanged {
		enabled := o.sess.VisionEnabled
		o.sink(Message{Type: TypeVisionStatus, Enabled: &enabled})
	}
	settings := o.sess.settings()
	o.sink(Message{Type: TypeSettingsUpdated, Settings: &settings})
}
