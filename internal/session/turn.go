package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexvoice/internal/access"
	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/domain"
	"github.com/normanking/cortexvoice/internal/llm"
	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/stt"
)

// searchIntentPattern matches a model announcing that it is about to search.
var searchIntentPattern = regexp.MustCompile(`(?i)\b(?:let me (?:search|google|check online|look (?:that|it|this) up|find out)|i'?ll (?:search|look (?:that|it|this) up)|i will (?:search|look (?:that|it|this) up)|searching (?:for|the web))\b`)

func (o *Orchestrator) runAudio(t *turn, req *stt.TranscribeRequest) string {
	o.setState(t, StateRouting)
	if o.deps.Transcriber == nil {
		o.emit(t, Message{Type: TypeError, Code: CodeTranscription, Text: "speech recognition is not configured"})
		return outcomeError
	}

	resp, err := o.deps.Transcriber.Transcribe(t.ctx, req)
	if err != nil {
		if t.ctx.Err() != nil {
			return outcomeInterrupted
		}
		o.logger.Warn().Err(err).Msg("Transcription failed")
		msg := "I couldn't understand the audio."
		if errors.Is(err, stt.ErrAudioTooShort) {
			msg = "The recording was too short."
		}
		o.emit(t, Message{Type: TypeError, Code: CodeTranscription, Text: msg})
		return outcomeError
	}

	text := resp.Text
	if o.deps.Filter != nil {
		text = o.deps.Filter.Filter(text)
	}
	text = strings.TrimSpace(text)
	o.emit(t, Message{Type: TypeTranscription, Text: text})
	if text == "" {
		return outcomeEmpty
	}
	t.user = text
	return o.runText(t, text)
}

func (o *Orchestrator) runText(t *turn, text string) string {
	o.setState(t, StateRouting)
	cmd, source := o.deps.Resolver.Resolve(t.ctx, text)
	if t.ctx.Err() != nil {
		return outcomeInterrupted
	}

	if cmd.IsAction() {
		o.remember(t, llm.RoleUser, text)
		return o.runCommand(t, cmd, string(source))
	}
	return o.generate(t, text)
}

// runCommand dispatches cmd and speaks the confirmation like a generated
// sentence.
func (o *Orchestrator) runCommand(t *turn, cmd command.Command, source string) string {
	o.setState(t, StateDispatching)
	if cmd.Kind == command.SearchWeb {
		o.emit(t, Message{Type: TypeStatus, Status: StatusSearching})
	}
	t.command = string(cmd.Kind)

	out := o.deps.Dispatcher.Dispatch(t.ctx, cmd)
	status := "ok"
	if out.Failed() {
		status = "failed"
		o.logger.Warn().Err(out.Err).Str("kind", string(cmd.Kind)).Msg("Command failed")
	}
	metrics.Commands.WithLabelValues(string(cmd.Kind), source, status).Inc()
	if t.ctx.Err() != nil {
		return outcomeInterrupted
	}
	if out.Failed() {
		o.emit(t, Message{Type: TypeError, Code: CodeCommand, Text: out.Err.Error()})
	}

	if out.Vision != nil {
		o.mu.Lock()
		o.sess.VisionEnabled = *out.Vision
		o.mu.Unlock()
		enabled := *out.Vision
		o.emit(t, Message{Type: TypeVisionStatus, Enabled: &enabled})
	}
	if out.Echo != nil {
		o.emit(t, Message{Type: out.Echo.Type, Payload: out.Echo.Payload})
	}

	if !o.speak(t, out.Utterance, "") {
		return outcomeInterrupted
	}
	t.assistant = out.Utterance
	o.remember(t, llm.RoleAssistant, out.Utterance)
	if source == sourceHandoff {
		return outcomeHandoff
	}
	return outcomeCommand
}

// speak sends text through cleanup and synthesis as a single unit and then
// reports it complete. It returns false if the turn was interrupted.
func (o *Orchestrator) speak(t *turn, text, voice string) bool {
	sp := o.newSpeaker(t.ctx, t, voice)
	sp.enqueue(text)
	sp.finish()
	if t.ctx.Err() != nil {
		return false
	}
	o.emit(t, Message{Type: TypeTextComplete, Text: text})
	return true
}

// generate gates, routes and streams one model reply.
func (o *Orchestrator) generate(t *turn, text string) string {
	o.setState(t, StateGating)

	o.mu.Lock()
	visionOn := o.sess.VisionEnabled
	routing := o.sess.DomainRouting
	model := o.sess.Model
	o.mu.Unlock()

	identity, emotion := o.gatherContext(t.ctx, visionOn)
	if t.ctx.Err() != nil {
		return outcomeInterrupted
	}

	mode := o.cfg.Access.Gate(identity, visionOn)
	t.access = mode
	o.mu.Lock()
	o.sess.Access = mode
	o.mu.Unlock()
	if mode == access.Denied {
		o.logger.Info().Str("role", string(identity.Role)).Msg("Access denied")
		if !o.speak(t, access.Refusal, "") {
			return outcomeInterrupted
		}
		t.assistant = access.Refusal
		return outcomeDenied
	}

	var voice string
	if routing && o.deps.Router != nil {
		score := o.deps.Router.Score(text)
		metrics.DomainRoutes.WithLabelValues(string(score.Domain), string(score.Path)).Inc()
		if !score.IsGeneral() {
			if score.Model != "" {
				model = score.Model
			}
			voice = score.Voice
			t.domain = score.Domain
			o.emit(t, domainSwitch(score))
		}
	}
	t.model = model

	req := o.buildRequest(t, mode, text, model, emotion)
	return o.stream(t, req, voice)
}

func domainSwitch(s domain.Score) Message {
	return Message{
		Type:       TypeDomainSwitch,
		Domain:     s.Domain,
		Model:      s.Model,
		Handoff:    s.Handoff,
		Confidence: s.Confidence,
	}
}

// gatherContext fetches identity and emotion concurrently. Failures mean
// no context.
func (o *Orchestrator) gatherContext(ctx context.Context, visionOn bool) (*access.Identity, string) {
	if !visionOn || o.deps.Vision == nil {
		return nil, ""
	}

	var identity *access.Identity
	var emotion string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := o.deps.Vision.CurrentIdentity(gctx)
		if err != nil {
			o.logger.Debug().Err(err).Msg("Identity unavailable")
			return nil
		}
		identity = id
		return nil
	})
	g.Go(func() error {
		emotion = o.deps.Vision.EmotionContext(gctx)
		return nil
	})
	_ = g.Wait()
	return identity, emotion
}

// buildRequest assembles the prompt for mode. Full access sees the owner
// profile, emotion context and transcript; restricted access sees only the
// guest prompt and the current message.
func (o *Orchestrator) buildRequest(t *turn, mode access.Mode, text, model, emotion string) *llm.ChatRequest {
	req := &llm.ChatRequest{
		Model:           model,
		MaxTokens:       o.cfg.MaxTokens,
		Temperature:     o.cfg.Temperature,
		DisableThinking: true,
	}
	if mode == access.Restricted {
		req.SystemPrompt = o.cfg.GuestPrompt
		req.Messages = []llm.Message{{Role: llm.RoleUser, Content: text}}
		return req
	}

	parts := []string{o.cfg.SystemPrompt}
	if o.cfg.OwnerProfile != "" {
		parts = append(parts, o.cfg.OwnerProfile)
	}
	if emotion != "" {
		parts = append(parts, emotion)
	}
	req.SystemPrompt = strings.Join(parts, "\n\n")

	o.remember(t, llm.RoleUser, text)
	o.mu.Lock()
	req.Messages = o.sess.messages()
	o.mu.Unlock()
	return req
}

// stream consumes the generation, feeding visible text to the client and
// to the speaker as it arrives.
func (o *Orchestrator) stream(t *turn, req *llm.ChatRequest, voice string) string {
	o.setState(t, StateGenerating)

	genCtx, cancelGen := context.WithCancel(t.ctx)
	defer cancelGen()

	start := time.Now()
	deltas, err := o.deps.Generator.Stream(genCtx, req)
	if err != nil {
		return o.generationFailed(t, err, "")
	}

	sp := o.newSpeaker(t.ctx, t, voice)
	think := speech.NewThinkFilter()
	tags := domain.NewTagFilter()
	seg := speech.NewSegmenter()
	var visible strings.Builder
	firstToken := true

	// push shows and speaks visible text. It reports true, without showing
	// anything, when the text so far announces a web search.
	push := func(text string) bool {
		if text == "" {
			return false
		}
		visible.WriteString(text)
		if o.wantsSearch(visible.String()) {
			return true
		}
		o.emit(t, Message{Type: TypeTextChunk, Text: text})
		for _, u := range seg.Push(text) {
			sp.enqueue(u)
		}
		return false
	}

	for done := false; !done; {
		var d llm.Delta
		var ok bool
		select {
		case <-genCtx.Done():
		case d, ok = <-deltas:
		}
		if !ok {
			if genCtx.Err() == nil {
				// Closed without a final delta.
				break
			}
			sp.abort()
			o.keepPartial(t, visible.String())
			return outcomeInterrupted
		}
		if d.Err != nil {
			sp.abort()
			return o.generationFailed(t, d.Err, visible.String())
		}
		if firstToken && d.Text != "" {
			firstToken = false
			metrics.FirstTokenLatency.Observe(time.Since(start).Seconds())
		}

		if push(tags.Push(think.Push(d.Text))) {
			cancelGen()
			sp.abort()
			return o.handoff(t)
		}
		done = d.Done
	}

	if push(tags.Push(think.Flush())) || push(tags.Flush()) {
		sp.abort()
		return o.handoff(t)
	}
	if rest := seg.Flush(); rest != "" {
		sp.enqueue(rest)
	}
	sp.finish()
	if t.ctx.Err() != nil {
		o.keepPartial(t, visible.String())
		return outcomeInterrupted
	}

	full := visible.String()
	o.emit(t, Message{Type: TypeTextComplete, Text: full})
	o.complete(t, full, tags.Tags())
	return outcomeComplete
}

func (o *Orchestrator) wantsSearch(visible string) bool {
	if !o.cfg.SearchHandoff || utf8.RuneCountInString(visible) >= o.cfg.SearchHandoffLimit {
		return false
	}
	return searchIntentPattern.MatchString(visible)
}

// handoff abandons the generation and answers the last user message with
// a web search instead. The transcript is kept.
func (o *Orchestrator) handoff(t *turn) string {
	query := t.user
	if query == "" {
		o.mu.Lock()
		query = o.sess.lastUser()
		o.mu.Unlock()
	}
	o.logger.Info().Str("query", query).Msg("Model asked to search, handing off")

	o.mu.Lock()
	o.sess.Interrupted = true
	o.mu.Unlock()
	o.emit(t, Message{Type: TypeInterrupted, Code: "search_handoff"})

	o.setState(t, StateRouting)
	return o.runCommand(t, command.Command{Kind: command.SearchWeb, Query: query}, sourceHandoff)
}

// complete stores the reply. When domain routing is on, a routing tag
// the model emitted switches the model and voice for later turns.
func (o *Orchestrator) complete(t *turn, full, tags string) {
	text := strings.TrimSpace(full)
	t.assistant = text
	o.remember(t, llm.RoleAssistant, text)

	o.mu.Lock()
	routing := o.sess.DomainRouting
	o.mu.Unlock()
	if !routing || o.deps.Router == nil || tags == "" {
		return
	}
	score, ok := o.deps.Router.FromTags(tags)
	if !ok {
		return
	}
	metrics.DomainRoutes.WithLabelValues(string(score.Domain), string(score.Path)).Inc()
	o.mu.Lock()
	if score.Model != "" {
		o.sess.Model = score.Model
	}
	if score.Voice != "" {
		o.sess.Voice = score.Voice
	}
	o.mu.Unlock()
	o.emit(t, domainSwitch(score))
}

func (o *Orchestrator) keepPartial(t *turn, partial string) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return
	}
	t.assistant = partial
	o.remember(t, llm.RoleAssistant, partial)
}

func (o *Orchestrator) generationFailed(t *turn, err error, partial string) string {
	if t.ctx.Err() != nil {
		o.keepPartial(t, partial)
		return outcomeInterrupted
	}
	o.logger.Error().Err(err).Str("turn", t.id).Msg("Generation failed")
	o.keepPartial(t, partial)
	o.emit(t, Message{Type: TypeError, Code: CodeGeneration, Text: "Sorry, I lost my train of thought. Please try again."})
	return outcomeError
}
