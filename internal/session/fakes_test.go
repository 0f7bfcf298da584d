package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/access"
	"github.com/normanking/cortexvoice/internal/actions"
	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/llm"
	"github.com/normanking/cortexvoice/internal/logging"
	"github.com/normanking/cortexvoice/internal/search"
	"github.com/normanking/cortexvoice/internal/stt"
	"github.com/normanking/cortexvoice/internal/tts"
	"github.com/normanking/cortexvoice/internal/workspace"
)

// fakeGenerator streams a fixed token script.
type fakeGenerator struct {
	mu     sync.Mutex
	reqs   []*llm.ChatRequest
	tokens []string
	// startErr fails Stream itself; streamErr ends the stream with Err.
	startErr  error
	streamErr error
	// hold keeps the stream open after the tokens until ctx is done.
	hold bool
}

func (g *fakeGenerator) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.Delta, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.startErr != nil {
		return nil, g.startErr
	}

	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		for _, tok := range g.tokens {
			select {
			case <-ctx.Done():
				return
			case out <- llm.Delta{Text: tok}:
			}
		}
		if g.hold {
			<-ctx.Done()
			return
		}
		final := llm.Delta{Done: true}
		if g.streamErr != nil {
			final = llm.Delta{Err: g.streamErr}
		}
		select {
		case <-ctx.Done():
		case out <- final:
		}
	}()
	return out, nil
}

func (g *fakeGenerator) requests() []*llm.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*llm.ChatRequest(nil), g.reqs...)
}

// fakeSynth returns the text as audio. delay and block are keyed by a
// substring of the sentence.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	delay map[string]time.Duration
	fail  map[string]bool
	block map[string]bool
}

func (s *fakeSynth) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Text)
	s.mu.Unlock()

	for key, d := range s.delay {
		if strings.Contains(req.Text, key) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	for key := range s.block {
		if strings.Contains(req.Text, key) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	for key := range s.fail {
		if strings.Contains(req.Text, key) {
			return nil, tts.ErrProviderUnavailable
		}
	}
	return &tts.SynthesizeResponse{Audio: []byte(req.Text), Format: "mp3", VoiceID: req.VoiceID}, nil
}

func (s *fakeSynth) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// conversation resolves everything to None.
type conversation struct{}

func (conversation) Resolve(context.Context, string) (command.Command, command.Source) {
	return command.Command{Kind: command.None}, command.SourceFallback
}

// abstainer is a model classifier that always abstains.
type abstainer struct{}

func (abstainer) Classify(context.Context, string) command.Result {
	return command.Abstain()
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	answer  string
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(_ context.Context, q string) (*search.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.answer == "" {
		return nil, search.ErrNoResults
	}
	return &search.Response{Query: q, Answer: f.answer, Provider: "fake"}, nil
}

func (f *fakeSearcher) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeVision struct {
	identity *access.Identity
	err      error
	emotion  string
	enabled  []bool
	mu       sync.Mutex
}

func (v *fakeVision) CurrentIdentity(context.Context) (*access.Identity, error) {
	return v.identity, v.err
}

func (v *fakeVision) EmotionContext(context.Context) string { return v.emotion }

func (v *fakeVision) SetEnabled(_ context.Context, on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = append(v.enabled, on)
	return nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, *stt.TranscribeRequest) (*stt.TranscribeResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stt.TranscribeResponse{Text: f.text, Provider: "fake"}, nil
}

// recorder is a Sink that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) sink(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func (r *recorder) ofType(typ string) []Message {
	var out []Message
	for _, m := range r.all() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, typ string) Message {
	t.Helper()
	var found Message
	require.Eventually(t, func() bool {
		msgs := r.ofType(typ)
		if len(msgs) == 0 {
			return false
		}
		found = msgs[0]
		return true
	}, 3*time.Second, 5*time.Millisecond, "no %s message", typ)
	return found
}

func (r *recorder) statuses() []Status {
	var out []Status
	for _, m := range r.ofType(TypeStatus) {
		out = append(out, m.Status)
	}
	return out
}

func (r *recorder) spoken() []string {
	var out []string
	for _, m := range r.ofType(TypeAudioChunk) {
		out = append(out, string(m.Audio))
	}
	return out
}

type harness struct {
	o        *Orchestrator
	rec      *recorder
	gen      *fakeGenerator
	synth    *fakeSynth
	searcher *fakeSearcher
	store    *workspace.SQLiteStore
}

type option func(*Config, *Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	store, err := workspace.NewSQLiteStore(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		rec:      &recorder{},
		gen:      &fakeGenerator{},
		synth:    &fakeSynth{},
		searcher: &fakeSearcher{answer: "It is sunny and 75 degrees"},
		store:    store,
	}

	cfg := Config{
		SystemPrompt:         "You are a voice assistant.",
		GuestPrompt:          "You are talking to a guest.",
		OwnerProfile:         "The owner is Sam.",
		Model:                "llama3.2",
		Voice:                "nova",
		Speed:                1.0,
		DomainRouting:        false,
		SearchHandoff:        true,
		SearchHandoffLimit:   150,
		MaxTranscript:        40,
		SynthesisConcurrency: 3,
	}
	deps := Deps{
		Generator:   h.gen,
		Synthesizer: h.synth,
		Resolver:    conversation{},
		Dispatcher: actions.NewDispatcher(actions.Deps{
			Workspace: store,
			Search:    h.searcher,
		}, time.Second, logging.Nop()),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h.o = New(cfg, deps, h.rec.sink, logging.Nop())
	t.Cleanup(h.o.Close)
	return h
}

// withCascade resolves commands with an abstaining model and the real
// fallback cascade.
func withCascade() option {
	return func(_ *Config, d *Deps) {
		d.Resolver = command.NewResolver(abstainer{}, command.NewCascade(), nil, logging.Nop())
	}
}

func (h *harness) text(s string) {
	h.o.Handle(context.Background(), Inbound{Type: TypeText, Text: s})
}

// wait blocks until every started turn has finished.
func (h *harness) wait() {
	h.o.wg.Wait()
}

var errBoom = errors.New("boom")
