package session

import (
	"context"
	"sync"
	"time"

	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/tts"
)

// unit is one speech unit in flight. result receives nil when synthesis
// failed or was cancelled.
type unit struct {
	index  int
	text   string
	result chan *tts.SynthesizeResponse
}

// speaker synthesizes units concurrently with generation and delivers the
// audio in the order the units were queued.
type speaker struct {
	o    *Orchestrator
	turn *turn

	voice    string
	provider string
	speed    float64

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	order  chan *unit
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// index counts every queued unit, including ones cleanup emptied.
	index int
	spoke bool
}

func (o *Orchestrator) newSpeaker(ctx context.Context, t *turn, voice string) *speaker {
	o.mu.Lock()
	provider, speed := o.sess.Provider, o.sess.Speed
	if voice == "" {
		voice = o.sess.Voice
	}
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s := &speaker{
		o:        o,
		turn:     t,
		voice:    voice,
		provider: provider,
		speed:    speed,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, o.cfg.SynthesisConcurrency),
		order:    make(chan *unit, 64),
		done:     make(chan struct{}),
	}
	go s.deliver()
	return s
}

// enqueue cleans a unit and starts its synthesis. It blocks only when the
// delivery queue is full.
func (s *speaker) enqueue(text string) {
	s.index++
	clean := speech.Clean(text)
	if clean == "" {
		return
	}
	u := &unit{index: s.index, text: clean, result: make(chan *tts.SynthesizeResponse, 1)}

	s.wg.Add(1)
	go s.synthesize(u)

	select {
	case s.order <- u:
	case <-s.ctx.Done():
	}
}

func (s *speaker) synthesize(u *unit) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		u.result <- nil
		return
	}
	defer func() { <-s.sem }()

	start := time.Now()
	resp, err := s.o.deps.Synthesizer.Synthesize(s.ctx, &tts.SynthesizeRequest{
		Text:     u.text,
		VoiceID:  s.voice,
		Speed:    s.speed,
		Provider: s.provider,
	})
	if err != nil {
		if s.ctx.Err() == nil {
			metrics.SynthesisFailures.WithLabelValues(s.provider).Inc()
			s.o.logger.Warn().Err(err).Int("sentence", u.index).Msg("Synthesis failed, skipping sentence")
		}
		u.result <- nil
		return
	}
	metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
	u.result <- resp
}

func (s *speaker) deliver() {
	defer close(s.done)
	for u := range s.order {
		var resp *tts.SynthesizeResponse
		select {
		case resp = <-u.result:
		case <-s.ctx.Done():
			continue
		}
		if resp == nil || len(resp.Audio) == 0 {
			continue
		}
		if s.ctx.Err() != nil {
			continue
		}
		if s.o.emitAudio(s.turn, u, resp, !s.spoke) {
			s.spoke = true
		}
	}
}

// finish waits for every queued unit to be delivered.
func (s *speaker) finish() {
	s.once.Do(func() { close(s.order) })
	<-s.done
	s.wg.Wait()
	s.cancel()
}

// abort drops queued units and waits for in-flight synthesis to return.
func (s *speaker) abort() {
	s.cancel()
	s.once.Do(func() { close(s.order) })
	<-s.done
	s.wg.Wait()
}
