package session

import (
	"time"

	"github.com/normanking/cortexvoice/internal/access"
	"github.com/normanking/cortexvoice/internal/llm"
)

// State is the orchestrator's position in a turn.
type State string

const (
	StateIdle        State = "idle"
	StateRouting     State = "routing"
	StateDispatching State = "dispatching"
	StateGating      State = "gating"
	StateGenerating  State = "generating"
	StateSpeaking    State = "speaking"
)

// status maps an internal state to what the client sees.
func (s State) status() Status {
	switch s {
	case StateRouting, StateDispatching:
		return StatusProcessing
	case StateGating, StateGenerating:
		return StatusThinking
	case StateSpeaking:
		return StatusSpeaking
	default:
		return StatusIdle
	}
}

// Entry is one transcript line.
type Entry struct {
	Role string
	Text string
	Time time.Time
}

// Session is the per-connection state. Only the orchestrator that owns it
// reads or writes it, always under the orchestrator's mutex.
type Session struct {
	ID         string
	Transcript []Entry
	State      State
	// Interrupted is set by the last interrupt and cleared by the next turn.
	Interrupted bool
	Generating  bool
	Model       string
	Voice       string
	Provider    string
	Speed       float64
	Access      access.Mode

	VisionEnabled bool
	DomainRouting bool

	maxTranscript int
}

func (s *Session) append(role, text string, now time.Time) {
	if text == "" {
		return
	}
	s.Transcript = append(s.Transcript, Entry{Role: role, Text: text, Time: now})
	if s.maxTranscript > 0 && len(s.Transcript) > s.maxTranscript {
		drop := len(s.Transcript) - s.maxTranscript
		s.Transcript = append([]Entry(nil), s.Transcript[drop:]...)
	}
}

// lastUser returns the most recent user text.
func (s *Session) lastUser() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == llm.RoleUser {
			return s.Transcript[i].Text
		}
	}
	return ""
}

func (s *Session) messages() []llm.Message {
	out := make([]llm.Message, 0, len(s.Transcript))
	for _, e := range s.Transcript {
		out = append(out, llm.Message{Role: e.Role, Content: e.Text})
	}
	return out
}

func (s *Session) settings() Settings {
	return Settings{
		Voice:         s.Voice,
		Model:         s.Model,
		TTSProvider:   s.Provider,
		Speed:         s.Speed,
		VisionEnabled: s.VisionEnabled,
		DomainRouting: s.DomainRouting,
	}
}
