package session

import "github.com/normanking/cortexvoice/internal/domain"

// Inbound message types.
const (
	TypeAudio        = "audio"
	TypeText         = "text"
	TypeSpeak        = "speak"
	TypeInterrupt    = "interrupt"
	TypeSettings     = "settings"
	TypeClearHistory = "clear_history"
)

// Outbound message types.
const (
	TypeStatus          = "status"
	TypeTranscription   = "transcription"
	TypeTextChunk       = "text_chunk"
	TypeTextComplete    = "text_complete"
	TypeAudioChunk      = "audio_chunk"
	TypeError           = "error"
	TypeDomainSwitch    = "domain_switch"
	TypeVisionStatus    = "vision_status"
	TypeWorkspace       = "workspace_command"
	TypeSearchResults   = "search_results"
	TypeInterrupted     = "interrupted"
	TypeHistoryCleared  = "history_cleared"
	TypeSettingsUpdated = "settings_updated"
)

// Status values reported to the client.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusThinking   Status = "thinking"
	StatusSpeaking   Status = "speaking"
	StatusSearching  Status = "searching"
)

// Error codes carried by TypeError messages.
const (
	CodeBadRequest    = "bad_request"
	CodeBadAudio      = "bad_audio"
	CodeTranscription = "transcription_failed"
	CodeGeneration    = "generation_failed"
	CodeCommand       = "command_failed"
)

// Inbound is a client message.
type Inbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Audio is base64 encoded
	Audio      string          `json:"audio,omitempty"`
	Format     string          `json:"format,omitempty"`
	SampleRate int             `json:"sample_rate,omitempty"`
	Settings   *SettingsUpdate `json:"settings,omitempty"`
}

// SettingsUpdate changes session preferences. Nil fields are left alone.
type SettingsUpdate struct {
	Voice         *string  `json:"voice,omitempty"`
	Model         *string  `json:"model,omitempty"`
	TTSProvider   *string  `json:"tts_provider,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	VisionEnabled *bool    `json:"vision_enabled,omitempty"`
	DomainRouting *bool    `json:"domain_routing,omitempty"`
}

// Settings is the current session preference snapshot.
type Settings struct {
	Voice         string  `json:"voice"`
	Model         string  `json:"model"`
	TTSProvider   string  `json:"tts_provider,omitempty"`
	Speed         float64 `json:"speed"`
	VisionEnabled bool    `json:"vision_enabled"`
	DomainRouting bool    `json:"domain_routing"`
}

// Message is a server message. Only the fields its Type needs are set.
type Message struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id,omitempty"`

	Status Status `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`

	// Audio is encoded as base64 by encoding/json.
	Audio  []byte `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
	// Sentence is the 1-based position of the unit within its turn.
	Sentence int `json:"sentence,omitempty"`

	Code string `json:"code,omitempty"`

	Domain     domain.ID `json:"domain,omitempty"`
	Model      string    `json:"model,omitempty"`
	Handoff    string    `json:"handoff,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`

	Enabled  *bool     `json:"enabled,omitempty"`
	Payload  any       `json:"payload,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// Sink receives outbound messages in order. It is called with the session
// lock held and may wait briefly for room, but must not wait on the session.
type Sink func(Message)
