// Package stt provides speech-to-text transcription for voice turns.
package stt

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("STT provider unavailable")
	ErrAudioTooShort       = errors.New("audio too short for transcription")
	ErrNoProviders         = errors.New("no STT providers configured")
)

// Provider is the interface all STT providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "groq-whisper")
	Name() string

	// Transcribe converts audio to text
	Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)

	// Health checks if the provider is usable
	Health(ctx context.Context) error
}

// TranscribeRequest represents a transcription request
type TranscribeRequest struct {
	Audio      []byte `json:"-"`                  // Raw audio data
	Format     string `json:"format,omitempty"`   // Audio format (pcm, wav, webm, mp3, ogg)
	SampleRate int    `json:"sample_rate"`        // Sample rate in Hz, pcm only
	Channels   int    `json:"channels"`           // Number of channels, pcm only
	Language   string `json:"language,omitempty"` // Language code (e.g., "en")
}

// TranscribeResponse represents a transcription result
type TranscribeResponse struct {
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	Duration       time.Duration `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	Provider       string        `json:"provider"`
}
