package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	groqEndpoint   = "https://api.groq.com/openai/v1"
	openAIEndpoint = "https://api.openai.com/v1"
)

// WhisperConfig holds configuration for an OpenAI-compatible Whisper endpoint.
type WhisperConfig struct {
	APIKey   string        `json:"api_key"`
	Endpoint string        `json:"endpoint"` // base URL, /audio/transcriptions is appended
	Model    string        `json:"model"`
	Language string        `json:"language"` // Optional language hint
	Timeout  time.Duration `json:"timeout"`
}

// DefaultGroqConfig returns defaults for Groq's hosted Whisper.
func DefaultGroqConfig() *WhisperConfig {
	return &WhisperConfig{
		Endpoint: groqEndpoint,
		Model:    "whisper-large-v3-turbo",
		Timeout:  30 * time.Second,
	}
}

// DefaultOpenAIConfig returns defaults for OpenAI's Whisper API.
func DefaultOpenAIConfig() *WhisperConfig {
	return &WhisperConfig{
		Endpoint: openAIEndpoint,
		Model:    "whisper-1",
		Timeout:  30 * time.Second,
	}
}

// WhisperProvider transcribes through the /audio/transcriptions API that
// both Groq and OpenAI expose.
type WhisperProvider struct {
	name   string
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *WhisperConfig
}

// NewGroqProvider creates a Groq Whisper provider. The key falls back to
// GROQ_API_KEY.
func NewGroqProvider(logger zerolog.Logger, config *WhisperConfig) *WhisperProvider {
	if config == nil {
		config = DefaultGroqConfig()
	}
	return newWhisperProvider("groq-whisper", "GROQ_API_KEY", groqEndpoint, logger, config)
}

// NewOpenAIProvider creates an OpenAI Whisper provider. The key falls back to
// OPENAI_API_KEY.
func NewOpenAIProvider(logger zerolog.Logger, config *WhisperConfig) *WhisperProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	return newWhisperProvider("openai-whisper", "OPENAI_API_KEY", openAIEndpoint, logger, config)
}

func newWhisperProvider(name, keyEnv, endpoint string, logger zerolog.Logger, config *WhisperConfig) *WhisperProvider {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(keyEnv)
	}
	if config.Endpoint == "" {
		config.Endpoint = endpoint
	}
	return &WhisperProvider{
		name:   name,
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("provider", name).Logger(),
		config: config,
	}
}

// Name returns the provider identifier
func (p *WhisperProvider) Name() string {
	return p.name
}

// Health reports ErrProviderUnavailable without an API key.
func (p *WhisperProvider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("%s: %w: API key not configured", p.name, ErrProviderUnavailable)
	}
	return nil
}

// Transcribe uploads the audio as multipart form data.
func (p *WhisperProvider) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	startTime := time.Now()

	if err := p.Health(ctx); err != nil {
		return nil, err
	}
	if len(req.Audio) == 0 {
		return nil, ErrAudioTooShort
	}

	format := strings.ToLower(req.Format)
	audio := req.Audio
	if format == "" || format == "pcm" {
		audio = wrapWAV(req.Audio, req.SampleRate, req.Channels)
		format = "wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", p.config.Model); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	language := req.Language
	if language == "" {
		language = p.config.Language
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := strings.TrimRight(p.config.Endpoint, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	p.logger.Debug().Int("audioBytes", len(audio)).Str("format", format).Msg("Sending audio for transcription")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.name, ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Whisper API error")
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%s: %w: status %d", p.name, ErrProviderUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: API error (status %d): %s", p.name, resp.StatusCode, string(body))
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	processingTime := time.Since(startTime)
	p.logger.Info().Str("text", result.Text).Dur("time", processingTime).Msg("Transcription complete")

	return &TranscribeResponse{
		Text:           strings.TrimSpace(result.Text),
		Language:       result.Language,
		Duration:       time.Duration(result.Duration * float64(time.Second)),
		ProcessingTime: processingTime,
		Provider:       p.name,
	}, nil
}

// wrapWAV prepends a 16-bit PCM WAV header.
func wrapWAV(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	if channels == 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	return append(header, pcm...)
}
