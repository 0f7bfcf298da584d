package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ElevenLabsAPIEndpoint  = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

type ElevenLabsProvider struct {
	apiKey string
	logger zerolog.Logger
	config *ElevenLabsConfig
	client *http.Client
}

type ElevenLabsConfig struct {
	APIKey       string        `json:"api_key"`
	Endpoint     string        `json:"endpoint"`
	DefaultVoice string        `json:"default_voice"`
	ModelID      string        `json:"model_id"`
	Stability    float64       `json:"stability"`
	Similarity   float64       `json:"similarity_boost"`
	Timeout      time.Duration `json:"timeout"`
}

func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		Endpoint:     ElevenLabsAPIEndpoint,
		DefaultVoice: ElevenLabsDefaultVoice,
		ModelID:      "eleven_turbo_v2_5",
		Stability:    0.5,
		Similarity:   0.75,
		Timeout:      30 * time.Second,
	}
}

func NewElevenLabsProvider(logger zerolog.Logger, config *ElevenLabsConfig) *ElevenLabsProvider {
	if config == nil {
		config = DefaultElevenLabsConfig()
	}
	if config.Endpoint == "" {
		config.Endpoint = ElevenLabsAPIEndpoint
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = ElevenLabsDefaultVoice
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	return &ElevenLabsProvider{
		apiKey: apiKey,
		logger: logger.With().Str("provider", "elevenlabs-tts").Logger(),
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (p *ElevenLabsProvider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("elevenlabs: %w: API key not configured", ErrProviderUnavailable)
	}
	return nil
}

// OpenAI voice names map onto comparable ElevenLabs stock voices so one
// configured voice works with either provider.
var elevenLabsVoiceMap = map[string]string{
	VoiceNova:    "21m00Tcm4TlvDq8ikWAM", // Rachel
	VoiceShimmer: "EXAVITQu4vr4xnSDxMaL", // Bella
	VoiceAlloy:   "MF3mGyEYCl7XYWbV9V6O", // Emily
	VoiceEcho:    "VR6AewLTigWG4xSOukaG", // Arnold
	VoiceOnyx:    "ErXwobaYiN019PkySvjV", // Antoni
	VoiceFable:   "TxGEqnHWrfWFTfGW9XjX", // Josh
}

// elevenLabsVoiceIDPattern matches ElevenLabs voice ids.
var elevenLabsVoiceIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

// mapVoice translates OpenAI voice names and passes ElevenLabs ids through.
// Any other name falls back to the default voice.
func (p *ElevenLabsProvider) mapVoice(voiceID string) string {
	if mapped, ok := elevenLabsVoiceMap[strings.ToLower(voiceID)]; ok {
		return mapped
	}
	if elevenLabsVoiceIDPattern.MatchString(voiceID) {
		return voiceID
	}
	if mapped, ok := elevenLabsVoiceMap[strings.ToLower(p.config.DefaultVoice)]; ok {
		return mapped
	}
	return p.config.DefaultVoice
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := p.Health(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	startTime := time.Now()

	voiceID := p.mapVoice(req.VoiceID)

	payload := map[string]any{
		"text":     req.Text,
		"model_id": p.config.ModelID,
		"voice_settings": map[string]float64{
			"stability":        p.config.Stability,
			"similarity_boost": p.config.Similarity,
		},
	}
	if req.Speed > 0 && req.Speed != 1.0 {
		payload["voice_settings"].(map[string]float64)["speed"] = req.Speed
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimRight(p.config.Endpoint, "/"), voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("elevenlabs", resp)
	}

	audioData, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	processingTime := time.Since(startTime)
	p.logger.Debug().
		Str("voice", voiceID).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("ElevenLabs TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audioData,
		Format:         "mp3",
		SampleRate:     22050,
		ProcessingTime: processingTime,
		VoiceID:        voiceID,
		Provider:       p.Name(),
	}, nil
}
