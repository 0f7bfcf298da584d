package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the voice front-end.
// It is loaded from ~/.cortexvoice/config.yaml and can be overridden by environment variables.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Commands   CommandsConfig   `mapstructure:"commands" yaml:"commands"`
	Router     RouterConfig     `mapstructure:"router" yaml:"router"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Access     AccessConfig     `mapstructure:"access" yaml:"access"`
	Vision     VisionConfig     `mapstructure:"vision" yaml:"vision"`
	STT        STTConfig        `mapstructure:"stt" yaml:"stt"`
	TTS        TTSConfig        `mapstructure:"tts" yaml:"tts"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Devices    DevicesConfig    `mapstructure:"devices" yaml:"devices"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace" yaml:"workspace"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8765)
	Addr string `mapstructure:"addr" yaml:"addr"`
	// ReadTimeout bounds reading a request's headers
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout is the per-frame websocket write deadline
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// PingInterval is how often the writer pings an idle client
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LLMConfig points at the Ollama server used for generation.
type LLMConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Model is the default generation model, replaced by domain specialists
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	// ConnectionTimeoutSec is the time to receive response headers
	ConnectionTimeoutSec int `mapstructure:"connection_timeout_sec" yaml:"connection_timeout_sec"`
	// FirstTokenTimeoutSec covers cold-start model loading
	FirstTokenTimeoutSec int `mapstructure:"first_token_timeout_sec" yaml:"first_token_timeout_sec"`
	// StreamIdleTimeoutSec is the max gap between tokens
	StreamIdleTimeoutSec int `mapstructure:"stream_idle_timeout_sec" yaml:"stream_idle_timeout_sec"`
}

// ClassifierConfig configures the small tool-calling model that detects commands.
type ClassifierConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	// Timeout bounds one classification call; exceeding it abstains
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CommandsConfig is the enabled-command set, expressed as the kinds to turn off.
type CommandsConfig struct {
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// RouterConfig holds the domain table for specialist selection.
type RouterConfig struct {
	Enabled   bool           `mapstructure:"enabled" yaml:"enabled"`
	Threshold float64        `mapstructure:"threshold" yaml:"threshold"`
	Domains   []DomainConfig `mapstructure:"domains" yaml:"domains"`
}

// DomainConfig describes one topic domain. Declaration order breaks score ties.
type DomainConfig struct {
	ID       string   `mapstructure:"id" yaml:"id"`
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Model    string   `mapstructure:"model" yaml:"model"`
	Voice    string   `mapstructure:"voice" yaml:"voice,omitempty"`
	Handoff  string   `mapstructure:"handoff" yaml:"handoff,omitempty"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// SessionConfig controls per-connection orchestration.
type SessionConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	// GuestPrompt replaces SystemPrompt for restricted access; no owner profile
	GuestPrompt  string `mapstructure:"guest_prompt" yaml:"guest_prompt"`
	OwnerProfile string `mapstructure:"owner_profile" yaml:"owner_profile"`
	// SearchHandoffLimit is the visible-text length under which a search phrase triggers a hand-off
	SearchHandoffLimit int `mapstructure:"search_handoff_limit" yaml:"search_handoff_limit"`
	// MaxTranscript caps the stored transcript, oldest dropped first
	MaxTranscript int `mapstructure:"max_transcript" yaml:"max_transcript"`
	// SynthesisConcurrency caps in-flight TTS calls per turn
	SynthesisConcurrency int `mapstructure:"synthesis_concurrency" yaml:"synthesis_concurrency"`
}

// AccessConfig controls the identity gate.
type AccessConfig struct {
	// RequireIdentity restricts (never denies) turns when vision is on but nobody is recognized
	RequireIdentity bool `mapstructure:"require_identity" yaml:"require_identity"`
}

// VisionConfig points at the face-recognition service.
type VisionConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// STTConfig selects the transcription provider.
type STTConfig struct {
	// Provider is "groq" or "openai"
	Provider string `mapstructure:"provider" yaml:"provider"`
	// Fallback is used when Provider is unavailable; empty disables fallback
	Fallback     string   `mapstructure:"fallback" yaml:"fallback"`
	Language     string   `mapstructure:"language" yaml:"language"`
	GroqAPIKey   string   `mapstructure:"groq_api_key" yaml:"groq_api_key,omitempty"`
	OpenAIAPIKey string   `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	FillerWords  []string `mapstructure:"filler_words" yaml:"filler_words"`
}

// TTSConfig selects the synthesis provider and default voice.
type TTSConfig struct {
	// Provider is "openai" or "elevenlabs"
	Provider         string  `mapstructure:"provider" yaml:"provider"`
	Fallback         string  `mapstructure:"fallback" yaml:"fallback"`
	Voice            string  `mapstructure:"voice" yaml:"voice"`
	Speed            float64 `mapstructure:"speed" yaml:"speed"`
	OpenAIAPIKey     string  `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	OpenAIEndpoint   string  `mapstructure:"openai_endpoint" yaml:"openai_endpoint"`
	ElevenLabsAPIKey string  `mapstructure:"elevenlabs_api_key" yaml:"elevenlabs_api_key,omitempty"`
	// Stability and Similarity are ElevenLabs voice tuning
	Stability  float64 `mapstructure:"stability" yaml:"stability"`
	Similarity float64 `mapstructure:"similarity" yaml:"similarity"`
}

// SearchConfig configures web search.
type SearchConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key" yaml:"tavily_api_key,omitempty"`
	// HTMLFallback enables the DuckDuckGo HTML scraper when Tavily fails or has no key
	HTMLFallback bool `mapstructure:"html_fallback" yaml:"html_fallback"`
	MaxResults   int  `mapstructure:"max_results" yaml:"max_results"`
}

// DevicesConfig points at Home Assistant.
type DevicesConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
}

// WorkspaceConfig controls the notes/todos store.
type WorkspaceConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// RetentionDays prunes completed todos older than this
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// HistoryConfig controls the redis turn log.
type HistoryConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Password  string `mapstructure:"password" yaml:"password,omitempty"`
	DB        int    `mapstructure:"db" yaml:"db"`
	Stream    string `mapstructure:"stream" yaml:"stream"`
	MaxLen    int64  `mapstructure:"max_len" yaml:"max_len"`
}

// SchedulerConfig holds cron specs for background jobs.
type SchedulerConfig struct {
	HealthCron string `mapstructure:"health_cron" yaml:"health_cron"`
	PruneCron  string `mapstructure:"prune_cron" yaml:"prune_cron"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// Default returns a Config with every field set.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cortexvoice")

	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8765",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		LLM: LLMConfig{
			Endpoint:             "http://127.0.0.1:11434",
			Model:                "llama3.2",
			Temperature:          0.7,
			MaxTokens:            512,
			ConnectionTimeoutSec: 30,
			FirstTokenTimeoutSec: 120,
			StreamIdleTimeoutSec: 30,
		},
		Classifier: ClassifierConfig{
			Enabled: true,
			Model:   "qwen2.5:1.5b",
			Timeout: 4 * time.Second,
		},
		Commands: CommandsConfig{Disabled: []string{}},
		Router: RouterConfig{
			Enabled:   true,
			Threshold: 0.4,
			Domains:   DefaultDomains(),
		},
		Session: SessionConfig{
			SystemPrompt: "You are Cortex, a friendly voice assistant. Answer in short, natural spoken sentences. " +
				"Do not use markdown, lists, or emoji.",
			GuestPrompt: "You are Cortex, a friendly voice assistant speaking with a guest. " +
				"Answer in short, natural spoken sentences. Do not share anything about the owner.",
			OwnerProfile:         "",
			SearchHandoffLimit:   150,
			MaxTranscript:        40,
			SynthesisConcurrency: 2,
		},
		Vision: VisionConfig{
			Enabled:  false,
			Endpoint: "http://127.0.0.1:8090",
			Timeout:  2 * time.Second,
		},
		STT: STTConfig{
			Provider:    "groq",
			Fallback:    "openai",
			Language:    "en",
			FillerWords: []string{"um", "uh", "umm", "uhh", "er", "ah", "hmm"},
		},
		TTS: TTSConfig{
			Provider:       "openai",
			Fallback:       "elevenlabs",
			Voice:          "nova",
			Speed:          1.0,
			OpenAIEndpoint: "https://api.openai.com/v1",
			Stability:      0.5,
			Similarity:     0.75,
		},
		Search: SearchConfig{
			HTMLFallback: true,
			MaxResults:   5,
		},
		Devices: DevicesConfig{
			Enabled: false,
			URL:     "http://homeassistant.local:8123",
		},
		Workspace: WorkspaceConfig{
			DBPath:        filepath.Join(dataDir, "workspace.db"),
			RetentionDays: 30,
		},
		History: HistoryConfig{
			Enabled:   false,
			RedisAddr: "127.0.0.1:6379",
			Stream:    "cortexvoice:turns",
			MaxLen:    10000,
		},
		Scheduler: SchedulerConfig{
			HealthCron: "@every 1m",
			PruneCron:  "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        filepath.Join(dataDir, "logs"),
			Console:    true,
			MaxHistory: 500,
		},
	}
}

// DefaultDomains returns the built-in specialist table in tie-break order.
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{
			ID:      "medical",
			Enabled: true,
			Model:   "meditron:7b",
			Handoff: "Let me bring in my medical knowledge for this one.",
			Patterns: []string{
				`\b(symptoms?|diagnos\w*|prescri\w*|dosage|side effects?)\b`,
				`\b(doctor|physician|nurse|hospital|clinic)\b`,
				`\bis it (normal|safe) to\b`,
			},
			Keywords: []string{"headache", "fever", "pain", "medicine", "medication", "allergy", "blood pressure", "infection"},
		},
		{
			ID:      "legal",
			Enabled: true,
			Model:   "saul:7b",
			Handoff: "Switching to my legal specialist.",
			Patterns: []string{
				`\b(lawsuit|sue|suing|liab\w*|contract|lease|tenant|landlord)\b`,
				`\b(is it legal|against the law|my rights)\b`,
			},
			Keywords: []string{"lawyer", "attorney", "court", "copyright", "trademark", "will", "custody"},
		},
		{
			ID:      "code",
			Enabled: true,
			Model:   "qwen2.5-coder:7b",
			Handoff: "Let me think about this like a programmer.",
			Patterns: []string{
				`\b(function|compile\w*|debug\w*|stack trace|exception|refactor\w*)\b`,
				`\b(python|golang|javascript|typescript|rust|java|sql)\b`,
			},
			Keywords: []string{"code", "bug", "api", "variable", "git", "regex", "algorithm"},
		},
		{
			ID:      "math",
			Enabled: true,
			Model:   "qwen2-math:7b",
			Handoff: "Let me work through the math.",
			Patterns: []string{
				`\b(integral|derivative|equation|probability|theorem)\b`,
				`\d+\s*[-+*/^]\s*\d+`,
			},
			Keywords: []string{"calculate", "solve", "percent", "square root", "fraction", "average"},
		},
		{
			ID:      "finance",
			Enabled: true,
			Model:   "llama3.2",
			Handoff: "Let me look at this from a finance angle.",
			Patterns: []string{
				`\b(invest\w*|portfolio|mortgage|401k|ira|dividend)\b`,
				`\b(interest rate|credit score|tax(es)? return)\b`,
			},
			Keywords: []string{"budget", "savings", "loan", "retirement", "stocks", "debt"},
		},
	}
}

// Load reads configuration from ~/.cortexvoice/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".cortexvoice", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
// The result is validated before it is returned.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CORTEXVOICE_TTS_OPENAI_API_KEY
	v.SetEnvPrefix("CORTEXVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed every key with its default so partial files and env-only keys resolve.
	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Workspace.DBPath = expandPath(cfg.Workspace.DBPath)
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// setDefaults flattens the default config into viper defaults.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	if c.LLM.Endpoint == "" || c.LLM.Model == "" {
		return fmt.Errorf("llm.endpoint and llm.model are required")
	}

	if c.Router.Threshold < 0 || c.Router.Threshold > 1 {
		return fmt.Errorf("router.threshold must be between 0 and 1, got %v", c.Router.Threshold)
	}

	seen := make(map[string]bool)
	for i, d := range c.Router.Domains {
		if d.ID == "" {
			return fmt.Errorf("router.domains[%d].id cannot be empty", i)
		}
		if d.ID == "general" {
			return fmt.Errorf("router.domains[%d]: 'general' is reserved", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate domain id '%s'", d.ID)
		}
		seen[d.ID] = true
	}

	if c.Session.SearchHandoffLimit <= 0 {
		return fmt.Errorf("session.search_handoff_limit must be positive")
	}
	if c.Session.MaxTranscript <= 0 {
		return fmt.Errorf("session.max_transcript must be positive")
	}
	if c.Session.SynthesisConcurrency <= 0 {
		return fmt.Errorf("session.synthesis_concurrency must be positive")
	}

	validSTT := map[string]bool{"groq": true, "openai": true}
	if !validSTT[c.STT.Provider] {
		return fmt.Errorf("invalid stt.provider '%s', must be one of: groq, openai", c.STT.Provider)
	}
	if c.STT.Fallback != "" && !validSTT[c.STT.Fallback] {
		return fmt.Errorf("invalid stt.fallback '%s'", c.STT.Fallback)
	}

	validTTS := map[string]bool{"openai": true, "elevenlabs": true}
	if !validTTS[c.TTS.Provider] {
		return fmt.Errorf("invalid tts.provider '%s', must be one of: openai, elevenlabs", c.TTS.Provider)
	}
	if c.TTS.Fallback != "" && !validTTS[c.TTS.Fallback] {
		return fmt.Errorf("invalid tts.fallback '%s'", c.TTS.Fallback)
	}
	if c.TTS.Speed <= 0 || c.TTS.Speed > 4 {
		return fmt.Errorf("tts.speed must be in (0, 4]")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
