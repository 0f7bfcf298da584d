package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.4, cfg.Router.Threshold)
	assert.Equal(t, 150, cfg.Session.SearchHandoffLimit)
	assert.Equal(t, "groq", cfg.STT.Provider)
	assert.Equal(t, "openai", cfg.TTS.Provider)
	assert.False(t, cfg.Vision.Enabled)
	assert.False(t, cfg.Access.RequireIdentity, "missing identity is permissive by default")

	ids := make([]string, 0, len(cfg.Router.Domains))
	for _, d := range cfg.Router.Domains {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"medical", "legal", "code", "math", "finance"}, ids)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath_CreatesDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	_, statErr := os.Stat(configPath)
	require.NoError(t, statErr, "default config file should be written")

	assert.Equal(t, "llama3.2", cfg.LLM.Model)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Len(t, cfg.Router.Domains, 5)

	again, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.LLM, again.LLM)
	assert.Equal(t, cfg.Router.Domains, again.Router.Domains)
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("tts:\n  voice: shimmer\n"), 0600))

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "shimmer", cfg.TTS.Voice)
	assert.Equal(t, "openai", cfg.TTS.Provider)
	assert.Equal(t, 0.4, cfg.Router.Threshold)
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("CORTEXVOICE_TTS_PROVIDER", "elevenlabs")
	t.Setenv("CORTEXVOICE_SERVER_ADDR", "0.0.0.0:9000")

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "elevenlabs", cfg.TTS.Provider)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestLoadFromPath_RejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("router:\n  threshold: 1.5\n"), 0600))

	_, err := LoadFromPath(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router.threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"negative threshold", func(c *Config) { c.Router.Threshold = -0.1 }, "router.threshold"},
		{"duplicate domain", func(c *Config) {
			c.Router.Domains = append(c.Router.Domains, DomainConfig{ID: "medical"})
		}, "duplicate domain"},
		{"reserved domain", func(c *Config) {
			c.Router.Domains = []DomainConfig{{ID: "general"}}
		}, "reserved"},
		{"unknown stt", func(c *Config) { c.STT.Provider = "vosk" }, "stt.provider"},
		{"unknown tts fallback", func(c *Config) { c.TTS.Fallback = "piper" }, "tts.fallback"},
		{"zero speed", func(c *Config) { c.TTS.Speed = 0 }, "tts.speed"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"zero concurrency", func(c *Config) { c.Session.SynthesisConcurrency = 0 }, "synthesis_concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
