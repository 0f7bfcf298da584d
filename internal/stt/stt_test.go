package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/logging"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *WhisperProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGroqProvider(logging.Nop(), &WhisperConfig{
		APIKey:   "test-key",
		Endpoint: srv.URL,
		Model:    "whisper-large-v3-turbo",
		Timeout:  5 * time.Second,
	})
}

func TestWhisperProvider_Transcribe(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3-turbo", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.wav", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data[0:4]))
		assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
		assert.Len(t, data, 44+4)

		_, _ = w.Write([]byte(`{"text":" remind me to call mom ","language":"english","duration":1.5}`))
	})

	resp, err := p.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1, 2, 3, 4}, Format: "pcm", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "remind me to call mom", resp.Text)
	assert.Equal(t, 1500*time.Millisecond, resp.Duration)
	assert.Equal(t, "groq-whisper", resp.Provider)
}

func TestWhisperProvider_EncodedAudioPassesThrough(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.webm", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("webm-bytes"), data)
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	})

	resp, err := p.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte("webm-bytes"), Format: "webm"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
}

func TestWhisperProvider_Errors(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := p.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1, 2}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = p.Transcribe(context.Background(), &TranscribeRequest{})
	assert.ErrorIs(t, err, ErrAudioTooShort)

	bad := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported format"}`))
	})
	_, err = bad.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1, 2}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
}

func TestWhisperProvider_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider(logging.Nop(), nil)
	assert.ErrorIs(t, p.Health(context.Background()), ErrProviderUnavailable)

	_, err := p.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

type fakeProvider struct {
	name   string
	text   string
	err    error
	health error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Health(ctx context.Context) error { return f.health }
func (f *fakeProvider) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &TranscribeResponse{Text: f.text, Provider: f.name}, nil
}

func TestRouter_FallsBackOnUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "groq", err: ErrProviderUnavailable}
	fallback := &fakeProvider{name: "openai", text: "hello"}
	r := NewRouter(logging.Nop(), primary, fallback)

	resp, err := r.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestRouter_OtherErrorsDoNotFallBack(t *testing.T) {
	primary := &fakeProvider{name: "groq", err: errors.New("bad audio")}
	fallback := &fakeProvider{name: "openai", text: "hello"}
	r := NewRouter(logging.Nop(), primary, fallback)

	_, err := r.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1}})
	assert.EqualError(t, err, "bad audio")
	assert.Zero(t, fallback.calls)
}

func TestRouter_RefreshSkipsUnhealthy(t *testing.T) {
	primary := &fakeProvider{name: "groq", text: "from groq", health: ErrProviderUnavailable}
	fallback := &fakeProvider{name: "openai", text: "from openai"}
	r := NewRouter(logging.Nop(), primary, fallback)

	r.Refresh(context.Background())
	assert.Equal(t, map[string]bool{"groq": false, "openai": true}, r.Status())

	resp, err := r.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Text)
	assert.Zero(t, primary.calls)
	assert.NoError(t, r.Health(context.Background()))
}

func TestRouter_NoProviders(t *testing.T) {
	r := NewRouter(logging.Nop(), nil, nil)
	_, err := r.Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1}})
	assert.ErrorIs(t, err, ErrNoProviders)
}
