package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/logging"
	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/session"
	"github.com/normanking/cortexvoice/internal/tts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type checkFunc func(context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

type logSource []logging.LogEntry

func (l logSource) History(limit int) []logging.LogEntry {
	if limit > len(l) {
		limit = len(l)
	}
	return l[len(l)-limit:]
}

type echoSynth struct{}

func (echoSynth) Synthesize(_ context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	return &tts.SynthesizeResponse{Audio: []byte(req.Text), Format: "mp3"}, nil
}

type blockingScheduler struct{ stopped chan struct{} }

func (b *blockingScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	close(b.stopped)
	return nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.Deps.Synthesizer == nil {
		opts.Deps.Synthesizer = echoSynth{}
	}
	opts.Session.Voice = "nova"
	opts.Logger = logging.Nop()
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		waitNoSessions(t)
	})
	return srv
}

// waitNoSessions waits for hijacked websocket handlers to return.
func waitNoSessions(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveSessions) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, typ string) []session.Message {
	t.Helper()
	var seen []session.Message
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m session.Message
		require.NoError(t, ws.ReadJSON(&m))
		seen = append(seen, m)
		if m.Type == typ {
			return seen
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{
		Version: "test",
		Checks: map[string]HealthChecker{
			"stt": checkFunc(func(context.Context) error { return nil }),
			"tts": checkFunc(func(context.Context) error { return errors.New("no providers") }),
		},
	})

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.True(t, health.Services["stt"].Healthy)
	assert.False(t, health.Services["tts"].Healthy)
	assert.Equal(t, "no providers", health.Services["tts"].Message)
}

func TestHealth_AllHealthy(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Empty(t, health.Services)
}

func TestLogs(t *testing.T) {
	logs := logSource{
		{Level: "info", Component: "server", Message: "one"},
		{Level: "warn", Component: "tts", Message: "two"},
		{Level: "error", Component: "llm", Message: "three"},
	}
	srv := newTestServer(t, Options{Logs: logs})

	resp, err := srv.Client().Get(srv.URL + "/api/logs?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []logging.LogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, "three", got[1].Message)

	bad, err := srv.Client().Get(srv.URL + "/api/logs?limit=lots")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cortexvoice_active_sessions")
}

func TestWebsocket_SpeakRoundTrip(t *testing.T) {
	srv := newTestServer(t, Options{})
	ws := dial(t, srv, nil)

	require.NoError(t, ws.WriteJSON(session.Inbound{Type: session.TypeSpeak, Text: "Hello there."}))
	seen := readUntil(t, ws, session.TypeTextComplete)

	var audio []session.Message
	for _, m := range seen {
		if m.Type == session.TypeAudioChunk {
			audio = append(audio, m)
		}
	}
	require.Len(t, audio, 1)
	assert.Equal(t, "Hello there.", string(audio[0].Audio))
	assert.Equal(t, 1, audio[0].Sentence)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveSessions))
}

func TestWebsocket_BadJSON(t *testing.T) {
	srv := newTestServer(t, Options{})
	ws := dial(t, srv, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	seen := readUntil(t, ws, session.TypeError)
	assert.Equal(t, session.CodeBadRequest, seen[len(seen)-1].Code)

	// The connection survives a bad message.
	require.NoError(t, ws.WriteJSON(session.Inbound{Type: "bogus"}))
	seen = readUntil(t, ws, session.TypeError)
	assert.Equal(t, session.CodeBadRequest, seen[len(seen)-1].Code)
}

func TestWebsocket_OriginCheck(t *testing.T) {
	srv := newTestServer(t, Options{Config: config.ServerConfig{
		AllowedOrigins: []string{"localhost:3000"},
	}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws := dial(t, srv, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, ws.WriteJSON(session.Inbound{Type: session.TypeInterrupt}))
}

func TestRun_StopsOnCancel(t *testing.T) {
	sched := &blockingScheduler{stopped: make(chan struct{})}
	s := New(Options{
		Config:    config.ServerConfig{Addr: "127.0.0.1:0"},
		Scheduler: sched,
		Logger:    logging.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-sched.stopped
}

func drain(c *conn) map[string]int {
	got := map[string]int{}
	for {
		select {
		case m := <-c.out:
			got[m.Type]++
		default:
			return got
		}
	}
}

func TestEnqueue_ShedsOnlyTextChunks(t *testing.T) {
	c := newConn(nil, logging.Nop())

	for i := 0; i < outboundQueueSize; i++ {
		c.enqueue(session.Message{Type: session.TypeTextChunk, Text: "word "})
	}
	c.enqueue(session.Message{Type: session.TypeAudioChunk, Sentence: 0})
	c.enqueue(session.Message{Type: session.TypeTextComplete, Text: "full reply"})

	got := drain(c)
	assert.Equal(t, textChunkLimit, got[session.TypeTextChunk])
	assert.Equal(t, 1, got[session.TypeAudioChunk])
	assert.Equal(t, 1, got[session.TypeTextComplete])
}

func TestEnqueue_FullQueueWaitsForWriter(t *testing.T) {
	c := newConn(nil, logging.Nop())
	for i := 0; i < outboundQueueSize; i++ {
		c.enqueue(session.Message{Type: session.TypeAudioChunk, Sentence: i})
	}

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		c.enqueue(session.Message{Type: session.TypeInterrupted})
	}()

	select {
	case <-sent:
		t.Fatal("enqueue returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	first := <-c.out
	assert.Equal(t, 0, first.Sentence)
	<-sent

	got := drain(c)
	assert.Equal(t, outboundQueueSize-1, got[session.TypeAudioChunk])
	assert.Equal(t, 1, got[session.TypeInterrupted])
}

func TestEnqueue_StopsWaitingWhenWriterExits(t *testing.T) {
	c := newConn(nil, logging.Nop())
	for i := 0; i < outboundQueueSize; i++ {
		c.enqueue(session.Message{Type: session.TypeAudioChunk})
	}
	before := testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues(session.TypeTextComplete))

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		c.enqueue(session.Message{Type: session.TypeTextComplete})
	}()
	close(c.closed)

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("enqueue still blocked after the writer stopped")
	}
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues(session.TypeTextComplete)))
}
