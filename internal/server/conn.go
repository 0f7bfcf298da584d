package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/session"
)

const (
	// outboundQueueSize bounds messages waiting for the writer.
	outboundQueueSize = 256
	// textChunkLimit is the queue depth past which text chunks are shed.
	// The remaining slots are kept for audio and control messages.
	textChunkLimit = outboundQueueSize - 64
	// maxMessageSize allows a few seconds of base64 audio per message.
	maxMessageSize = 16 << 20
)

// conn is one websocket client. The read loop feeds the orchestrator and
// a single writer goroutine owns every write to the socket.
type conn struct {
	ws     *websocket.Conn
	out    chan session.Message
	closed chan struct{}
	logger zerolog.Logger
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{
		ws:     ws,
		out:    make(chan session.Message, outboundQueueSize),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// enqueue is the orchestrator's sink. Text chunks are shed once the writer
// falls behind; text_complete still carries the full reply. Every other
// message waits for room until the writer stops.
func (c *conn) enqueue(m session.Message) {
	if m.Type == session.TypeTextChunk && len(c.out) >= textChunkLimit {
		metrics.DroppedMessages.WithLabelValues(m.Type).Inc()
		c.logger.Debug().Msg("Outbound queue backed up, shedding text chunk")
		return
	}

	select {
	case c.out <- m:
		return
	default:
	}
	c.logger.Warn().Str("type", m.Type).Int("queued", len(c.out)).Msg("Outbound queue full, waiting for writer")
	select {
	case c.out <- m:
	case <-c.closed:
		metrics.DroppedMessages.WithLabelValues(m.Type).Inc()
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ws, s.logger)
	orch := session.New(s.opts.Session, s.opts.Deps, c.enqueue, s.opts.Logger)
	c.logger = s.logger.With().Str("session", orch.ID()).Logger()
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("Session connected")

	go func() {
		defer close(c.closed)
		c.writeLoop(ctx, s.opts.Config.WriteTimeout, s.opts.Config.PingInterval)
	}()

	c.readLoop(ctx, orch, 2*s.opts.Config.PingInterval)

	orch.Close()
	cancel()
	<-c.closed
	c.logger.Info().Msg("Session disconnected")
}

func (c *conn) readLoop(ctx context.Context, orch *session.Orchestrator, pongWait time.Duration) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var in session.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.enqueue(session.Message{Type: session.TypeError, Code: session.CodeBadRequest, Text: "message is not valid JSON"})
			continue
		}
		orch.Handle(ctx, in)
	}
}

func (c *conn) writeLoop(ctx context.Context, writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return

		case m := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(m); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
