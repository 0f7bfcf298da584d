// Package vision talks to the face-recognition service that watches the
// camera. Capture and recognition happen in that service; this package only
// reads its results and toggles it.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/access"
)

// ErrDisabled is returned by Describe while the camera is off.
var ErrDisabled = errors.New("vision is disabled")

// Config points the client at the service.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Enabled  bool
}

// Emotion is the latest expression reading.
type Emotion struct {
	Label      string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

type identityResponse struct {
	Recognized bool   `json:"recognized"`
	Name       string `json:"name"`
	Role       string `json:"role"`
}

type describeResponse struct {
	Description string `json:"description"`
}

// Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger

	mu      sync.RWMutex
	enabled bool
}

// NewClient creates a client. The enabled flag is the starting state and
// changes through SetEnabled.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With().Str("component", "vision").Logger(),
		enabled:  cfg.Enabled,
	}
}

// Enabled reports whether the camera is on.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled turns the camera on or off at the service and records the new
// state only if the service accepted it.
func (c *Client) SetEnabled(ctx context.Context, enabled bool) error {
	body, _ := json.Marshal(map[string]bool{"enabled": enabled})
	resp, err := c.do(ctx, http.MethodPost, "/enable", body)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	c.logger.Info().Bool("enabled", enabled).Msg("Vision toggled")
	return nil
}

// CurrentIdentity returns who is in front of the camera, or nil when the
// camera is off or nobody is recognized.
func (c *Client) CurrentIdentity(ctx context.Context) (*access.Identity, error) {
	if !c.Enabled() {
		return nil, nil
	}
	resp, err := c.do(ctx, http.MethodGet, "/identity", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var out identityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if !out.Recognized {
		return nil, nil
	}
	role := access.Role(strings.ToLower(out.Role))
	if role == "" {
		role = access.RoleUnknown
	}
	return &access.Identity{Name: out.Name, Role: role}, nil
}

// CurrentEmotion returns the latest expression reading, or nil when there is
// none.
func (c *Client) CurrentEmotion(ctx context.Context) (*Emotion, error) {
	if !c.Enabled() {
		return nil, nil
	}
	resp, err := c.do(ctx, http.MethodGet, "/emotion", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var out Emotion
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode emotion: %w", err)
	}
	if out.Label == "" {
		return nil, nil
	}
	return &out, nil
}

// EmotionContext renders the emotion as a line for the system prompt.
// Low-confidence and neutral readings produce "".
func (c *Client) EmotionContext(ctx context.Context) string {
	e, err := c.CurrentEmotion(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("emotion unavailable")
		return ""
	}
	if e == nil || e.Confidence < 0.5 || strings.EqualFold(e.Label, "neutral") {
		return ""
	}
	return fmt.Sprintf("The user currently looks %s.", strings.ToLower(e.Label))
}

// Describe asks the service for a spoken description of the view.
func (c *Client) Describe(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	resp, err := c.do(ctx, http.MethodPost, "/describe", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out describeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode description: %w", err)
	}
	return strings.TrimSpace(out.Description), nil
}

// Health pings the service regardless of the camera state.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("vision %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
