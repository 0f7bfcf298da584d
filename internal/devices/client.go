// Package devices controls smart-home devices through the Home Assistant
// REST API.
package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrDeviceNotFound means no entity matched the spoken name.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNotConfigured is returned when no Home Assistant URL or token is set.
	ErrNotConfigured = errors.New("home assistant not configured")
)

// controllable lists the entity domains exposed to voice commands.
var controllable = map[string]bool{
	"light": true, "switch": true, "fan": true, "climate": true,
	"cover": true, "lock": true, "media_player": true, "sensor": true,
}

// State is one Home Assistant entity.
type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Domain is the entity_id prefix, e.g. "light".
func (s State) Domain() string {
	d, _, _ := strings.Cut(s.EntityID, ".")
	return d
}

// Name is the friendly name, falling back to the entity id.
func (s State) Name() string {
	if n, ok := s.Attributes["friendly_name"].(string); ok && n != "" {
		return n
	}
	_, obj, _ := strings.Cut(s.EntityID, ".")
	return strings.ReplaceAll(obj, "_", " ")
}

// Number reads a numeric attribute.
func (s State) Number(attr string) (float64, bool) {
	switch v := s.Attributes[attr].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Client is a minimal Home Assistant REST client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger

	mu       sync.Mutex
	tempUnit string
}

// NewClient creates a client for the instance at baseURL.
func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "devices").Logger(),
	}
}

// Ping checks the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	return c.do(ctx, http.MethodGet, "/api/", nil, &out)
}

// States returns every entity Home Assistant knows about.
func (c *Client) States(ctx context.Context) ([]State, error) {
	var out []State
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the voice-controllable entities sorted by name.
func (c *Client) List(ctx context.Context) ([]State, error) {
	all, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	var out []State
	for _, s := range all {
		if controllable[s.Domain()] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Find resolves a spoken name to an entity, optionally limited to domains.
func (c *Client) Find(ctx context.Context, spoken string, domains ...string) (*State, error) {
	all, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	return match(all, spoken, domains)
}

// match prefers an exact name, then a name containing the spoken words,
// then a spoken phrase containing the name.
func match(states []State, spoken string, domains []string) (*State, error) {
	allowed := func(s State) bool {
		if len(domains) == 0 {
			return controllable[s.Domain()]
		}
		for _, d := range domains {
			if s.Domain() == d {
				return true
			}
		}
		return false
	}

	want := normalizeName(spoken)
	if want == "" {
		return nil, ErrDeviceNotFound
	}
	passes := []func(name string) bool{
		func(name string) bool { return name == want },
		func(name string) bool { return strings.Contains(name, want) },
		func(name string) bool { return strings.Contains(want, name) },
	}
	for _, pass := range passes {
		for i := range states {
			s := states[i]
			if !allowed(s) {
				continue
			}
			if pass(normalizeName(s.Name())) {
				return &s, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, spoken)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "the ")
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
}

// TurnOn switches the matching entity on.
func (c *Client) TurnOn(ctx context.Context, spoken string) (*State, error) {
	return c.toggle(ctx, spoken, "turn_on")
}

// TurnOff switches the matching entity off.
func (c *Client) TurnOff(ctx context.Context, spoken string) (*State, error) {
	return c.toggle(ctx, spoken, "turn_off")
}

func (c *Client) toggle(ctx context.Context, spoken, service string) (*State, error) {
	s, err := c.Find(ctx, spoken, "light", "switch", "fan", "climate", "media_player")
	if err != nil {
		return nil, err
	}
	if err := c.callService(ctx, s.Domain(), service, map[string]any{"entity_id": s.EntityID}); err != nil {
		return nil, err
	}
	c.logger.Info().Str("entity", s.EntityID).Str("service", service).Msg("Device toggled")
	return s, nil
}

// SetTemperature sets a climate entity's target. unit is "F", "C" or empty
// for the instance's own unit; mismatched units are converted.
func (c *Client) SetTemperature(ctx context.Context, spoken string, value float64, unit string) (*State, float64, error) {
	s, err := c.Find(ctx, spoken, "climate")
	if err != nil {
		return nil, 0, err
	}

	target := value
	if unit != "" {
		haUnit, err := c.temperatureUnit(ctx)
		if err != nil {
			return nil, 0, err
		}
		target = convert(value, unit, haUnit)
	}

	if err := c.callService(ctx, "climate", "set_temperature", map[string]any{
		"entity_id":   s.EntityID,
		"temperature": target,
	}); err != nil {
		return nil, 0, err
	}
	c.logger.Info().Str("entity", s.EntityID).Float64("temperature", target).Msg("Temperature set")
	return s, target, nil
}

// Query returns the current state of the matching entity.
func (c *Client) Query(ctx context.Context, spoken string) (*State, error) {
	return c.Find(ctx, spoken)
}

// temperatureUnit returns "C" or "F" from /api/config, cached.
func (c *Client) temperatureUnit(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.tempUnit
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var cfg struct {
		UnitSystem struct {
			Temperature string `json:"temperature"`
		} `json:"unit_system"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return "", err
	}
	unit := "C"
	if strings.Contains(strings.ToUpper(cfg.UnitSystem.Temperature), "F") {
		unit = "F"
	}

	c.mu.Lock()
	c.tempUnit = unit
	c.mu.Unlock()
	return unit, nil
}

func convert(v float64, from, to string) float64 {
	switch {
	case from == "F" && to == "C":
		return roundHalf((v - 32) * 5 / 9)
	case from == "C" && to == "F":
		return roundHalf(v*9/5 + 32)
	}
	return v
}

func roundHalf(v float64) float64 {
	if v < 0 {
		return -roundHalf(-v)
	}
	return float64(int(v*2+0.5)) / 2
}

func (c *Client) callService(ctx context.Context, domain, service string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal service data: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.baseURL == "" || c.token == "" {
		return ErrNotConfigured
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("home assistant %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
