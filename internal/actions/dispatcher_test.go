package actions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/devices"
	"github.com/normanking/cortexvoice/internal/logging"
	"github.com/normanking/cortexvoice/internal/search"
	"github.com/normanking/cortexvoice/internal/vision"
	"github.com/normanking/cortexvoice/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.SQLiteStore {
	t.Helper()
	ws, err := workspace.NewSQLiteStore(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestDispatch_Workspace(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(Deps{Workspace: newWorkspace(t)}, 0, logging.Nop())

	tests := []struct {
		cmd  command.Command
		want string
	}{
		{command.Command{Kind: command.ReadTodos}, "Your to-do list is empty."},
		{command.Command{Kind: command.AddTodo, Content: "call mom"}, "Added to your to-do list: call mom"},
		{command.Command{Kind: command.ReadTodos}, "You have one item on your to-do list: call mom."},
		{command.Command{Kind: command.AddTodo, Content: "buy milk"}, "Added to your to-do list: buy milk"},
		{command.Command{Kind: command.AddTodo, Content: "water the plants"}, "Added to your to-do list: water the plants"},
		{command.Command{Kind: command.ReadTodos}, "You have 3 items on your to-do list: call mom, buy milk, and water the plants."},
		{command.Command{Kind: command.CompleteTodo, Content: "milk"}, "Marked as done: buy milk"},
		{command.Command{Kind: command.CompleteTodo, Content: "walk the dog"}, "I couldn't find walk the dog on your to-do list."},
		{command.Command{Kind: command.ClearTodos}, "Cleared your to-do list."},
		{command.Command{Kind: command.ReadNotes}, "You don't have any notes."},
		{command.Command{Kind: command.AddNote, Content: "gate code is 1234"}, "Added to your notes: gate code is 1234"},
		{command.Command{Kind: command.AddNote, Content: "parking spot 4B."}, "Added to your notes: parking spot 4B."},
		{command.Command{Kind: command.ReadNotes}, "Here are your notes: gate code is 1234. parking spot 4B."},
		{command.Command{Kind: command.ClearNotes}, "Cleared your notes."},
		{command.Command{Kind: command.LogData, Content: "8 glasses of water"}, "Logged: 8 glasses of water"},
	}

	for _, tt := range tests {
		out := d.Dispatch(ctx, tt.cmd)
		assert.NoError(t, out.Err, tt.cmd.Kind)
		assert.Equal(t, tt.want, out.Utterance, tt.cmd.Kind)
	}
}

func TestDispatch_WorkspaceEcho(t *testing.T) {
	d := NewDispatcher(Deps{Workspace: newWorkspace(t)}, 0, logging.Nop())

	out := d.Dispatch(context.Background(), command.Command{Kind: command.AddTodo, Content: "call mom"})
	require.NotNil(t, out.Echo)
	assert.Equal(t, EchoWorkspace, out.Echo.Type)
	assert.Equal(t, WorkspaceCommand{Action: "add_todo", Content: "call mom"}, out.Echo.Payload)

	out = d.Dispatch(context.Background(), command.Command{Kind: command.OpenWorkspace})
	assert.Equal(t, "Opening your workspace.", out.Utterance)
	assert.Equal(t, WorkspaceCommand{Action: "open"}, out.Echo.Payload)

	out = d.Dispatch(context.Background(), command.Command{Kind: command.ReadTodos})
	assert.Nil(t, out.Echo, "reads change nothing")
}

type brokenWorkspace struct{ Workspace }

func (brokenWorkspace) AddTodo(context.Context, string) (*workspace.Todo, error) {
	return nil, errors.New("disk full")
}

func TestDispatch_FailuresApologize(t *testing.T) {
	d := NewDispatcher(Deps{Workspace: brokenWorkspace{}}, 0, logging.Nop())

	out := d.Dispatch(context.Background(), command.Command{Kind: command.AddTodo, Content: "call mom"})
	assert.True(t, out.Failed())
	assert.Equal(t, "Sorry, I couldn't add that to your to-do list.", out.Utterance)
	assert.NotContains(t, out.Utterance, "disk full")

	empty := NewDispatcher(Deps{}, 0, logging.Nop())
	for _, kind := range []command.Kind{command.AddNote, command.SearchWeb, command.OpenEyes, command.DeviceList} {
		out := empty.Dispatch(context.Background(), command.Command{Kind: kind, Content: "x", Query: "x"})
		assert.True(t, out.Failed(), kind)
		assert.NotEmpty(t, out.Utterance, kind)
	}

	out = empty.Dispatch(context.Background(), command.Command{Kind: command.None})
	assert.True(t, out.Failed())
}

type stubSearch struct {
	resp *search.Response
	err  error
	got  string
}

func (s *stubSearch) Name() string { return "stub" }

func (s *stubSearch) Search(_ context.Context, q string) (*search.Response, error) {
	s.got = q
	return s.resp, s.err
}

func TestDispatch_Search(t *testing.T) {
	s := &stubSearch{resp: &search.Response{Answer: "It's 75 and sunny in Austin", Results: []search.Result{{Title: "Weather"}}}}
	d := NewDispatcher(Deps{Search: s}, 0, logging.Nop())

	out := d.Dispatch(context.Background(), command.Command{Kind: command.SearchWeb, Query: "what's the weather in Austin"})
	assert.Equal(t, "what's the weather in Austin", s.got)
	assert.Equal(t, "Here's what I found: It's 75 and sunny in Austin.", out.Utterance)
	require.NotNil(t, out.Echo)
	assert.Equal(t, EchoSearch, out.Echo.Type)
	assert.Same(t, s.resp, out.Echo.Payload)

	s.resp = &search.Response{Results: []search.Result{{Title: "Everest", Snippet: "Everest is 8,849 m tall."}}}
	out = d.Dispatch(context.Background(), command.Command{Kind: command.SearchWeb, Query: "everest"})
	assert.Equal(t, "Here's what I found: Everest is 8,849 m tall.", out.Utterance)

	s.resp, s.err = nil, errors.New("timeout")
	out = d.Dispatch(context.Background(), command.Command{Kind: command.SearchWeb, Query: "everest"})
	assert.Equal(t, "Sorry, I couldn't search the web right now.", out.Utterance)
	assert.Nil(t, out.Echo)
}

type stubVision struct {
	enabled bool
	desc    string
	err     error
}

func (v *stubVision) SetEnabled(_ context.Context, on bool) error {
	if v.err != nil {
		return v.err
	}
	v.enabled = on
	return nil
}

func (v *stubVision) Describe(context.Context) (string, error) {
	if !v.enabled {
		return "", vision.ErrDisabled
	}
	return v.desc, v.err
}

func TestDispatch_Vision(t *testing.T) {
	v := &stubVision{desc: "You're sitting at a desk"}
	d := NewDispatcher(Deps{Vision: v}, 0, logging.Nop())
	ctx := context.Background()

	out := d.Dispatch(ctx, command.Command{Kind: command.DescribeView})
	assert.Equal(t, "My eyes are closed right now. Ask me to open them first.", out.Utterance)

	out = d.Dispatch(ctx, command.Command{Kind: command.OpenEyes})
	require.NotNil(t, out.Vision)
	assert.True(t, *out.Vision)

	out = d.Dispatch(ctx, command.Command{Kind: command.DescribeView})
	assert.Equal(t, "You're sitting at a desk.", out.Utterance)

	out = d.Dispatch(ctx, command.Command{Kind: command.CloseEyes})
	require.NotNil(t, out.Vision)
	assert.False(t, *out.Vision)

	v.err = errors.New("camera busy")
	out = d.Dispatch(ctx, command.Command{Kind: command.OpenEyes})
	assert.True(t, out.Failed())
	assert.Nil(t, out.Vision)
}

type stubDevices struct {
	states map[string]devices.State
	err    error
	target float64
}

func (s *stubDevices) find(name string) (*devices.State, error) {
	if s.err != nil {
		return nil, s.err
	}
	st, ok := s.states[name]
	if !ok {
		return nil, devices.ErrDeviceNotFound
	}
	return &st, nil
}

func (s *stubDevices) TurnOn(_ context.Context, n string) (*devices.State, error) { return s.find(n) }
func (s *stubDevices) TurnOff(_ context.Context, n string) (*devices.State, error) { return s.find(n) }
func (s *stubDevices) Query(_ context.Context, n string) (*devices.State, error) { return s.find(n) }

func (s *stubDevices) SetTemperature(_ context.Context, n string, v float64, _ string) (*devices.State, float64, error) {
	st, err := s.find(n)
	s.target = v
	return st, v, err
}

func (s *stubDevices) List(context.Context) ([]devices.State, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []devices.State{s.states["lamp"], s.states["thermostat"]}, nil
}

func TestDispatch_Devices(t *testing.T) {
	dev := &stubDevices{states: map[string]devices.State{
		"lamp":       {EntityID: "light.lamp", State: "on", Attributes: map[string]any{"friendly_name": "Desk Lamp"}},
		"thermostat": {EntityID: "climate.hall", State: "heat", Attributes: map[string]any{"friendly_name": "Thermostat", "current_temperature": 21.5}},
		"bedroom":    {EntityID: "sensor.bedroom", State: "19.8", Attributes: map[string]any{"friendly_name": "Bedroom Temperature", "unit_of_measurement": "°C"}},
	}}
	d := NewDispatcher(Deps{Devices: dev}, 0, logging.Nop())
	ctx := context.Background()

	tests := []struct {
		cmd  command.Command
		want string
	}{
		{command.Command{Kind: command.DeviceOn, Device: "lamp"}, "Turned on the Desk Lamp."},
		{command.Command{Kind: command.DeviceOff, Device: "lamp"}, "Turned off the Desk Lamp."},
		{command.Command{Kind: command.DeviceSetTemperature, Device: "thermostat", Value: 72}, "Set the Thermostat to 72 degrees."},
		{command.Command{Kind: command.DeviceQuery, Device: "lamp"}, "The Desk Lamp is on."},
		{command.Command{Kind: command.DeviceQuery, Device: "thermostat"}, "The Thermostat is set to heat, and it's currently 21.5 degrees."},
		{command.Command{Kind: command.DeviceQuery, Device: "bedroom"}, "The Bedroom Temperature is 19.8 degrees Celsius."},
		{command.Command{Kind: command.DeviceList}, "You have 2 devices: Desk Lamp and Thermostat."},
		{command.Command{Kind: command.DeviceOn, Device: "garage"}, "I couldn't find a device called garage."},
	}
	for _, tt := range tests {
		out := d.Dispatch(ctx, tt.cmd)
		assert.Equal(t, tt.want, out.Utterance, tt.cmd.Kind)
	}

	dev.err = errors.New("connection refused")
	out := d.Dispatch(ctx, command.Command{Kind: command.DeviceOn, Device: "lamp"})
	assert.Equal(t, "Sorry, I can't reach your smart home right now.", out.Utterance)
}

func TestDispatch_Clarify(t *testing.T) {
	d := NewDispatcher(Deps{}, 0, logging.Nop())
	out := d.Dispatch(context.Background(), command.Command{Kind: command.Clarify, Message: "What should I add?"})
	assert.Equal(t, "What should I add?", out.Utterance)
	assert.False(t, out.Failed())

	out = d.Dispatch(context.Background(), command.Command{Kind: command.Clarify})
	assert.Equal(t, "What would you like me to add?", out.Utterance)
}

func TestJoinList(t *testing.T) {
	assert.Equal(t, "", joinList(nil))
	assert.Equal(t, "a", joinList([]string{"a"}))
	assert.Equal(t, "a and b", joinList([]string{"a", "b"}))
	assert.Equal(t, "a, b, and c", joinList([]string{"a", "b", "c"}))
}
