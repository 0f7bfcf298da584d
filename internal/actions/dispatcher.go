// Package actions turns a resolved command into collaborator calls and a
// spoken confirmation.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/devices"
	"github.com/normanking/cortexvoice/internal/search"
	"github.com/normanking/cortexvoice/internal/vision"
	"github.com/normanking/cortexvoice/internal/workspace"
)

// Workspace is the subset of the workspace store the dispatcher uses.
type Workspace interface {
	AddNote(ctx context.Context, content string) (*workspace.Note, error)
	AddTodo(ctx context.Context, content string) (*workspace.Todo, error)
	CompleteTodo(ctx context.Context, content string) (*workspace.Todo, error)
	ClearTodos(ctx context.Context) (int, error)
	ClearNotes(ctx context.Context) (int, error)
	LogData(ctx context.Context, content string) (*workspace.Entry, error)
	ListTodos(ctx context.Context, includeDone bool) ([]workspace.Todo, error)
	ListNotes(ctx context.Context, limit int) ([]workspace.Note, error)
}

// Vision toggles and queries the camera service.
type Vision interface {
	SetEnabled(ctx context.Context, enabled bool) error
	Describe(ctx context.Context) (string, error)
}

// Devices controls the smart home.
type Devices interface {
	TurnOn(ctx context.Context, name string) (*devices.State, error)
	TurnOff(ctx context.Context, name string) (*devices.State, error)
	SetTemperature(ctx context.Context, name string, value float64, unit string) (*devices.State, float64, error)
	Query(ctx context.Context, name string) (*devices.State, error)
	List(ctx context.Context) ([]devices.State, error)
}

// Echo types sent to the client alongside the spoken confirmation.
const (
	EchoWorkspace = "workspace_command"
	EchoSearch    = "search_results"
)

// Echo is a structured side message for the client UI.
type Echo struct {
	Type    string
	Payload any
}

// WorkspaceCommand tells the client's workspace view what changed.
type WorkspaceCommand struct {
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// Outcome is the result of dispatching one command. Utterance is always
// speakable; Err keeps the underlying failure for logging and metrics.
type Outcome struct {
	Utterance string
	Echo      *Echo
	// Vision is the new camera state after open_eyes or close_eyes.
	Vision *bool
	Err    error
}

// Failed reports whether the utterance is an apology.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Deps are the dispatcher's collaborators. Any may be nil; commands that
// need a missing collaborator apologize.
type Deps struct {
	Workspace Workspace
	Search    search.Searcher
	Vision    Vision
	Devices   Devices
}

// Dispatcher maps commands to collaborator calls.
type Dispatcher struct {
	deps    Deps
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each collaborator call;
// zero means 15s.
func NewDispatcher(deps Deps, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		deps:    deps,
		timeout: timeout,
		logger:  logger.With().Str("component", "actions").Logger(),
	}
}

var errUnavailable = errors.New("collaborator not configured")

// Dispatch runs cmd and returns what to say. It never returns an error:
// failures are rendered as an apology in the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out := d.dispatch(ctx, cmd)
	if out.Err != nil {
		d.logger.Warn().Err(out.Err).Str("kind", string(cmd.Kind)).Msg("Action failed")
	} else {
		d.logger.Debug().Str("kind", string(cmd.Kind)).Str("utterance", out.Utterance).Msg("Action complete")
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Command) Outcome {
	switch cmd.Kind {
	case command.AddNote, command.AddTodo, command.CompleteTodo, command.ClearTodos,
		command.ClearNotes, command.LogData, command.ReadTodos, command.ReadNotes:
		if d.deps.Workspace == nil {
			return apology("Sorry, your workspace isn't available right now.", errUnavailable)
		}
		return d.workspace(ctx, cmd)

	case command.OpenWorkspace:
		return Outcome{
			Utterance: "Opening your workspace.",
			Echo:      &Echo{Type: EchoWorkspace, Payload: WorkspaceCommand{Action: "open"}},
		}

	case command.SearchWeb:
		return d.search(ctx, cmd.Query)

	case command.OpenEyes, command.CloseEyes, command.DescribeView:
		if d.deps.Vision == nil {
			return apology("Sorry, my camera isn't set up.", errUnavailable)
		}
		return d.vision(ctx, cmd.Kind)

	case command.DeviceOn, command.DeviceOff, command.DeviceSetTemperature,
		command.DeviceQuery, command.DeviceList:
		if d.deps.Devices == nil {
			return apology("Sorry, I can't reach your smart home right now.", errUnavailable)
		}
		return d.device(ctx, cmd)

	case command.Clarify:
		msg := strings.TrimSpace(cmd.Message)
		if msg == "" {
			msg = "What would you like me to add?"
		}
		return Outcome{Utterance: msg}
	}
	return apology("Sorry, I'm not sure how to do that.", fmt.Errorf("no action for kind %q", cmd.Kind))
}

func (d *Dispatcher) workspace(ctx context.Context, cmd command.Command) Outcome {
	ws := d.deps.Workspace
	changed := func(utterance string) Outcome {
		return Outcome{
			Utterance: utterance,
			Echo:      &Echo{Type: EchoWorkspace, Payload: WorkspaceCommand{Action: string(cmd.Kind), Content: cmd.Content}},
		}
	}

	switch cmd.Kind {
	case command.AddNote:
		if _, err := ws.AddNote(ctx, cmd.Content); err != nil {
			return apology("Sorry, I couldn't save that note.", err)
		}
		return changed("Added to your notes: " + cmd.Content)

	case command.AddTodo:
		if _, err := ws.AddTodo(ctx, cmd.Content); err != nil {
			return apology("Sorry, I couldn't add that to your to-do list.", err)
		}
		return changed("Added to your to-do list: " + cmd.Content)

	case command.CompleteTodo:
		t, err := ws.CompleteTodo(ctx, cmd.Content)
		if errors.Is(err, workspace.ErrNotFound) {
			return Outcome{Utterance: fmt.Sprintf("I couldn't find %s on your to-do list.", cmd.Content)}
		}
		if err != nil {
			return apology("Sorry, I couldn't update your to-do list.", err)
		}
		return changed("Marked as done: " + t.Content)

	case command.ClearTodos:
		if _, err := ws.ClearTodos(ctx); err != nil {
			return apology("Sorry, I couldn't clear your to-do list.", err)
		}
		return changed("Cleared your to-do list.")

	case command.ClearNotes:
		if _, err := ws.ClearNotes(ctx); err != nil {
			return apology("Sorry, I couldn't clear your notes.", err)
		}
		return changed("Cleared your notes.")

	case command.LogData:
		if _, err := ws.LogData(ctx, cmd.Content); err != nil {
			return apology("Sorry, I couldn't log that.", err)
		}
		return changed("Logged: " + cmd.Content)

	case command.ReadTodos:
		todos, err := ws.ListTodos(ctx, false)
		if err != nil {
			return apology("Sorry, I couldn't read your to-do list.", err)
		}
		items := make([]string, len(todos))
		for i, t := range todos {
			items[i] = t.Content
		}
		return Outcome{Utterance: readTodos(items)}

	case command.ReadNotes:
		notes, err := ws.ListNotes(ctx, 5)
		if err != nil {
			return apology("Sorry, I couldn't read your notes.", err)
		}
		if len(notes) == 0 {
			return Outcome{Utterance: "You don't have any notes."}
		}
		parts := make([]string, len(notes))
		for i, n := range notes {
			parts[i] = sentence(n.Content)
		}
		return Outcome{Utterance: "Here are your notes: " + strings.Join(parts, " ")}
	}
	return apology("Sorry, I'm not sure how to do that.", fmt.Errorf("no workspace action for %q", cmd.Kind))
}

func readTodos(items []string) string {
	switch len(items) {
	case 0:
		return "Your to-do list is empty."
	case 1:
		return fmt.Sprintf("You have one item on your to-do list: %s.", items[0])
	}
	return fmt.Sprintf("You have %d items on your to-do list: %s.", len(items), joinList(items))
}

func (d *Dispatcher) search(ctx context.Context, query string) Outcome {
	if d.deps.Search == nil {
		return apology("Sorry, web search isn't set up.", errUnavailable)
	}
	resp, err := d.deps.Search.Search(ctx, query)
	if err != nil {
		return apology("Sorry, I couldn't search the web right now.", err)
	}

	echo := &Echo{Type: EchoSearch, Payload: resp}
	if resp.Answer != "" {
		return Outcome{Utterance: "Here's what I found: " + sentence(resp.Answer), Echo: echo}
	}
	for _, r := range resp.Results {
		if r.Snippet != "" {
			return Outcome{Utterance: "Here's what I found: " + sentence(r.Snippet), Echo: echo}
		}
	}
	if len(resp.Results) > 0 {
		return Outcome{Utterance: "Here's what I found: " + sentence(resp.Results[0].Title), Echo: echo}
	}
	return Outcome{Utterance: "I couldn't find anything about that.", Echo: echo}
}

func (d *Dispatcher) vision(ctx context.Context, kind command.Kind) Outcome {
	switch kind {
	case command.OpenEyes, command.CloseEyes:
		on := kind == command.OpenEyes
		if err := d.deps.Vision.SetEnabled(ctx, on); err != nil {
			if on {
				return apology("Sorry, I couldn't open my eyes.", err)
			}
			return apology("Sorry, I couldn't close my eyes.", err)
		}
		if on {
			return Outcome{Utterance: "My eyes are open. I can see you now.", Vision: &on}
		}
		return Outcome{Utterance: "Okay, my eyes are closed.", Vision: &on}

	default:
		desc, err := d.deps.Vision.Describe(ctx)
		if errors.Is(err, vision.ErrDisabled) {
			return Outcome{Utterance: "My eyes are closed right now. Ask me to open them first."}
		}
		if err != nil {
			return apology("Sorry, I couldn't get a look right now.", err)
		}
		if desc == "" {
			return Outcome{Utterance: "I can't make anything out right now."}
		}
		return Outcome{Utterance: sentence(desc)}
	}
}

func (d *Dispatcher) device(ctx context.Context, cmd command.Command) Outcome {
	dev := d.deps.Devices
	switch cmd.Kind {
	case command.DeviceOn, command.DeviceOff:
		op, verb := dev.TurnOn, "on"
		if cmd.Kind == command.DeviceOff {
			op, verb = dev.TurnOff, "off"
		}
		s, err := op(ctx, cmd.Device)
		if err != nil {
			return deviceApology(cmd.Device, err)
		}
		return Outcome{Utterance: fmt.Sprintf("Turned %s the %s.", verb, s.Name())}

	case command.DeviceSetTemperature:
		s, _, err := dev.SetTemperature(ctx, cmd.Device, cmd.Value, cmd.Unit)
		if err != nil {
			return deviceApology(cmd.Device, err)
		}
		return Outcome{Utterance: fmt.Sprintf("Set the %s to %s degrees.", s.Name(), formatNumber(cmd.Value))}

	case command.DeviceQuery:
		s, err := dev.Query(ctx, cmd.Device)
		if err != nil {
			return deviceApology(cmd.Device, err)
		}
		return Outcome{Utterance: describeState(s)}

	default:
		list, err := dev.List(ctx)
		if err != nil {
			return apology("Sorry, I can't reach your smart home right now.", err)
		}
		if len(list) == 0 {
			return Outcome{Utterance: "I don't see any devices."}
		}
		names := make([]string, len(list))
		for i, s := range list {
			names[i] = s.Name()
		}
		if len(names) == 1 {
			return Outcome{Utterance: fmt.Sprintf("You have one device: %s.", names[0])}
		}
		return Outcome{Utterance: fmt.Sprintf("You have %d devices: %s.", len(names), joinList(names))}
	}
}

func deviceApology(name string, err error) Outcome {
	if errors.Is(err, devices.ErrDeviceNotFound) {
		return apology(fmt.Sprintf("I couldn't find a device called %s.", name), err)
	}
	return apology("Sorry, I can't reach your smart home right now.", err)
}

func describeState(s *devices.State) string {
	switch s.Domain() {
	case "climate":
		if cur, ok := s.Number("current_temperature"); ok {
			return fmt.Sprintf("The %s is set to %s, and it's currently %s degrees.", s.Name(), s.State, formatNumber(cur))
		}
		return fmt.Sprintf("The %s is set to %s.", s.Name(), s.State)
	case "sensor":
		if unit, ok := s.Attributes["unit_of_measurement"].(string); ok && unit != "" {
			return fmt.Sprintf("The %s is %s %s.", s.Name(), s.State, spokenUnit(unit))
		}
	}
	return fmt.Sprintf("The %s is %s.", s.Name(), s.State)
}

func spokenUnit(u string) string {
	switch u {
	case "°C":
		return "degrees Celsius"
	case "°F":
		return "degrees Fahrenheit"
	case "%":
		return "percent"
	}
	return u
}

func apology(utterance string, err error) Outcome {
	return Outcome{Utterance: utterance, Err: err}
}

// joinList renders "a", "a and b" or "a, b, and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}

// sentence ensures s ends with terminal punctuation so it segments cleanly.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
