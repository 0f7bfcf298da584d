// Package command decides whether an utterance names a discrete action and,
// if so, extracts it as a normalized Command.
package command

import "context"

// Kind tags a Command.
type Kind string

const (
	AddNote              Kind = "add_note"
	AddTodo              Kind = "add_todo"
	CompleteTodo         Kind = "complete_todo"
	ClearTodos           Kind = "clear_todos"
	ClearNotes           Kind = "clear_notes"
	LogData              Kind = "log_data"
	ReadTodos            Kind = "read_todos"
	ReadNotes            Kind = "read_notes"
	OpenWorkspace        Kind = "open_workspace"
	SearchWeb            Kind = "search_web"
	OpenEyes             Kind = "open_eyes"
	CloseEyes            Kind = "close_eyes"
	DescribeView         Kind = "describe_view"
	DeviceOn             Kind = "device_on"
	DeviceOff            Kind = "device_off"
	DeviceSetTemperature Kind = "device_set_temperature"
	DeviceQuery          Kind = "device_query"
	DeviceList           Kind = "device_list"
	Clarify              Kind = "clarify"
	None                 Kind = "none"
)

// AllKinds lists every kind in a stable order.
func AllKinds() []Kind {
	return []Kind{
		AddNote, AddTodo, CompleteTodo, ClearTodos, ClearNotes, LogData,
		ReadTodos, ReadNotes, OpenWorkspace, SearchWeb,
		OpenEyes, CloseEyes, DescribeView,
		DeviceOn, DeviceOff, DeviceSetTemperature, DeviceQuery, DeviceList,
		Clarify, None,
	}
}

// IsValid checks if k is a known kind.
func (k Kind) IsValid() bool {
	for _, valid := range AllKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// Command is a normalized action. Only the fields its Kind needs are set.
type Command struct {
	Kind Kind `json:"kind"`

	// Content is the note, todo or logged text.
	Content string `json:"content,omitempty"`
	// Query is the web search query.
	Query string `json:"query,omitempty"`
	// Device is the spoken device name.
	Device string `json:"device,omitempty"`
	// Value and Unit carry a temperature setting.
	Value float64 `json:"value,omitempty"`
	Unit  string  `json:"unit,omitempty"`
	// Message is the clarifying question for Clarify.
	Message string `json:"message,omitempty"`
}

// IsAction reports whether the command should be dispatched rather than
// forwarded to generation.
func (c Command) IsAction() bool {
	return c.Kind != None && c.Kind != ""
}

// Source records which stage produced a command.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Result is a classifier outcome. Abstained means the classifier could not
// decide and the caller should fall through to the cascade.
type Result struct {
	Command   Command
	Abstained bool
}

// Abstain is the sentinel outcome for transport or parse failures.
func Abstain() Result {
	return Result{Abstained: true}
}

// Classifier maps raw user text to a command.
type Classifier interface {
	Classify(ctx context.Context, text string) Result
}
