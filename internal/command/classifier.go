package command

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/llm"
)

// ToolCaller is the subset of the Ollama client the classifier needs.
type ToolCaller interface {
	ChatWithTools(ctx context.Context, req *llm.ChatRequest, tools []llm.OllamaToolDef) (*llm.ChatResponse, error)
}

const classifierPrompt = `You route voice commands for a personal assistant.
If the user asks for one of the available actions, call exactly one tool with the needed arguments.
If the user is just chatting or asking a question that is not an action, reply with the single word: none.
If the user wants to add a note or to-do but did not say what, ask a short question about what to add instead of calling a tool.`

// clarifyPattern recognizes a model reply asking for missing details.
var clarifyPattern = regexp.MustCompile(`(?i)\b(?:what would you like|what should i (?:add|note|put|write)|what do you want (?:me )?to|(?:could|can) you (?:clarify|specify|tell me what)|please (?:clarify|specify)|which (?:one|item|task|device))\b`)

// ModelClassifier asks a small tool-calling model to name the command.
type ModelClassifier struct {
	caller  ToolCaller
	model   string
	timeout time.Duration
	tools   []llm.OllamaToolDef
	allowed map[Kind]bool
	log     zerolog.Logger
}

// NewModelClassifier builds a classifier that only offers the enabled kinds
// as tools.
func NewModelClassifier(caller ToolCaller, model string, timeout time.Duration, enabled []Kind, log zerolog.Logger) *ModelClassifier {
	allowed := make(map[Kind]bool, len(enabled))
	var tools []llm.OllamaToolDef
	for _, k := range enabled {
		def, ok := toolDefs[k]
		if !ok {
			continue
		}
		allowed[k] = true
		tools = append(tools, llm.OllamaToolDef{Type: "function", Function: def})
	}
	return &ModelClassifier{
		caller:  caller,
		model:   model,
		timeout: timeout,
		tools:   tools,
		allowed: allowed,
		log:     log.With().Str("component", "classifier").Logger(),
	}
}

// Classify returns the model's command. Any transport or decoding problem
// abstains instead of failing.
func (c *ModelClassifier) Classify(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Command: Command{Kind: None}}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.caller.ChatWithTools(ctx, &llm.ChatRequest{
		Model:           c.model,
		SystemPrompt:    classifierPrompt,
		Messages:        []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:     0.01,
		DisableThinking: true,
	}, c.tools)
	if err != nil {
		c.log.Debug().Err(err).Msg("classifier call failed, abstaining")
		return Abstain()
	}

	if len(resp.ToolCalls) > 0 {
		cmd, err := c.decode(resp.ToolCalls[0])
		if err != nil {
			c.log.Debug().Err(err).Str("tool", resp.ToolCalls[0].Name).Msg("unusable tool call, abstaining")
			return Abstain()
		}
		return Result{Command: cmd}
	}

	reply := strings.TrimSpace(resp.Content)
	if clarifyPattern.MatchString(reply) {
		return Result{Command: Command{Kind: Clarify, Message: reply}}
	}
	if isNoneReply(reply) {
		return Result{Command: Command{Kind: None}}
	}
	c.log.Debug().Str("reply", reply).Msg("classifier replied off-format, abstaining")
	return Abstain()
}

// isNoneReply reports whether reply is the prompt's "none" answer, allowing
// for case, quotes and trailing punctuation.
func isNoneReply(reply string) bool {
	return strings.EqualFold(strings.Trim(reply, " \t\n\"'`.!"), "none")
}

type toolArgs struct {
	Content string          `json:"content"`
	Query   string          `json:"query"`
	Device  string          `json:"device"`
	Value   json.RawMessage `json:"value"`
	Unit    string          `json:"unit"`
}

func (c *ModelClassifier) decode(call llm.ToolCallResult) (Command, error) {
	kind := Kind(call.Name)
	if kind == None {
		return Command{Kind: None}, nil
	}
	if !c.allowed[kind] {
		return Command{}, fmt.Errorf("tool %q is not offered", call.Name)
	}

	var args toolArgs
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Command{}, fmt.Errorf("decode arguments: %w", err)
		}
	}

	cmd := Command{Kind: kind}
	switch kind {
	case AddNote, AddTodo, CompleteTodo, LogData:
		cmd.Content = normalizeContent(args.Content)
		if cmd.Content == "" {
			return Command{}, fmt.Errorf("%s needs content", kind)
		}
	case SearchWeb:
		cmd.Query = strings.TrimSpace(args.Query)
		if cmd.Query == "" {
			return Command{}, fmt.Errorf("search_web needs a query")
		}
	case DeviceOn, DeviceOff, DeviceQuery:
		cmd.Device = normalizeContent(args.Device)
		if cmd.Device == "" {
			return Command{}, fmt.Errorf("%s needs a device", kind)
		}
	case DeviceSetTemperature:
		cmd.Device = normalizeContent(args.Device)
		v, err := parseNumber(args.Value)
		if cmd.Device == "" || err != nil {
			return Command{}, fmt.Errorf("device_set_temperature needs a device and numeric value")
		}
		cmd.Value = v
		cmd.Unit = normalizeUnit(args.Unit)
	}
	return cmd, nil
}

// parseNumber accepts both 72 and "72".
func parseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func stringParam(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func params(required []string, props map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		p["required"] = required
	}
	return p
}

var (
	noParams      = params(nil, map[string]interface{}{})
	contentParams = params([]string{"content"}, map[string]interface{}{"content": stringParam("the text, without the command words")})
	deviceParams  = params([]string{"device"}, map[string]interface{}{"device": stringParam("the device name as spoken")})
)

var toolDefs = map[Kind]llm.OllamaFunctionDef{
	AddNote:       {Name: string(AddNote), Description: "Save a note.", Parameters: contentParams},
	AddTodo:       {Name: string(AddTodo), Description: "Add an item to the to-do list, including reminders.", Parameters: contentParams},
	CompleteTodo:  {Name: string(CompleteTodo), Description: "Mark a to-do item as done.", Parameters: contentParams},
	ClearTodos:    {Name: string(ClearTodos), Description: "Delete every to-do item.", Parameters: noParams},
	ClearNotes:    {Name: string(ClearNotes), Description: "Delete every note.", Parameters: noParams},
	LogData:       {Name: string(LogData), Description: "Log a data point such as weight, mood or water intake.", Parameters: contentParams},
	ReadTodos:     {Name: string(ReadTodos), Description: "Read the to-do list aloud.", Parameters: noParams},
	ReadNotes:     {Name: string(ReadNotes), Description: "Read the notes aloud.", Parameters: noParams},
	OpenWorkspace: {Name: string(OpenWorkspace), Description: "Open the workspace view.", Parameters: noParams},
	SearchWeb: {Name: string(SearchWeb), Description: "Search the web for current information.",
		Parameters: params([]string{"query"}, map[string]interface{}{"query": stringParam("the search query")})},
	OpenEyes:     {Name: string(OpenEyes), Description: "Turn on the camera.", Parameters: noParams},
	CloseEyes:    {Name: string(CloseEyes), Description: "Turn off the camera.", Parameters: noParams},
	DescribeView: {Name: string(DescribeView), Description: "Describe what the camera sees.", Parameters: noParams},
	DeviceOn:     {Name: string(DeviceOn), Description: "Turn a smart home device on.", Parameters: deviceParams},
	DeviceOff:    {Name: string(DeviceOff), Description: "Turn a smart home device off.", Parameters: deviceParams},
	DeviceSetTemperature: {Name: string(DeviceSetTemperature), Description: "Set a thermostat temperature.",
		Parameters: params([]string{"device", "value"}, map[string]interface{}{
			"device": stringParam("the thermostat or room"),
			"value":  map[string]interface{}{"type": "number", "description": "target temperature"},
			"unit":   map[string]interface{}{"type": "string", "enum": []string{"F", "C"}},
		})},
	DeviceQuery: {Name: string(DeviceQuery), Description: "Report the state of a smart home device.", Parameters: deviceParams},
	DeviceList:  {Name: string(DeviceList), Description: "List the smart home devices.", Parameters: noParams},
}
