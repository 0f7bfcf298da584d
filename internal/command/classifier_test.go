package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/llm"
	"github.com/normanking/cortexvoice/internal/logging"
)

type fakeCaller struct {
	resp  *llm.ChatResponse
	err   error
	block bool

	gotReq   *llm.ChatRequest
	gotTools []llm.OllamaToolDef
}

func (f *fakeCaller) ChatWithTools(ctx context.Context, req *llm.ChatRequest, tools []llm.OllamaToolDef) (*llm.ChatResponse, error) {
	f.gotReq = req
	f.gotTools = tools
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func toolCall(name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{ToolCalls: []llm.ToolCallResult{{Name: name, Arguments: args}}}
}

func newTestClassifier(caller ToolCaller) *ModelClassifier {
	return NewModelClassifier(caller, "qwen2.5:1.5b", time.Second, EnabledKinds(nil), logging.Nop())
}

func TestModelClassifier_ToolCalls(t *testing.T) {
	tests := []struct {
		name string
		resp *llm.ChatResponse
		want Command
	}{
		{"add todo", toolCall("add_todo", `{"content":"call mom"}`), Command{Kind: AddTodo, Content: "call mom"}},
		{"content normalized", toolCall("add_note", `{"content":"the gate code is 1234."}`), Command{Kind: AddNote, Content: "gate code is 1234"}},
		{"search", toolCall("search_web", `{"query":"weather in Austin"}`), Command{Kind: SearchWeb, Query: "weather in Austin"}},
		{"no args", toolCall("read_todos", ""), Command{Kind: ReadTodos}},
		{"device", toolCall("device_on", `{"device":"kitchen lights"}`), Command{Kind: DeviceOn, Device: "kitchen lights"}},
		{"numeric value", toolCall("device_set_temperature", `{"device":"thermostat","value":70,"unit":"fahrenheit"}`),
			Command{Kind: DeviceSetTemperature, Device: "thermostat", Value: 70, Unit: "F"}},
		{"string value", toolCall("device_set_temperature", `{"device":"thermostat","value":"21.5","unit":"C"}`),
			Command{Kind: DeviceSetTemperature, Device: "thermostat", Value: 21.5, Unit: "C"}},
		{"none tool", toolCall("none", ""), Command{Kind: None}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(&fakeCaller{resp: tt.resp})
			res := c.Classify(context.Background(), "anything")
			require.False(t, res.Abstained)
			assert.Equal(t, tt.want, res.Command)
		})
	}
}

func TestModelClassifier_Abstains(t *testing.T) {
	tests := []struct {
		name   string
		caller *fakeCaller
	}{
		{"transport error", &fakeCaller{err: errors.New("connection refused")}},
		{"bad arguments", &fakeCaller{resp: toolCall("add_todo", `{"content":`)}},
		{"missing content", &fakeCaller{resp: toolCall("add_todo", `{}`)}},
		{"unknown tool", &fakeCaller{resp: toolCall("order_pizza", `{}`)}},
		{"bad number", &fakeCaller{resp: toolCall("device_set_temperature", `{"device":"thermostat","value":"warm"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestClassifier(tt.caller).Classify(context.Background(), "remind me to call mom")
			assert.True(t, res.Abstained)
		})
	}
}

func TestModelClassifier_Timeout(t *testing.T) {
	caller := &fakeCaller{block: true}
	c := NewModelClassifier(caller, "m", 20*time.Millisecond, EnabledKinds(nil), logging.Nop())

	start := time.Now()
	res := c.Classify(context.Background(), "remind me to call mom")
	assert.True(t, res.Abstained)
	assert.Less(t, time.Since(start), time.Second)
}

func TestModelClassifier_TextReplies(t *testing.T) {
	c := newTestClassifier(&fakeCaller{resp: &llm.ChatResponse{Content: "What would you like me to add to your list?"}})
	res := c.Classify(context.Background(), "add something to my list")
	require.False(t, res.Abstained)
	assert.Equal(t, Clarify, res.Command.Kind)
	assert.Equal(t, "What would you like me to add to your list?", res.Command.Message)

	for _, reply := range []string{"none", "None.", `"NONE"`} {
		c = newTestClassifier(&fakeCaller{resp: &llm.ChatResponse{Content: reply}})
		res = c.Classify(context.Background(), "tell me a joke")
		require.False(t, res.Abstained, reply)
		assert.Equal(t, None, res.Command.Kind, reply)
	}

	c = newTestClassifier(&fakeCaller{resp: &llm.ChatResponse{Content: "Sure, I can remind you to call your mom."}})
	res = c.Classify(context.Background(), "remind me to call mom")
	assert.True(t, res.Abstained)
}

func TestResolver_OffFormatReplyReachesCascade(t *testing.T) {
	c := newTestClassifier(&fakeCaller{resp: &llm.ChatResponse{Content: "Okay! I'll remember that."}})
	r := NewResolver(c, NewCascade(), nil, logging.Nop())

	cmd, source := r.Resolve(context.Background(), "remind me to call mom")
	assert.Equal(t, SourceFallback, source)
	assert.Equal(t, AddTodo, cmd.Kind)
	assert.Equal(t, "call mom", cmd.Content)
}

func TestModelClassifier_OffersOnlyEnabledTools(t *testing.T) {
	caller := &fakeCaller{resp: toolCall("search_web", `{"query":"news"}`)}
	c := NewModelClassifier(caller, "m", time.Second, EnabledKinds([]Kind{SearchWeb}), logging.Nop())

	res := c.Classify(context.Background(), "what's new")
	assert.True(t, res.Abstained, "a tool that was not offered is not trusted")

	for _, tool := range caller.gotTools {
		assert.NotEqual(t, string(SearchWeb), tool.Function.Name)
	}
	require.NotNil(t, caller.gotReq)
	assert.True(t, caller.gotReq.DisableThinking)
	assert.Equal(t, "m", caller.gotReq.Model)
}

func TestModelClassifier_EmptyText(t *testing.T) {
	caller := &fakeCaller{err: errors.New("should not be called")}
	res := newTestClassifier(caller).Classify(context.Background(), "   ")
	assert.Equal(t, Result{Command: Command{Kind: None}}, res)
	assert.Nil(t, caller.gotReq)
}
