package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/cortexvoice/internal/logging"
)

func TestTurnValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CST", -6*3600))
	v := Turn{
		SessionID: "s1",
		TurnID:    "t1",
		User:      "remind me to call mom",
		Assistant: "Added to your to-do list: call mom",
		Command:   "add_todo",
		Access:    "full",
		Duration:  1500 * time.Millisecond,
		At:        at,
	}.values()

	assert.Equal(t, "add_todo", v["command"])
	assert.Equal(t, "false", v["interrupted"])
	assert.Equal(t, int64(1500), v["duration_ms"])
	assert.Equal(t, "2026-03-01T15:30:00Z", v["at"])
	assert.NotContains(t, v, "domain")
	assert.NotContains(t, v, "model")
}

func TestNewRedisRecorder_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisRecorder(ctx, RedisConfig{Addr: "127.0.0.1:1"}, logging.Nop())
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Record(context.Background(), Turn{})
	assert.NoError(t, r.Close())
}
