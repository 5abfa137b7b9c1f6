package ai

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingModel returns a fixed answer and keeps the last prompt it saw.
type recordingModel struct {
	answer string
	input  []*schema.Message
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return schema.AssistantMessage(m.answer, nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.answer, nil)}), nil
}

func TestReplyBuildsPromptFromHistory(t *testing.T) {
	m := &recordingModel{answer: "Here is a plan..."}
	svc, err := NewServiceWithModel(context.Background(), m, zerolog.Nop())
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), "Plan my week", []string{"User: hi", "Assistant: hello", "noise"})
	require.NoError(t, err)
	assert.Equal(t, "Here is a plan...", reply)

	require.Len(t, m.input, 4)
	assert.Equal(t, schema.System, m.input[0].Role)
	assert.Equal(t, schema.User, m.input[1].Role)
	assert.Equal(t, "hi", m.input[1].Content)
	assert.Equal(t, schema.Assistant, m.input[2].Role)
	assert.Equal(t, "Plan my week", m.input[3].Content)
}

func TestGenerateTasksParsesNumberedList(t *testing.T) {
	m := &recordingModel{answer: "1. Buy milk\n2) Call mom\n\n- Book flights"}
	svc, err := NewServiceWithModel(context.Background(), m, zerolog.Nop())
	require.NoError(t, err)

	tasks, err := svc.GenerateTasks(context.Background(), "errands")
	require.NoError(t, err)
	assert.Equal(t, []string{"Buy milk", "Call mom", "Book flights"}, tasks)
}

func TestEmptyInputsSkipModel(t *testing.T) {
	m := &recordingModel{answer: "unused"}
	svc, err := NewServiceWithModel(context.Background(), m, zerolog.Nop())
	require.NoError(t, err)

	reply, err := svc.Reply(context.Background(), "  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "Please provide a message.", reply)

	summary, err := svc.Summarize(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Nil(t, m.input)
}

func TestBuildHistoryMessagesKeepsRecentLines(t *testing.T) {
	lines := make([]string, 0, 14)
	for i := 0; i < 7; i++ {
		lines = append(lines, "User: q", "Assistant: a")
	}
	assert.Len(t, buildHistoryMessages(lines), historyLimit)
	assert.Nil(t, buildHistoryMessages(nil))
}

func TestEchoResponder(t *testing.T) {
	ctx := context.Background()
	var r Responder = EchoResponder{}

	reply, err := r.Reply(ctx, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", reply)

	summary, err := r.Summarize(ctx, "First point. Second point.")
	require.NoError(t, err)
	assert.Equal(t, "First point.", summary)

	tasks, err := r.GenerateTasks(ctx, "buy milk and call mom; book flights")
	require.NoError(t, err)
	assert.Equal(t, []string{"buy milk", "call mom", "book flights"}, tasks)
}
