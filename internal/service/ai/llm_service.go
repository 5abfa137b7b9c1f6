package ai

import (
	"context"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/config"
)

const historyLimit = 10

var (
	_ Responder = (*Service)(nil)
	_ Responder = EchoResponder{}
)

// Responder produces assistant text. The chat core only forwards to it.
type Responder interface {
	Reply(ctx context.Context, message string, history []string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
	GenerateTasks(ctx context.Context, text string) ([]string, error)
}

// Service encapsulates model-backed responses.
type Service struct {
	prompts *PromptManager
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  zerolog.Logger
}

// NewService creates a Service over the Ark chat model described by cfg.
func NewService(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat model")
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel compiles the prompt chain around chatModel.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &Service{
		prompts: NewPromptManager(),
		chain:   runnable,
		logger:  logger.With().Str("component", "ai").Logger(),
	}, nil
}

// Reply answers message in the context of prior "Speaker: text" lines.
func (s *Service) Reply(ctx context.Context, message string, history []string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "Please provide a message.", nil
	}
	return s.run(ctx, TaskChat, message, buildHistoryMessages(history))
}

// Summarize condenses text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return s.run(ctx, TaskSummarize, text, nil)
}

// GenerateTasks extracts action items from text.
func (s *Service) GenerateTasks(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	out, err := s.run(ctx, TaskTasks, text, nil)
	if err != nil {
		return nil, err
	}
	return parseTaskList(out), nil
}

func (s *Service) run(ctx context.Context, task Task, text string, history []*schema.Message) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(task),
		"history": history,
		"query":   s.prompts.BuildQuery(task, text),
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "failed to run AI chain")
	}

	s.logger.Debug().Str("task", string(task)).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}

// buildHistoryMessages maps the trailing "User:"/"Assistant:" lines onto model roles.
func buildHistoryMessages(lines []string) []*schema.Message {
	if len(lines) == 0 {
		return nil
	}

	startIdx := 0
	if len(lines) > historyLimit {
		startIdx = len(lines) - historyLimit
	}

	history := make([]*schema.Message, 0, len(lines)-startIdx)
	for _, line := range lines[startIdx:] {
		switch {
		case strings.HasPrefix(line, "User: "):
			history = append(history, schema.UserMessage(strings.TrimPrefix(line, "User: ")))
		case strings.HasPrefix(line, "Assistant: "):
			history = append(history, schema.AssistantMessage(strings.TrimPrefix(line, "Assistant: "), nil))
		}
	}
	return history
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

func parseTaskList(text string) []string {
	tasks := []string{}
	for _, line := range strings.Split(text, "\n") {
		cleaned := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if cleaned != "" {
			tasks = append(tasks, cleaned)
		}
	}
	return tasks
}
