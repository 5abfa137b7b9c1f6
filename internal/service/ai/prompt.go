package ai

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Task names the kind of completion requested from the model.
type Task string

const (
	TaskChat      Task = "chat"
	TaskSummarize Task = "summarize"
	TaskTasks     Task = "generate-tasks"
)

// PromptTemplate defines the system prompt and the query wrapper for a task.
type PromptTemplate struct {
	SystemPrompt string
	// QueryFormat wraps the user's text; it must contain exactly one %s.
	QueryFormat string
	Rules       []string
}

// PromptManager holds templates per task.
type PromptManager struct {
	templates map[Task]*PromptTemplate
}

// NewPromptManager creates a manager with the default templates.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[Task]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// GetPromptTemplate returns the template for task.
func (pm *PromptManager) GetPromptTemplate(task Task) (*PromptTemplate, error) {
	template, exists := pm.templates[task]
	if !exists {
		return nil, errors.Errorf("prompt template not found for task: %s", task)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt with its rules.
func (pm *PromptManager) BuildSystemPrompt(task Task) string {
	template, err := pm.GetPromptTemplate(task)
	if err != nil {
		return pm.templates[TaskChat].SystemPrompt
	}
	if len(template.Rules) == 0 {
		return template.SystemPrompt
	}

	var b strings.Builder
	b.WriteString(template.SystemPrompt)
	b.WriteString("\n\nRules:")
	for _, rule := range template.Rules {
		b.WriteString("\n- ")
		b.WriteString(rule)
	}
	return b.String()
}

// BuildQuery wraps text in the task's query format.
func (pm *PromptManager) BuildQuery(task Task, text string) string {
	template, err := pm.GetPromptTemplate(task)
	if err != nil || template.QueryFormat == "" {
		return text
	}
	return fmt.Sprintf(template.QueryFormat, text)
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[TaskChat] = &PromptTemplate{
		SystemPrompt: "You are a helpful productivity assistant. Help users manage their tasks, notes, and improve productivity.",
		QueryFormat:  "%s",
		Rules: []string{
			"Answer concisely and concretely.",
			"When the user asks for a plan, break it into actionable steps.",
		},
	}
	pm.templates[TaskSummarize] = &PromptTemplate{
		SystemPrompt: "You write concise summaries that keep every key point.",
		QueryFormat:  "Please provide a concise summary of the following text.\n\nText to summarize:\n%s",
	}
	pm.templates[TaskTasks] = &PromptTemplate{
		SystemPrompt: "You turn free text into actionable tasks.",
		QueryFormat:  "Based on the following text, generate a list of actionable tasks.\nFormat each task as a clear, concise action item.\nReturn the tasks as a numbered list.\n\nText:\n%s",
	}
}
