package ai

import (
	"context"
	"regexp"
	"strings"
)

// EchoResponder answers deterministically when no model is configured.
type EchoResponder struct{}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// Reply acknowledges the message and how much context came with it.
func (EchoResponder) Reply(_ context.Context, message string, _ []string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "Please provide a message.", nil
	}
	return "You said: " + message, nil
}

// Summarize returns the first sentence of text.
func (EchoResponder) Summarize(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]+1]), nil
	}
	return text, nil
}

// GenerateTasks splits text into items on line breaks, semicolons and " and ".
func (EchoResponder) GenerateTasks(_ context.Context, text string) ([]string, error) {
	replacer := strings.NewReplacer(";", "\n", " and ", "\n", ",", "\n")
	return parseTaskList(replacer.Replace(text)), nil
}
