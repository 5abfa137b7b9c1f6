package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// ChatRequest is the body of POST /ai/chat. History lines read "Speaker: text".
type ChatRequest struct {
	Message string   `json:"message"`
	History []string `json:"history"`
}

// ChatResponse is the reply of POST /ai/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// GeneratedTasks is the reply of POST /ai/generate-tasks.
type GeneratedTasks struct {
	Tasks   []string `json:"tasks"`
	Created bool     `json:"created"`
}

// DailySummary is the reply of GET /ai/daily-summary.
type DailySummary struct {
	Summary string `json:"summary"`
	Stats   string `json:"stats"`
}

// Chat sends one message with prior context and returns the assistant's answer.
func (c *Client) Chat(ctx context.Context, message string, history []string) (string, error) {
	if history == nil {
		history = []string{}
	}
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/ai/chat", ChatRequest{Message: message, History: history}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Summarize condenses free text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, "/ai/summarize", map[string]string{"text": text}, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// SummarizeNote asks the server to summarise and store the summary of a note.
func (c *Client) SummarizeNote(ctx context.Context, noteID int64) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/ai/summarize-note/%d", noteID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// GenerateTasks extracts task titles from text, optionally creating them.
func (c *Client) GenerateTasks(ctx context.Context, text string, autoCreate bool) (*GeneratedTasks, error) {
	body := map[string]string{"text": text, "autoCreate": strconv.FormatBool(autoCreate)}
	var resp GeneratedTasks
	if err := c.do(ctx, http.MethodPost, "/ai/generate-tasks", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DailySummary fetches today's activity summary.
func (c *Client) DailySummary(ctx context.Context) (*DailySummary, error) {
	var resp DailySummary
	if err := c.do(ctx, http.MethodGet, "/ai/daily-summary", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Insights fetches productivity insights over recent notes and tasks.
func (c *Client) Insights(ctx context.Context) (string, error) {
	var resp struct {
		Insights string `json:"insights"`
	}
	if err := c.do(ctx, http.MethodGet, "/ai/insights", nil, &resp); err != nil {
		return "", err
	}
	return resp.Insights, nil
}
