// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// summarySystemPrompt frames the model as an ops reporter, not a chat
// assistant.
const summarySystemPrompt = "You are an infrastructure operations reporter. " +
	"Given a JSON health report for a small service fleet, write a short plain-text " +
	"summary (3-6 sentences) for the operator: overall fleet health, notable incidents " +
	"or alerts, and any resource trends worth watching. No markdown, no preamble."

// LLMSummarizer writes the daily report narrative with a local model
// through an OpenAI-compatible endpoint (Ollama's /v1 API).
type LLMSummarizer struct {
	client *openai.Client
	model  string
}

// NewLLMSummarizer builds a summarizer against baseURL. The key is a
// placeholder for local endpoints that ignore authentication.
func NewLLMSummarizer(baseURL, model string) *LLMSummarizer {
	cfg := openai.DefaultConfig("harbormaster")
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMSummarizer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Summarize implements ReportSummarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, report *DailyReport) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

var _ ReportSummarizer = (*LLMSummarizer)(nil)
