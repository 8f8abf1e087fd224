package agent

import (
	"context"
	"strings"
	"time"

	"relay/internal/llm"
	"relay/internal/logging"
)

const titlePrompt = "Write a short title (at most six words) for a conversation that starts with the following exchange. Reply with the title only, no quotes."

// generateTitle names a fresh thread off its first exchange. Detached
// from the request path: it runs on its own context and its failure is
// logged, never surfaced to the user.
func (r *Runner) generateTitle(threadID, userContent, assistantContent string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	model := r.cfg.TitleModel
	if model == "" {
		model = r.cfg.Model
	}
	req := llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: titlePrompt},
			{Role: "user", Content: clip(userContent, 2000) + "\n\n" + clip(assistantContent, 2000)},
		},
		Temperature: r.cfg.Temperature,
	}

	stream, err := r.client.StreamChat(ctx, req)
	if err != nil {
		logging.ErrorLog("title generation for thread %s: %v", threadID, err)
		return
	}

	var b strings.Builder
	for chunk := range stream.Chunks() {
		if chunk.Type == llm.ChunkTextDelta {
			b.WriteString(chunk.Text)
		}
	}
	if err := stream.Err(); err != nil {
		logging.ErrorLog("title generation stream for thread %s: %v", threadID, err)
		return
	}

	title := strings.Trim(strings.TrimSpace(b.String()), `"`)
	if title == "" {
		return
	}
	if err := r.store.RenameThread(ctx, threadID, clip(title, 120)); err != nil {
		logging.ErrorLog("store generated title for thread %s: %v", threadID, err)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
