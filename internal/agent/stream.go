package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jorge-barreto/weave/internal/workflow"
)

// streamResult holds what was parsed from the agent's JSONL event stream.
type streamResult struct {
	SessionID string
	Messages  []string
	Usage     *workflow.Usage
	Failure   string
}

// LastMessage returns the final agent message, if any.
func (r *streamResult) LastMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1]
}

type streamEvent struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Item     *streamItem     `json:"item"`
	Usage    *streamUsage    `json:"usage"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

type streamItem struct {
	Type     string `json:"type"`
	ItemType string `json:"item_type"`
	Text     string `json:"text"`
}

type streamUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

// processStream reads JSONL events from stdout, copies every raw line to
// tee, and extracts the session id, agent messages, usage and failures.
// Malformed lines are copied but otherwise skipped.
func processStream(ctx context.Context, stdout io.Reader, tee io.Writer) (*streamResult, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)

	var result streamResult
	for scanner.Scan() {
		if ctx.Err() != nil {
			return &result, ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if tee != nil {
			tee.Write(line)
			tee.Write([]byte{'\n'})
		}

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "thread.started":
			if event.ThreadID != "" {
				result.SessionID = event.ThreadID
			}
		case "item.completed":
			if event.Item != nil && isAgentMessage(event.Item) {
				result.Messages = append(result.Messages, event.Item.Text)
			}
		case "turn.completed":
			if event.Usage != nil {
				result.Usage = &workflow.Usage{
					InputTokens:       event.Usage.InputTokens,
					CachedInputTokens: event.Usage.CachedInputTokens,
					OutputTokens:      event.Usage.OutputTokens,
				}
			}
		case "turn.failed":
			result.Failure = errorMessage(event.Error, "turn failed")
		case "error":
			if event.Message != "" {
				result.Failure = event.Message
			} else {
				result.Failure = errorMessage(event.Error, "agent error")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return &result, fmt.Errorf("reading stream: %w", err)
	}
	return &result, nil
}

func isAgentMessage(item *streamItem) bool {
	t := item.Type
	if t == "" {
		t = item.ItemType
	}
	return t == "agent_message" || t == "assistant_message"
}

// errorMessage accepts either {"message": "..."} or a bare string.
func errorMessage(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return fallback
}
