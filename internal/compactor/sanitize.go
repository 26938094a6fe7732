package compactor

import "log/slog"

// Sanitize repairs tool_use/tool_result pairing in an arbitrary message
// list: it drops leading orphaned tool messages, drops mid-history tool
// messages with no matching tool_use, and synthesizes a placeholder
// result for any tool_use left unanswered. Useful after a naive
// truncation (e.g. a hard message-count cap applied upstream) to restore
// the invariant the token-limit strategy otherwise preserves by
// construction.
func Sanitize(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	start := 0
	for start < len(messages) && messages[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start", "tool_call_id", messages[start].ToolCallID)
		start++
	}
	if start >= len(messages) {
		return nil
	}

	var result []Message
	for i := start; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expected := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
			}
			result = append(result, msg)

			for i+1 < len(messages) && messages[i+1].Role == "tool" {
				i++
				toolMsg := messages[i]
				if expected[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expected, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result", "tool_call_id", toolMsg.ToolCallID)
				}
			}

			for id := range expected {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, Message{
					Role:       "tool",
					Content:    "[Tool result missing — session was compacted]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history", "tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}

// LimitTurns keeps only the last limit user turns (a turn = one user
// message plus every subsequent non-user message up to the next user
// message). limit<=0 disables trimming.
func LimitTurns(messages []Message, limit int) []Message {
	if limit <= 0 || len(messages) == 0 {
		return messages
	}

	userCount := 0
	lastUserIndex := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			userCount++
			if userCount > limit {
				return messages[lastUserIndex:]
			}
			lastUserIndex = i
		}
	}
	return messages
}
