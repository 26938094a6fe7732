package compactor

import (
	"fmt"
	"log/slog"
)

// Compactor shrinks message lists to a token budget while preserving
// tool-use/tool-result pairing.
type Compactor struct {
	policy  Policy
	counter TokenCounter
	flush   MemoryFlushHook
}

// New builds a Compactor. counter must not be nil; flush may be nil to
// disable the pre-compaction memory-flush hook.
func New(policy Policy, counter TokenCounter, flush MemoryFlushHook) *Compactor {
	return &Compactor{policy: policy, counter: counter, flush: flush}
}

// ShouldCompact reports whether messages exceed maxTokens*threshold_percent
// and the policy is enabled and not in "off" mode.
func (c *Compactor) ShouldCompact(messages []Message, maxTokens int) bool {
	if !c.policy.Enabled || c.policy.Mode == ModeOff {
		return false
	}
	return c.counter(messages) > int(float64(maxTokens)*c.policy.ThresholdPercent)
}

// Compact runs the configured strategy and returns the result. Callers
// should gate calls on ShouldCompact; Compact itself does not re-check it,
// so it can also be invoked manually (e.g. a forced compaction command).
func (c *Compactor) Compact(messages []Message) Result {
	before := c.counter(messages)

	var compacted []Message
	switch c.policy.Mode {
	case ModeSummary:
		compacted = c.compactSummary(messages)
	default:
		compacted = c.compactTokenLimit(messages)
	}

	after := c.counter(compacted)
	ratio := 1.0
	if before > 0 {
		ratio = float64(after) / float64(before)
	}

	return Result{
		Messages:        compacted,
		OriginalCount:   len(messages),
		CompactedCount:  len(compacted),
		TokensBefore:    before,
		TokensAfter:     after,
		CompactionRatio: ratio,
		Mode:            c.policy.Mode,
	}
}

func (c *Compactor) runFlush(dropped []Message) {
	if !c.policy.EnableMemoryFlush || c.flush == nil || len(dropped) == 0 {
		return
	}
	if err := c.flush(dropped); err != nil {
		slog.Warn("memory flush hook failed", "error", err)
	}
}

// compactSummary keeps the last PreserveRecent messages verbatim and
// replaces every earlier chunk of SummaryChunkSize with one synthetic
// system message.
func (c *Compactor) compactSummary(messages []Message) []Message {
	preserve := c.policy.PreserveRecent
	if preserve > len(messages) {
		preserve = len(messages)
	}
	splitAt := len(messages) - preserve
	older := messages[:splitAt]
	recent := messages[splitAt:]

	c.runFlush(older)

	chunkSize := c.policy.SummaryChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}

	var summaries []Message
	for i := 0; i < len(older); i += chunkSize {
		end := i + chunkSize
		if end > len(older) {
			end = len(older)
		}
		summaries = append(summaries, Message{
			Role:    "system",
			Content: fmt.Sprintf("[Earlier conversation summary]: %s", summarizeChunk(older[i:end])),
		})
	}

	out := make([]Message, 0, len(summaries)+len(recent))
	out = append(out, summaries...)
	out = append(out, recent...)
	return out
}

func summarizeChunk(chunk []Message) string {
	var turns int
	for _, m := range chunk {
		if m.Role == "user" {
			turns++
		}
	}
	return fmt.Sprintf("%d messages (%d user turns) omitted", len(chunk), turns)
}

// compactTokenLimit scans backwards from len-min_messages for a safe
// boundary (an assistant message whose every tool_use has a matching
// tool_result at a later index) and truncates there, keeping everything
// from the boundary onward. If no safe boundary exists it truncates at
// len-min_messages regardless.
func (c *Compactor) compactTokenLimit(messages []Message) []Message {
	min := c.policy.MinMessages
	if min <= 0 || min >= len(messages) {
		return messages
	}

	searchEnd := len(messages) - min
	boundary := -1
	if c.policy.PreserveToolChains {
		for i := searchEnd; i >= 0; i-- {
			if messages[i].Role == "assistant" && isSafeBoundary(messages, i) {
				boundary = i
				break
			}
		}
	}
	if boundary < 0 {
		boundary = searchEnd
	}

	c.runFlush(messages[:boundary])
	out := make([]Message, len(messages)-boundary)
	copy(out, messages[boundary:])
	return out
}

// isSafeBoundary reports whether truncating a message list to keep only
// messages[i:] preserves every tool_use/tool_result pair intact: no pair
// may have its tool_use dropped (index < i) while its tool_result is kept
// (index >= i), or vice versa. Checking only the message at i is not
// enough — an assistant tool_use can sit well before the candidate
// boundary while its tool_result (a later "tool" message) falls on or
// after it, which would orphan the result.
func isSafeBoundary(messages []Message, i int) bool {
	if i <= 0 || i >= len(messages) {
		return true
	}
	useIndex := make(map[string]int)
	for idx, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, tc := range msg.ToolCalls {
			useIndex[tc.ID] = idx
		}
	}
	for idx, msg := range messages {
		if msg.Role != "tool" {
			continue
		}
		useIdx, ok := useIndex[msg.ToolCallID]
		if !ok {
			continue
		}
		if (useIdx < i) != (idx < i) {
			return false
		}
	}
	return true
}
