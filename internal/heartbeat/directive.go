package heartbeat

import (
	"context"
	"strings"
	"time"
)

// directiveCheckName is the synthetic CheckResult name for the directive
// execution step, so it shows up in Tick.Results alongside registered
// checks.
const directiveCheckName = "heartbeat_directive"

// heartbeatOKToken is the literal marker a directive run must emit to
// signal "nothing to do". Matching is case-insensitive and underscore-
// agnostic (so "heartbeat_ok" and "HeartbeatOK" both count).
const heartbeatOKToken = "heartbeatok"

var directiveLineMarkers = []string{"- [ ]", "* [ ]", "- [x]", "* [x]"}

// IsDirectiveEmpty reports whether a heartbeat directive file's contents
// count as empty: every non-blank, non-comment line matches one of the
// checklist markers (so a file that is entirely unchecked/checked boxes
// carries no actionable instruction).
func IsDirectiveEmpty(contents string) bool {
	for _, line := range strings.Split(contents, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		matched := false
		for _, marker := range directiveLineMarkers {
			if strings.HasPrefix(trimmed, marker) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// IsHeartbeatOK reports whether a directive run's response signals "no
// action taken", by scanning for the literal token ignoring case and
// underscores.
func IsHeartbeatOK(response string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(response, "_", ""))
	return strings.Contains(normalized, heartbeatOKToken)
}

// DirectiveRunner executes one LLM-driven step against a non-empty
// directive and returns the raw response text. The core only owns the
// empty-file detection and HEARTBEAT_OK interpretation; invoking the
// language model itself is an external collaborator's concern.
type DirectiveRunner func(ctx context.Context, botName, directive string) (string, error)

// RunDirectiveStep is step 2 of the per-tick algorithm: if directive is
// non-empty, invoke runner and classify the result as a CheckResult.
// An empty directive or a nil runner is reported as a skipped result so
// callers can tell "nothing configured" from "nothing to do".
func RunDirectiveStep(ctx context.Context, runner DirectiveRunner, botName, directive string) CheckResult {
	start := time.Now()
	res := CheckResult{CheckName: directiveCheckName, StartedAt: start}

	if runner == nil || IsDirectiveEmpty(directive) {
		res.Status = CheckSkipped
		res.Success = true
		res.EndedAt = time.Now()
		res.Message = "no directive"
		return res
	}

	response, err := runner(ctx, botName, directive)
	res.EndedAt = time.Now()
	if err != nil {
		res.Status = CheckFailed
		res.Success = false
		res.Error = err.Error()
		res.ErrorKind = "UpstreamFailure"
		return res
	}

	res.Status = CheckSuccess
	res.Success = true
	if IsHeartbeatOK(response) {
		res.Message = "no action"
	} else {
		res.Message = "action taken: " + truncateForLog(response, 280)
	}
	return res
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
