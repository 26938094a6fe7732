// Package coordinator turns a user request into tasks, routes them to the
// best specialist, and tracks task lifecycle to completion or failure.
package coordinator

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botmesh/internal/bus"
	"github.com/nextlevelbuilder/botmesh/internal/tracing"
)

// Complexity is the coarse-grained difficulty estimate of a request.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Approach is the coordinator's recommended handling strategy.
type Approach string

const (
	ApproachAskForClarification Approach = "ask_for_clarification"
	ApproachRouteToSpecialist   Approach = "route_to_specialist"
	ApproachDecomposeAndDelegate Approach = "decompose_and_delegate"
	ApproachParallelDelegation  Approach = "parallel_delegation"
)

// Analysis is the output of analyzing a user request.
type Analysis struct {
	Content      string
	UserID       string
	Complexity   Complexity
	Domains      []string
	RequiresTeam bool
	Approach     Approach
}

// complexityLevel keeps keyword groups in the exact evaluation order the
// original classifier used: high keywords checked before medium before low.
type complexityLevel struct {
	level    Complexity
	keywords []string
}

var complexityLevels = []complexityLevel{
	{ComplexityHigh, []string{"analyze", "design", "architect", "recommend", "comprehensive"}},
	{ComplexityMedium, []string{"implement", "review", "check", "update", "modify"}},
	{ComplexityLow, []string{"fetch", "list", "get", "find"}},
}

// domainGroup keeps domain keyword groups in the exact scan order used by
// the original extractor, since a request can match more than one domain
// and the result order must be deterministic.
type domainGroup struct {
	domain   string
	keywords []string
}

var domainGroups = []domainGroup{
	{"research", []string{"research", "investigate", "analyze", "study", "explore"}},
	{"development", []string{"build", "implement", "code", "develop", "create"}},
	{"community", []string{"community", "social", "engagement", "communication"}},
	{"design", []string{"design", "ui", "ux", "interface", "visual"}},
	{"quality", []string{"test", "review", "audit", "check", "verify"}},
}

func estimateComplexity(content string) Complexity {
	lower := strings.ToLower(content)
	for _, lvl := range complexityLevels {
		for _, kw := range lvl.keywords {
			if strings.Contains(lower, kw) {
				return lvl.level
			}
		}
	}
	switch {
	case len(content) > 200:
		return ComplexityHigh
	case len(content) > 100:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

func extractDomains(content string) []string {
	lower := strings.ToLower(content)
	var found []string
	for _, group := range domainGroups {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, group.domain)
				break
			}
		}
	}
	return found
}

// Coordinator routes user requests to specialists and tracks task
// lifecycle. A Coordinator owns its active tasks and waiting-for-response
// map exclusively; external actors reach it only through the bus.
type Coordinator struct {
	botID     string
	msgBus    *bus.MessageBus
	expertise *BotExpertise

	mu               sync.Mutex
	activeTasks      map[string]*Task
	waitingResponses map[string]string // task_id -> bot_message_id
}

// NewCoordinator builds a Coordinator identified by botID, talking to
// msgBus, scoring specialists via expertise.
func NewCoordinator(botID string, msgBus *bus.MessageBus, expertise *BotExpertise) *Coordinator {
	return &Coordinator{
		botID:            botID,
		msgBus:           msgBus,
		expertise:        expertise,
		activeTasks:      make(map[string]*Task),
		waitingResponses: make(map[string]string),
	}
}

// AnalyzeRequest classifies a user request's complexity and domains and
// derives a recommended handling approach.
func (c *Coordinator) AnalyzeRequest(content, userID string) Analysis {
	a := Analysis{
		Content:    content,
		UserID:     userID,
		Complexity: estimateComplexity(content),
		Domains:    extractDomains(content),
	}

	switch {
	case len(a.Domains) == 0:
		a.Approach = ApproachAskForClarification
	case len(a.Domains) == 1:
		if a.Complexity == ComplexityHigh {
			a.RequiresTeam = true
			a.Approach = ApproachDecomposeAndDelegate
		} else {
			a.Approach = ApproachRouteToSpecialist
		}
	default:
		a.RequiresTeam = true
		a.Approach = ApproachParallelDelegation
	}

	slog.Info("request analysis",
		"approach", a.Approach, "domains", len(a.Domains), "complexity", a.Complexity)
	return a
}

// FindBestBot selects the candidate with the highest expertise score for
// domain, ties broken by first-in-list. An empty candidate list falls
// back to the coordinator's own bot id.
func (c *Coordinator) FindBestBot(domain string, candidates []string, complexity Complexity) string {
	if len(candidates) == 0 {
		return c.botID
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	best := c.expertise.GetBestBotForDomain(domain, candidates)
	slog.Info("bot selected", "bot", best, "domain", domain, "complexity", complexity)
	return best
}

// CreateTask creates and assigns a task, recording it in the active-task
// map, sending a request BotMessage to the assignee, and tracking it in
// the waiting-for-response map.
func (c *Coordinator) CreateTask(title, description, domain, assignedTo string, requirements []string, dueDate *time.Time, parentTaskID string) *Task {
	task := newTask(title, description, domain, assignedTo, c.botID, requirements, dueDate, parentTaskID, uuid.NewString())
	_, task.span = tracing.StartTask(context.Background(), task.ID, c.botID, assignedTo)

	c.mu.Lock()
	c.activeTasks[task.ID] = task
	c.mu.Unlock()

	msg := bus.BotMessage{
		SenderBotID: c.botID,
		RecipientID: assignedTo,
		Kind:        bus.MessageRequest,
		Content:     "Task: " + title + "\n" + description,
		Context: map[string]string{
			"task_id": task.ID,
			"subject": title,
		},
	}
	msgID := c.msgBus.Send(msg)

	c.mu.Lock()
	c.waitingResponses[task.ID] = msgID
	c.mu.Unlock()

	slog.Info("task created", "task_id", task.ID, "title", title, "assigned_to", assignedTo)
	return task
}

// HandleTaskResult transitions a task to completed. Unknown task ids are
// logged and dropped, never reassigned; already-terminal tasks are left
// untouched and the call returns false, making replay idempotent.
func (c *Coordinator) HandleTaskResult(taskID, result string, confidence float64, learnings, followUps []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.activeTasks[taskID]
	if !ok {
		slog.Warn("result for unknown task", "task_id", taskID)
		return false
	}
	if task.Status.IsTerminal() {
		return false
	}

	task.markCompleted(result, confidence)
	if learnings != nil {
		task.Learnings = learnings
	}
	if followUps != nil {
		task.FollowUps = followUps
	}
	c.expertise.RecordInteraction(task.AssignedTo, task.Domain, true)
	delete(c.waitingResponses, taskID)

	slog.Info("task completed", "title", task.Title, "assigned_to", task.AssignedTo, "confidence", confidence)
	return true
}

// HandleTaskFailure transitions a task to failed. If recovery is non-
// empty, broadcasts a discussion BotMessage suggesting recovery.
func (c *Coordinator) HandleTaskFailure(taskID, errText, recovery string) bool {
	c.mu.Lock()
	task, ok := c.activeTasks[taskID]
	if !ok {
		c.mu.Unlock()
		slog.Warn("failure report for unknown task", "task_id", taskID)
		return false
	}
	if task.Status.IsTerminal() {
		c.mu.Unlock()
		return false
	}
	task.markFailed(errText)
	c.expertise.RecordInteraction(task.AssignedTo, task.Domain, false)
	c.mu.Unlock()

	slog.Warn("task failed", "title", task.Title, "assigned_to", task.AssignedTo, "error", errText)

	if recovery != "" {
		c.msgBus.Send(bus.BotMessage{
			SenderBotID: c.botID,
			RecipientID: bus.TeamRecipient,
			Kind:        bus.MessageDiscussion,
			Content:     "Task '" + task.Title + "' failed. Suggested recovery: " + recovery,
			Context:     map[string]string{"task_id": taskID, "subject": "Task Recovery: " + task.Title},
		})
	}
	return true
}

// BroadcastToTeam sends a message to every registered bot.
func (c *Coordinator) BroadcastToTeam(content string, kind bus.MessageKind) string {
	if kind == "" {
		kind = bus.MessageBroadcast
	}
	return c.msgBus.Send(bus.BotMessage{
		SenderBotID: c.botID,
		RecipientID: bus.TeamRecipient,
		Kind:        kind,
		Content:     content,
		Context:     map[string]string{"subject": "Team announcement"},
	})
}

// ExpertiseReport exposes the per-domain score table for a bot, for
// callers inspecting specialist assignment history.
func (c *Coordinator) ExpertiseReport(botID string) map[string]float64 {
	return c.expertise.ExpertiseReport(botID)
}

// GetTeamStatus renders an aggregated text summary of tasks and bots.
func (c *Coordinator) GetTeamStatus() string {
	c.mu.Lock()
	var pending, completed, failed []*Task
	for _, t := range c.activeTasks {
		switch t.Status {
		case TaskInProgress:
			pending = append(pending, t)
		case TaskCompleted:
			completed = append(completed, t)
		case TaskFailed:
			failed = append(failed, t)
		}
	}
	c.mu.Unlock()

	var b strings.Builder
	b.WriteString("=== Team Status ===\n")
	b.WriteString("Active: ")
	b.WriteString(strconv.Itoa(len(pending)))
	b.WriteString(" | Completed: ")
	b.WriteString(strconv.Itoa(len(completed)))
	b.WriteString(" | Failed: ")
	b.WriteString(strconv.Itoa(len(failed)))
	b.WriteString("\n")

	bots := c.msgBus.ListBots()
	b.WriteString("Team members: ")
	b.WriteString(strconv.Itoa(len(bots)))
	for id, info := range bots {
		b.WriteString("\n  - ")
		b.WriteString(info.Name)
		b.WriteString(" (")
		b.WriteString(id)
		b.WriteString("): ")
		b.WriteString(strconv.Itoa(info.MessageCount))
		b.WriteString(" messages")
	}

	if len(pending) > 0 {
		b.WriteString("\n\nPending tasks:")
		limit := 3
		if len(pending) < limit {
			limit = len(pending)
		}
		for _, t := range pending[:limit] {
			b.WriteString("\n  - ")
			b.WriteString(t.Title)
			b.WriteString(" (assigned to ")
			b.WriteString(t.AssignedTo)
			b.WriteString(")")
		}
	}

	return b.String()
}
