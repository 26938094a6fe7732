package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BotDescriptor is the registration record for a bot on the MessageBus.
type BotDescriptor struct {
	ID   string
	Name string
}

// botEntry tracks a registered bot's descriptor, handlers, and traffic count.
type botEntry struct {
	descriptor   BotDescriptor
	handlers     []MessageHandler
	messageCount int
}

// MessageHandler receives a delivered BotMessage. Handlers run outside the
// bus's lock; they must be quick or schedule their own background work.
type MessageHandler func(BotMessage)

// MessageBus is process-local many-to-many delivery of BotMessage. One
// mutex guards the registry and history; handler invocation happens
// outside the lock so a slow handler cannot stall registration or other
// sends.
type MessageBus struct {
	mu      sync.Mutex
	bots    map[string]*botEntry
	history []BotMessage
	maxHist int
}

// NewMessageBus creates an empty bus. maxHistory bounds the retained
// history length; 0 means unbounded.
func NewMessageBus(maxHistory int) *MessageBus {
	return &MessageBus{
		bots:    make(map[string]*botEntry),
		maxHist: maxHistory,
	}
}

// RegisterBot idempotently registers a bot descriptor.
func (b *MessageBus) RegisterBot(id string, descriptor BotDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bots[id]; ok {
		return
	}
	descriptor.ID = id
	b.bots[id] = &botEntry{descriptor: descriptor}
}

// Subscribe registers a handler for bot_id. Send invokes handlers
// synchronously, in registration order, after releasing the lock.
func (b *MessageBus) Subscribe(botID string, handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.bots[botID]
	if !ok {
		entry = &botEntry{descriptor: BotDescriptor{ID: botID, Name: botID}}
		b.bots[botID] = entry
	}
	entry.handlers = append(entry.handlers, handler)
}

// Send delivers msg to the bot named by RecipientID, or to every
// registered bot when RecipientID is TeamRecipient. Returns the assigned
// message id. Delivery is at-most-once in-process; no persistence beyond
// the bounded history.
func (b *MessageBus) Send(msg BotMessage) string {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	var targets []MessageHandler
	if msg.RecipientID == TeamRecipient {
		for _, entry := range b.bots {
			entry.messageCount++
			targets = append(targets, entry.handlers...)
		}
	} else if entry, ok := b.bots[msg.RecipientID]; ok {
		entry.messageCount++
		targets = append(targets, entry.handlers...)
	} else {
		slog.Warn("bus: send to unknown recipient", "recipient", msg.RecipientID, "msg_id", msg.ID)
	}
	b.history = append(b.history, msg)
	if b.maxHist > 0 && len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(msg)
	}
	return msg.ID
}

// ListBots returns every registered bot's id, name, and message count.
func (b *MessageBus) ListBots() map[string]struct {
	Name         string
	MessageCount int
} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct {
		Name         string
		MessageCount int
	}, len(b.bots))
	for id, entry := range b.bots {
		out[id] = struct {
			Name         string
			MessageCount int
		}{Name: entry.descriptor.Name, MessageCount: entry.messageCount}
	}
	return out
}

// History returns the most recent limit messages (0 = all retained).
func (b *MessageBus) History(limit int) []BotMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit >= len(b.history) {
		out := make([]BotMessage, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]BotMessage, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
