// Package bus implements the in-process message bus: the transport types
// crossing the channel boundary (MessageEnvelope) and the inter-bot
// transport used for coordinator/specialist collaboration (BotMessage).
package bus

import (
	"fmt"
	"time"
)

// Direction tags a MessageEnvelope's flow relative to the core.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderKind classifies who produced a MessageEnvelope.
type SenderKind string

const (
	SenderUser   SenderKind = "user"
	SenderBot    SenderKind = "bot"
	SenderSystem SenderKind = "system"
)

// MessageEnvelope is the transport unit crossing the channel boundary.
// It is immutable once published: callers must treat every field as
// read-only after the envelope has been handed to a MessageBus or
// delivered to an adapter.
type MessageEnvelope struct {
	Channel    string
	ChatID     string
	Content    string
	Direction  Direction
	SenderID   string
	SenderKind SenderKind
	BotName    string // optional
	ReplyTo    string // optional
	Timestamp  time.Time
	Media      []string
	Metadata   map[string]string
	RoomID     string // optional
	TraceID    string
}

// SessionKey derives the canonical session identity for this envelope:
// room_id|channel|chat_id. RoomID defaults to ChatID when empty so direct
// chats still produce a stable key.
func (m MessageEnvelope) SessionKey() string {
	room := m.RoomID
	if room == "" {
		room = m.ChatID
	}
	return fmt.Sprintf("%s|%s|%s", room, m.Channel, m.ChatID)
}

// MessageKind classifies a BotMessage's intent on the inter-bot bus.
type MessageKind string

const (
	MessageRequest      MessageKind = "request"
	MessageResponse     MessageKind = "response"
	MessageDiscussion   MessageKind = "discussion"
	MessageBroadcast    MessageKind = "broadcast"
	MessageAnnouncement MessageKind = "announcement"
)

// TeamRecipient is the literal recipient id meaning "every registered bot".
const TeamRecipient = "team"

// BotMessage is the inter-bot transport unit. Created by the coordinator
// or a specialist and consumed by subscribers on the MessageBus.
type BotMessage struct {
	ID          string
	SenderBotID string
	RecipientID string // bot id, or TeamRecipient for broadcast
	Kind        MessageKind
	Content     string
	Context     map[string]string // carries task_id, subject, etc.
	Timestamp   time.Time
}

// TaskID returns the task_id carried in Context, if any.
func (m BotMessage) TaskID() string {
	if m.Context == nil {
		return ""
	}
	return m.Context["task_id"]
}
