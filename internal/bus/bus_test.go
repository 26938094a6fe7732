package bus

import "testing"

func TestSendToRegisteredBot(t *testing.T) {
	b := NewMessageBus(0)
	b.RegisterBot("researcher", BotDescriptor{Name: "Researcher"})

	var got BotMessage
	b.Subscribe("researcher", func(msg BotMessage) { got = msg })

	id := b.Send(BotMessage{RecipientID: "researcher", Kind: MessageRequest, Content: "go look into X"})
	if id == "" {
		t.Fatal("expected non-empty message id")
	}
	if got.Content != "go look into X" {
		t.Fatalf("handler did not receive message, got %+v", got)
	}

	bots := b.ListBots()
	if bots["researcher"].MessageCount != 1 {
		t.Fatalf("expected message_count=1, got %d", bots["researcher"].MessageCount)
	}
}

func TestSendBroadcastToTeam(t *testing.T) {
	b := NewMessageBus(0)
	b.RegisterBot("a", BotDescriptor{Name: "A"})
	b.RegisterBot("c", BotDescriptor{Name: "C"})

	var calls int
	b.Subscribe("a", func(BotMessage) { calls++ })
	b.Subscribe("c", func(BotMessage) { calls++ })

	b.Send(BotMessage{RecipientID: TeamRecipient, Kind: MessageBroadcast, Content: "standup"})

	if calls != 2 {
		t.Fatalf("expected both bots notified, got %d calls", calls)
	}
}

func TestSendToUnknownRecipientDoesNotPanic(t *testing.T) {
	b := NewMessageBus(0)
	id := b.Send(BotMessage{RecipientID: "ghost", Content: "hello"})
	if id == "" {
		t.Fatal("expected assigned id even for unknown recipient")
	}
	if len(b.History(0)) != 1 {
		t.Fatal("expected message recorded in history even when undelivered")
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewMessageBus(2)
	b.Send(BotMessage{RecipientID: TeamRecipient, Content: "1"})
	b.Send(BotMessage{RecipientID: TeamRecipient, Content: "2"})
	b.Send(BotMessage{RecipientID: TeamRecipient, Content: "3"})

	hist := b.History(0)
	if len(hist) != 2 {
		t.Fatalf("expected bounded history of 2, got %d", len(hist))
	}
	if hist[0].Content != "2" || hist[1].Content != "3" {
		t.Fatalf("expected oldest entry evicted, got %+v", hist)
	}
}
