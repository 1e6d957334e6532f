package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/config"
)

func TestChunkDiscordMessage_ShortContentIsOneChunk(t *testing.T) {
	chunks := chunkDiscordMessage("hello world")
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("expected single chunk, got %v", chunks)
	}
}

func TestChunkDiscordMessage_SplitsOnNewlineNearLimit(t *testing.T) {
	line := strings.Repeat("a", 1500) + "\n"
	content := line + strings.Repeat("b", 1000)

	chunks := chunkDiscordMessage(content)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Error("expected first chunk to end on the newline boundary")
	}
	if strings.Join(chunks, "") != content {
		t.Error("expected chunks to reconstruct the original content")
	}
}

func TestChunkDiscordMessage_HardSplitsWithNoNewline(t *testing.T) {
	content := strings.Repeat("a", discordMaxMessageLen+100)
	chunks := chunkDiscordMessage(content)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != discordMaxMessageLen {
		t.Errorf("expected first chunk to be exactly the max length, got %d", len(chunks[0]))
	}
}

func TestDiscordChannel_HandleMessageIgnoresBotsAndSelf(t *testing.T) {
	msgBus := bus.NewMessageBus()
	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", config.DiscordConfig{}, msgBus, nil),
		botUserID:   "self-id",
	}

	c.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "self-id"},
	}})
	c.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "other-bot", Bot: true},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := msgBus.ConsumeInbound(ctx); ok {
		t.Fatal("expected no inbound message to be published for bot/self authors")
	}
}

func TestDiscordChannel_HandleMessagePublishesInbound(t *testing.T) {
	msgBus := bus.NewMessageBus()
	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", config.DiscordConfig{}, msgBus, nil),
		botUserID:   "self-id",
	}

	c.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		ChannelID: "chan-1",
		Content:   "hello",
	}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound message to be published")
	}
	if msg.Channel != "discord" || msg.SenderID != "user-1" || msg.ChatID != "chan-1" || msg.Content != "hello" {
		t.Errorf("unexpected inbound message: %+v", msg)
	}
}
