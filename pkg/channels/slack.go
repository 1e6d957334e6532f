package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/config"
	"github.com/arjunmehta/relay/pkg/logger"
)

// SlackChannel is outbound-only: inbound Slack traffic arrives through the
// gateway's Events API webhook (signature-verified there, see
// pkg/gateway/webhooks.go) and is published straight onto the bus, bypassing
// BaseChannel.HandleMessage entirely. This adapter only owns the
// chat.postMessage side of the conversation.
type SlackChannel struct {
	*BaseChannel
	client         *slack.Client
	config         config.SlackConfig
	defaultChannel string
}

func NewSlackChannel(cfg config.SlackConfig, msgBus *bus.MessageBus) (*SlackChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}

	base := NewBaseChannel("slack", cfg, msgBus, cfg.AllowFrom)

	return &SlackChannel{
		BaseChannel:    base,
		client:         slack.New(cfg.BotToken),
		config:         cfg,
		defaultChannel: cfg.DefaultChannel,
	}, nil
}

// Start has no gateway connection to open — Slack inbound is webhook-based
// — it only verifies the bot token is usable before reporting running.
func (c *SlackChannel) Start(ctx context.Context) error {
	if _, err := c.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with slack: %w", err)
	}
	c.setRunning(true)
	logger.InfoC("slack", "Slack adapter ready")
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack adapter not running")
	}

	channel := resolveSlackChannel(msg.ChatID, c.defaultChannel)
	if channel == "" {
		return fmt.Errorf("slack outbound dropped: no target channel configured")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if threadTS := msg.Metadata["thread_ts"]; threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, _, err := c.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

// resolveSlackChannel picks the outbound target: the session's own chat ID
// when present, falling back to the configured default channel.
func resolveSlackChannel(chatID, defaultChannel string) string {
	if chatID != "" {
		return chatID
	}
	return defaultChannel
}
