package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/config"
	"github.com/arjunmehta/relay/pkg/logger"
)

const discordMaxMessageLen = 2000

// DiscordChannel connects to Discord over the bot gateway (inbound) and
// sends replies through the REST API (outbound).
type DiscordChannel struct {
	*BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	base := NewBaseChannel("discord", cfg, msgBus, cfg.AllowFrom)

	return &DiscordChannel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("failed to fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.setRunning(true)
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{"username": user.Username})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "stopping Discord bot")
	c.setRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}
	if msg.Content == "" {
		return nil
	}
	return c.sendChunked(msg.ChatID, msg.Content)
}

func (c *DiscordChannel) sendChunked(channelID, content string) error {
	for _, chunk := range chunkDiscordMessage(content) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}
	return nil
}

// chunkDiscordMessage splits content into Discord's 2000-char message
// limit, preferring to cut on a trailing newline when one falls past the
// halfway point so a chunk boundary doesn't land mid-line.
func chunkDiscordMessage(content string) []string {
	var chunks []string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMaxMessageLen {
			cutAt := discordMaxMessageLen
			if idx := strings.LastIndexByte(content[:discordMaxMessageLen], '\n'); idx > discordMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, content, nil, metadata)
}
