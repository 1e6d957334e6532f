// Package core defines the shared data model used across the gateway:
// messages, sessions, channel metadata, metrics, and the small set of
// constants every other package needs to agree on.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// AttachmentKind classifies a Message attachment for storage/sandbox policy.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentOther    AttachmentKind = "other"
)

// Attachment is a reference to inbound or outbound media. Attachments are
// not persisted through the session store (see DESIGN.md, Open Question 1);
// they live only as long as the in-memory Message that carries them.
type Attachment struct {
	Kind     AttachmentKind
	URL      string
	Filename string
	MimeType string
	Size     int64
}

// Message is the immutable unit of conversation exchanged on the bus and
// stored in a session's history. Once published, a Message is never
// mutated in place.
type Message struct {
	ID          uuid.UUID
	Channel     string
	SessionKey  string
	SenderID    string
	Role        Role
	Content     string
	CreatedAt   time.Time
	ReplyTo     *uuid.UUID
	Attachments []Attachment
	Metadata    map[string]string
}

// NewMessage builds a Message with a fresh ID and the current timestamp.
func NewMessage(channel, sessionKey string, role Role, content string) Message {
	return Message{
		ID:         uuid.New(),
		Channel:    channel,
		SessionKey: sessionKey,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Metadata:   map[string]string{},
	}
}

// WithSender returns a copy of m with SenderID set.
func (m Message) WithSender(senderID string) Message {
	m.SenderID = senderID
	return m
}

// WithMetadata returns a copy of m with key set in its metadata map.
func (m Message) WithMetadata(key, value string) Message {
	meta := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// Session holds the routing state the spec assigns to a session_key: an
// in-memory view over what the persistence layer tracks durably.
type Session struct {
	SessionKey string
	Summary    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Channel name constants (session-key prefixes).
const (
	ChannelWhatsApp   = "whatsapp"
	ChannelTelegram   = "telegram"
	ChannelSlack      = "slack"
	ChannelDiscord    = "discord"
	ChannelSignal     = "signal"
	ChannelIMessage   = "imessage"
	ChannelTeams      = "teams"
	ChannelMatrix     = "matrix"
	ChannelZalo       = "zalo"
	ChannelGoogleChat = "google_chat"
	ChannelWebchat    = "webchat"
	ChannelHTTP       = "http"
	ChannelCron       = "cron"
	ChannelHeartbeat  = "heartbeat"
)

// nativeSupportedChannels are the transports counted as natively supported
// (reported as native_supported_count by /api/channels/health). Teams and
// Zalo are in the set although pkg/channels has no adapter for them; their
// traffic arrives only through the gateway's generic inbound endpoints.
var nativeSupportedChannels = map[string]bool{
	ChannelWhatsApp: true,
	ChannelTelegram: true,
	ChannelSlack:    true,
	ChannelDiscord:  true,
	ChannelTeams:    true,
	ChannelZalo:     true,
}

// IsNativeChannelSupported reports whether name is in the natively
// supported set.
func IsNativeChannelSupported(name string) bool {
	return nativeSupportedChannels[name]
}

// NativeSupportedChannels returns the full set of natively supported
// channel names, grounded on original_source's channel.rs support matrix.
func NativeSupportedChannels() []string {
	names := make([]string, 0, len(nativeSupportedChannels))
	for name := range nativeSupportedChannels {
		names = append(names, name)
	}
	return names
}

// TargetPersonalChannels are the channels a personal-assistant deployment
// is expected to target day to day; used by /api/channels/health to report
// configured_count against a meaningful denominator.
func TargetPersonalChannels() []string {
	return []string{
		ChannelWhatsApp,
		ChannelTelegram,
		ChannelSlack,
		ChannelDiscord,
		ChannelTeams,
		ChannelZalo,
		ChannelGoogleChat,
		ChannelWebchat,
	}
}
