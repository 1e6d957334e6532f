// Package channels implements the transport-specific adapters (Telegram,
// WhatsApp, Discord, Slack, ...) that translate a platform's native message
// format into bus.InboundMessage/OutboundMessage, and the Manager that
// dispatches outbound traffic to whichever adapter owns a channel name.
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/arjunmehta/relay/pkg/bus"
)

// Channel is the adapter contract every transport implements.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel holds the behavior shared by every adapter: allowlist
// enforcement, inbound publishing with the channel:chatID session key
// convention, and running-state tracking. cfg is carried as `any` so each
// concrete adapter can stash its own typed config without BaseChannel
// needing to know its shape.
type BaseChannel struct {
	name       string
	cfg        interface{}
	bus        *bus.MessageBus
	allowFrom  map[string]bool
	allowAll   bool
	mu         sync.RWMutex
	running    bool
}

func NewBaseChannel(name string, cfg interface{}, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	bc := &BaseChannel{
		name: name,
		cfg:  cfg,
		bus:  msgBus,
	}
	if len(allowFrom) == 0 {
		bc.allowAll = true
	} else {
		bc.allowFrom = make(map[string]bool, len(allowFrom))
		for _, id := range allowFrom {
			bc.allowFrom[id] = true
		}
	}
	return bc
}

func (bc *BaseChannel) Name() string { return bc.name }

// IsAllowed reports whether senderID may use this channel. An empty
// allowlist at construction time means "permit everyone."
func (bc *BaseChannel) IsAllowed(senderID string) bool {
	if bc.allowAll {
		return true
	}
	return bc.allowFrom[senderID]
}

func (bc *BaseChannel) IsRunning() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.running
}

func (bc *BaseChannel) setRunning(running bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.running = running
}

// HandleMessage publishes an inbound message for senderID/chatID onto the
// bus, unless senderID is blocked by the allowlist.
func (bc *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string) {
	if !bc.IsAllowed(senderID) {
		return
	}

	bc.bus.PublishInbound(bus.InboundMessage{
		Channel:    bc.name,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: fmt.Sprintf("%s:%s", bc.name, chatID),
		Content:    content,
		Media:      media,
		Metadata:   metadata,
	})
}
