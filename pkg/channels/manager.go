package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/arjunmehta/relay/pkg/bus"
)

// Manager owns the set of registered channel adapters and the single
// dispatcher loop that drains bus.SubscribeOutbound and routes each
// OutboundMessage to the adapter matching its Channel field.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus

	started    bool
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

func (m *Manager) RegisterChannel(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the names of every registered channel,
// regardless of its current running state.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// SendToChannel routes a single outbound message directly to the named
// channel's Send, bypassing the bus — used for synchronous replies where
// the caller wants the adapter's error back immediately.
func (m *Manager) SendToChannel(ctx context.Context, name, chatID, content string) error {
	ch, ok := m.GetChannel(name)
	if !ok {
		return fmt.Errorf("channel %q is not registered", name)
	}
	return ch.Send(ctx, bus.OutboundMessage{Channel: name, ChatID: chatID, Content: content})
}

// StartAll starts every registered channel and launches the outbound
// dispatch loop. Idempotent: a second call while already started is a
// no-op, so callers don't need to track whether StartAll already ran.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.loopCancel = cancel
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channelsCopy[name] = ch
	}
	m.mu.Unlock()

	for name, ch := range channelsCopy {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("failed to start channel %q: %w", name, err)
		}
	}

	m.wg.Add(1)
	go m.dispatchLoop(loopCtx)
	return nil
}

// StopAll stops the dispatch loop and every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.loopCancel()
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channelsCopy[name] = ch
	}
	m.mu.Unlock()

	m.wg.Wait()

	var firstErr error
	for name, ch := range channelsCopy {
		if err := ch.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop channel %q: %w", name, err)
		}
	}
	return firstErr
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		ch, found := m.GetChannel(msg.Channel)
		if !found {
			continue
		}
		_ = ch.Send(ctx, msg)
	}
}

// GetStatus reports each registered channel's running/enabled state.
// Enabled is always true for a registered channel; the distinction exists
// so a future revision can track configured-but-disabled adapters without
// changing this method's return shape.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		status[name] = map[string]interface{}{
			"running": ch.IsRunning(),
			"enabled": true,
		}
	}
	return status
}
