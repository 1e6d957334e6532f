package core

import (
	"sync/atomic"
	"time"
)

// MetricsSnapshot is the read-only view served at GET /api/monitor/metrics.
type MetricsSnapshot struct {
	UptimeSecs    uint64 `json:"uptime_secs"`
	MessagesIn    uint64 `json:"messages_in"`
	MessagesOut   uint64 `json:"messages_out"`
	ToolCalls     uint64 `json:"tool_calls"`
	TokensInput   uint64 `json:"tokens_input"`
	TokensOutput  uint64 `json:"tokens_output"`
}

// MetricsStore is the single process-global counter set (see DESIGN notes
// Process-wide metrics state, initialized at startup — no ambient singletons
// elsewhere).
type MetricsStore struct {
	startTime    time.Time
	messagesIn   atomic.Uint64
	messagesOut  atomic.Uint64
	toolCalls    atomic.Uint64
	tokensInput  atomic.Uint64
	tokensOutput atomic.Uint64
}

// NewMetricsStore creates a metrics store with its uptime clock started now.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{startTime: time.Now()}
}

func (m *MetricsStore) IncMessagesIn()  { m.messagesIn.Add(1) }
func (m *MetricsStore) IncMessagesOut() { m.messagesOut.Add(1) }
func (m *MetricsStore) IncToolCalls()   { m.toolCalls.Add(1) }

func (m *MetricsStore) AddTokens(input, output uint64) {
	m.tokensInput.Add(input)
	m.tokensOutput.Add(output)
}

func (m *MetricsStore) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSecs:   uint64(time.Since(m.startTime).Seconds()),
		MessagesIn:   m.messagesIn.Load(),
		MessagesOut:  m.messagesOut.Load(),
		ToolCalls:    m.toolCalls.Load(),
		TokensInput:  m.tokensInput.Load(),
		TokensOutput: m.tokensOutput.Load(),
	}
}
