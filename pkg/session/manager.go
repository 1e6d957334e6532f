// Package session tracks per-conversation message history and rolling
// summaries, mirroring the original session manager's SQLite-backed store
// plus an in-process cache so hot sessions don't round-trip to disk on
// every read.
package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/persistence"
	"github.com/arjunmehta/relay/pkg/providers"
)

// Session is a single conversation's in-memory state.
type Session struct {
	Key      string
	Messages []providers.Message
	Summary  string
}

// SessionManager caches sessions in memory and, when a storage directory is
// configured, mirrors every write through to a SQLite-backed Store so
// history survives process restarts.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *persistence.Store

	summaryMu   sync.Mutex
	lastSummary map[string]time.Time
}

// NewSessionManager creates a manager. An empty storageDir keeps everything
// in memory only (used by tests and ephemeral runs); otherwise a SQLite
// database is opened at storageDir/sessions.db.
func NewSessionManager(storageDir string) *SessionManager {
	sm := &SessionManager{
		sessions:    make(map[string]*Session),
		lastSummary: make(map[string]time.Time),
	}

	if storageDir != "" {
		store, err := persistence.Open(filepath.Join(storageDir, "sessions.db"))
		if err != nil {
			logger.WarnCF("session", "Failed to open session store, continuing in-memory only",
				map[string]interface{}{"error": err.Error()})
		} else {
			sm.store = store
		}
	}

	return sm
}

// GetOrCreate returns the cached session for key, creating (and, if a store
// is configured, hydrating from disk) it first if necessary.
func (sm *SessionManager) GetOrCreate(key string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.getOrCreateLocked(key)
}

func (sm *SessionManager) getOrCreateLocked(key string) *Session {
	if s, ok := sm.sessions[key]; ok {
		return s
	}

	s := &Session{Key: key}
	if sm.store != nil {
		if history, err := sm.store.GetHistory(key); err == nil {
			s.Messages = history
		}
		if summary, err := sm.store.GetSummary(key); err == nil {
			s.Summary = summary
		}
	}
	sm.sessions[key] = s
	return s
}

// AddMessage appends a plain-content message and persists it immediately.
func (sm *SessionManager) AddMessage(key, role, content string) {
	sm.AddFullMessage(key, providers.Message{Role: role, Content: content})
}

// AddFullMessage appends msg, including tool calls/tool_call_id, and
// persists it immediately so a crash never loses more than the in-flight
// turn.
func (sm *SessionManager) AddFullMessage(key string, msg providers.Message) {
	sm.mu.Lock()
	s := sm.getOrCreateLocked(key)
	s.Messages = append(s.Messages, msg)
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.AddMessage(key, msg); err != nil {
			logger.WarnCF("session", "Failed to persist message", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
}

// GetHistory returns a defensive copy of key's message history.
func (sm *SessionManager) GetHistory(key string) []providers.Message {
	sm.mu.Lock()
	s := sm.getOrCreateLocked(key)
	out := make([]providers.Message, len(s.Messages))
	copy(out, s.Messages)
	sm.mu.Unlock()
	return out
}

// GetSummary returns key's rolling summary, or "" if unset.
func (sm *SessionManager) GetSummary(key string) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[key]; ok {
		return s.Summary
	}
	return sm.getOrCreateLocked(key).Summary
}

// SetSummary stores a new rolling summary for key, replacing any prior one.
func (sm *SessionManager) SetSummary(key, summary string) {
	sm.mu.Lock()
	s := sm.getOrCreateLocked(key)
	s.Summary = summary
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.SetSummary(key, summary); err != nil {
			logger.WarnCF("session", "Failed to persist summary", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
}

// TruncateHistory keeps only the most recent `keep` messages for key, both
// in memory and (if configured) on disk.
func (sm *SessionManager) TruncateHistory(key string, keep int) {
	sm.mu.Lock()
	s, ok := sm.sessions[key]
	if ok && keep >= 0 && len(s.Messages) > keep {
		s.Messages = append([]providers.Message(nil), s.Messages[len(s.Messages)-keep:]...)
	}
	sm.mu.Unlock()

	if sm.store != nil {
		if err := sm.store.TrimHistory(key, keep); err != nil {
			logger.WarnCF("session", "Failed to trim persisted history", map[string]interface{}{
				"session_key": key,
				"error":       err.Error(),
			})
		}
	}
}

// Save is a best-effort flush; AddMessage/SetSummary already persist
// synchronously, so Save mainly exists for callers (and tests) that want an
// explicit checkpoint. A manager with no storage configured is a no-op.
func (sm *SessionManager) Save(s *Session) error {
	if sm.store == nil || s == nil {
		return nil
	}
	if err := sm.store.SetSummary(s.Key, s.Summary); err != nil {
		return err
	}
	return nil
}

// ShouldSummarize reports whether key's history is long enough to warrant
// summarization and enough time has passed since the last summarization
// (history_len >= 30, at least 5 minutes since the last summary).
func (sm *SessionManager) ShouldSummarize(key string, historyLen int) bool {
	if historyLen < 30 {
		return false
	}

	sm.summaryMu.Lock()
	defer sm.summaryMu.Unlock()
	last, ok := sm.lastSummary[key]
	if !ok {
		return true
	}
	return time.Since(last) >= 5*time.Minute
}

// MarkSummarized records that key was just summarized, resetting its cooldown.
func (sm *SessionManager) MarkSummarized(key string) {
	sm.summaryMu.Lock()
	sm.lastSummary[key] = time.Now()
	sm.summaryMu.Unlock()
}

// ListSessions returns session keys and sizes known to the backing store.
// Sessions that exist only in memory (no storage configured) are listed
// from the in-memory cache instead.
func (sm *SessionManager) ListSessions() []persistence.SessionInfo {
	if sm.store != nil {
		if infos, err := sm.store.ListSessions(); err == nil {
			return infos
		}
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	infos := make([]persistence.SessionInfo, 0, len(sm.sessions))
	for key, s := range sm.sessions {
		infos = append(infos, persistence.SessionInfo{Key: key, MessageCount: len(s.Messages)})
	}
	return infos
}
