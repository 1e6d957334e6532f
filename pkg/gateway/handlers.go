package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/arjunmehta/relay/internal/apperr"
	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/core"
	"github.com/arjunmehta/relay/pkg/logger"
)

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

type postMessageRequest struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key"`
}

func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = fmt.Sprintf("%s:%s", core.ChannelHTTP, uuid.NewString())
	}

	id := uuid.NewString()
	g.bus.PublishInbound(bus.InboundMessage{
		Channel:    core.ChannelHTTP,
		ChatID:     sessionKey,
		SessionKey: sessionKey,
		Content:    req.Message,
		Metadata:   map[string]string{"message_id": id},
	})
	g.health.RecordMessage(core.ChannelHTTP)

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "accepted"})
}

func (g *Gateway) handlePostAttachment(w http.ResponseWriter, r *http.Request) {
	policy := g.cfg.Attachments
	if !policy.Enabled {
		writeJSONError(w, http.StatusForbidden, "attachments are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, policy.MaxSizeBytes+1<<20)
	if err := r.ParseMultipartForm(policy.MaxSizeBytes); err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "attachment exceeds maximum size")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if header.Size > policy.MaxSizeBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "attachment exceeds maximum size")
		return
	}

	sniff := make([]byte, 512)
	n, _ := file.Read(sniff)
	mimeType := http.DetectContentType(sniff[:n])

	if len(policy.AllowedMimeTypes) > 0 && !mimeAllowed(mimeType, policy.AllowedMimeTypes) {
		writeJSONError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("mime type %s not allowed", mimeType))
		return
	}

	storageDir := filepath.Join(g.cfg.WorkspacePath(), policy.StorageDirectory)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		writeErr(w, apperr.Wrap(apperr.KindPersistence, "failed to create attachment storage directory", err))
		return
	}

	id := uuid.NewString()
	safeName := id + filepath.Ext(header.Filename)
	destPath := filepath.Join(storageDir, safeName)

	dest, err := os.Create(destPath)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.KindPersistence, "failed to create attachment file", err))
		return
	}
	defer dest.Close()

	if _, err := dest.Write(sniff[:n]); err != nil {
		writeErr(w, apperr.Wrap(apperr.KindPersistence, "failed to write attachment", err))
		return
	}
	if _, err := io.Copy(dest, file); err != nil {
		writeErr(w, apperr.Wrap(apperr.KindPersistence, "failed to write attachment", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         id,
		"url":        "/attachments/" + safeName,
		"filename":   header.Filename,
		"mime_type":  mimeType,
		"size_bytes": header.Size,
	})
}

func mimeAllowed(mimeType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, mimeType) {
			return true
		}
	}
	return false
}

func (g *Gateway) handleControlReload(w http.ResponseWriter, r *http.Request) {
	logger.InfoCF("gateway", "reload requested", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reload_triggered"})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.metrics.Snapshot())
}

func (g *Gateway) handleChannelsHealth(w http.ResponseWriter, r *http.Request) {
	configured := make(map[string]bool)
	for _, name := range g.cfg.ConfiguredChannels() {
		configured[name] = true
	}

	running := make(map[string]bool)
	for _, name := range g.channels.GetEnabledChannels() {
		if ch, ok := g.channels.GetChannel(name); ok {
			running[name] = ch.IsRunning()
		}
	}

	type channelStatus struct {
		Name          string `json:"name"`
		Configured    bool   `json:"configured"`
		AdapterStatus string `json:"adapter_status"`
		Stability     string `json:"stability"`
		Messages1h    int    `json:"messages_1h"`
		Errors1h      int    `json:"errors_1h"`
	}

	var result []channelStatus
	nativeSupported := 0
	for _, name := range core.TargetPersonalChannels() {
		isConfigured := configured[name]
		adapterStatus := "disabled"
		if running[name] {
			adapterStatus = "running"
		} else if isConfigured {
			adapterStatus = "configured_pending_adapter"
		}

		if core.IsNativeChannelSupported(name) {
			nativeSupported++
		}

		msgs, errs := g.health.Counts(name)
		result = append(result, channelStatus{
			Name:          name,
			Configured:    isConfigured,
			AdapterStatus: adapterStatus,
			Stability:     stabilityFor(msgs, errs),
			Messages1h:    msgs,
			Errors1h:      errs,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels":              result,
		"configured_count":      len(configured),
		"native_supported_count": nativeSupported,
	})
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntDefault(r.URL.Query().Get("limit"), 50), 1, 100)

	sessions := g.sessions.ListSessions()
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (g *Gateway) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	limit := clampInt(parseIntDefault(r.URL.Query().Get("limit"), 100), 1, 500)

	history := g.sessions.GetHistory(key)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session_key": key, "messages": history})
}

type sessionsSendRequest struct {
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
	Channel    string `json:"channel"`
}

func (g *Gateway) handleSessionsSend(w http.ResponseWriter, r *http.Request) {
	var req sessionsSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionKey == "" || req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "session_key and message are required")
		return
	}

	channel := req.Channel
	if channel == "" {
		if idx := strings.Index(req.SessionKey, ":"); idx >= 0 {
			channel = req.SessionKey[:idx]
		}
	}

	g.bus.PublishInbound(bus.InboundMessage{
		Channel:    channel,
		ChatID:     req.SessionKey,
		SessionKey: req.SessionKey,
		Content:    req.Message,
	})
	g.health.RecordMessage(channel)

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "session_key": req.SessionKey})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
