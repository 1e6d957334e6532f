package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/core"
)

const slackTimestampToleranceSecs = 300

func verifyWhatsAppSignature(appSecret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expectedHex := strings.TrimPrefix(header, prefix)
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func verifySlackSignature(signingSecret, timestamp string, body []byte, header string) bool {
	const prefix = "v0="
	if !strings.HasPrefix(header, prefix) {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if math.Abs(float64(time.Now().Unix()-ts)) > slackTimestampToleranceSecs {
		return false
	}

	expectedHex := strings.TrimPrefix(header, prefix)
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}

	base := "v0:" + timestamp + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(base))
	return hmac.Equal(mac.Sum(nil), expected)
}

// handleWhatsAppVerify answers Meta's webhook subscription handshake:
// echo hub.challenge back as plain text when hub.verify_token matches.
func (g *Gateway) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" {
		writeJSONError(w, http.StatusBadRequest, "unsupported hub.mode")
		return
	}
	if q.Get("hub.verify_token") != g.cfg.Channels.WhatsApp.VerifyToken {
		writeJSONError(w, http.StatusUnauthorized, "verify token mismatch")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

type whatsAppWebhookBody struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (g *Gateway) handleWhatsAppInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !verifyWhatsAppSignature(g.cfg.Channels.WhatsApp.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		g.health.RecordError(core.ChannelWhatsApp)
		writeJSONError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var payload whatsAppWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	accepted := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				key := fmt.Sprintf("whatsapp:%s", msg.ID)
				if g.dedupe.Seen(key) {
					continue
				}

				sessionKey := fmt.Sprintf("%s:%s", core.ChannelWhatsApp, msg.From)
				g.bus.PublishInbound(bus.InboundMessage{
					Channel:    core.ChannelWhatsApp,
					SenderID:   msg.From,
					ChatID:     msg.From,
					SessionKey: sessionKey,
					Content:    msg.Text.Body,
				})
				g.health.RecordMessage(core.ChannelWhatsApp)
				accepted++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "accepted": accepted})
}

type slackEventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type    string `json:"type"`
		User    string `json:"user"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
}

func (g *Gateway) handleSlackInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if signature == "" || !verifySlackSignature(g.cfg.Channels.Slack.SigningSecret, timestamp, body, signature) {
		g.health.RecordError(core.ChannelSlack)
		writeJSONError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var envelope slackEventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	if envelope.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	}

	dedupeKey := fmt.Sprintf("slack:event:%s", envelope.EventID)
	if g.dedupe.Seen(dedupeKey) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate_ignored"})
		return
	}

	sessionKey := fmt.Sprintf("%s:%s", core.ChannelSlack, envelope.Event.Channel)
	if envelope.Event.ThreadTS != "" {
		sessionKey = fmt.Sprintf("%s:%s", sessionKey, envelope.Event.ThreadTS)
	}

	g.bus.PublishInbound(bus.InboundMessage{
		Channel:    core.ChannelSlack,
		SenderID:   envelope.Event.User,
		ChatID:     envelope.Event.Channel,
		SessionKey: sessionKey,
		Content:    envelope.Event.Text,
	})
	g.health.RecordMessage(core.ChannelSlack)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type genericInboundRequest struct {
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Message  string `json:"message"`
}

// handleGenericInbound covers the Zalo/Teams/Google Chat webhook shape:
// channel-specific JSON, no signature verification scheme named in the
// interface table beyond bearer auth, which routes() applies through
// requireAuth. These requests are not deduplicated.
func (g *Gateway) handleGenericInbound(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req genericInboundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sessionKey := fmt.Sprintf("%s:%s", channel, req.ChatID)
		g.bus.PublishInbound(bus.InboundMessage{
			Channel:    channel,
			SenderID:   req.SenderID,
			ChatID:     req.ChatID,
			SessionKey: sessionKey,
			Content:    req.Message,
		})
		g.health.RecordMessage(channel)

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_key": sessionKey})
	}
}
