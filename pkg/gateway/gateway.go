// Package gateway implements the HTTP/WebSocket ingress surface: bearer
// auth, per-channel webhook verification, dedupe, rolling channel health,
// and the REST/streaming endpoints the rest of the runtime publishes
// through. No third-party router is pulled in — like the teacher repo's
// HTTP provider, routing is a hand-rolled http.ServeMux.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/channels"
	"github.com/arjunmehta/relay/pkg/config"
	"github.com/arjunmehta/relay/pkg/core"
	"github.com/arjunmehta/relay/pkg/cron"
	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/session"
)

const version = "0.1.0"

// Gateway wires the HTTP/WS surface to the bus, session store, channel
// manager, cron service, and metrics — everything a handler needs to
// answer a request without reaching into global state.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	sessions *session.SessionManager
	metrics  *core.MetricsStore
	channels *channels.Manager
	cron     *cron.CronService

	dedupe *DedupeCache
	health *channelHealthTracker

	server    *http.Server
	startedAt time.Time
}

func New(cfg *config.Config, msgBus *bus.MessageBus, sessions *session.SessionManager, metrics *core.MetricsStore, channelManager *channels.Manager, cronService *cron.CronService) *Gateway {
	return &Gateway{
		cfg:      cfg,
		bus:      msgBus,
		sessions: sessions,
		metrics:  metrics,
		channels: channelManager,
		cron:     cronService,
		dedupe:   NewDedupeCache(time.Duration(cfg.Gateway.DedupeTTLSeconds)*time.Second, cfg.Gateway.DedupeMaxEntries),
		health:   newChannelHealthTracker(),
	}
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("POST /api/message", g.requireAuth(g.handlePostMessage))
	mux.HandleFunc("POST /api/attachment", g.requireAuth(g.handlePostAttachment))
	mux.HandleFunc("PUT /api/control/reload", g.requireAuth(g.handleControlReload))
	mux.HandleFunc("GET /api/monitor/metrics", g.requireAuth(g.handleMetrics))
	mux.HandleFunc("GET /api/channels/health", g.requireAuth(g.handleChannelsHealth))
	mux.HandleFunc("GET /api/sessions", g.requireAuth(g.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{key}/messages", g.requireAuth(g.handleSessionMessages))
	mux.HandleFunc("POST /api/sessions/send", g.requireAuth(g.handleSessionsSend))

	mux.HandleFunc("GET /api/channels/whatsapp/webhook", g.handleWhatsAppVerify)
	mux.HandleFunc("POST /api/channels/whatsapp/webhook", g.handleWhatsAppInbound)
	mux.HandleFunc("POST /api/channels/slack/inbound", g.handleSlackInbound)
	mux.HandleFunc("POST /api/channels/zalo/inbound", g.requireAuth(g.handleGenericInbound("zalo")))
	mux.HandleFunc("POST /api/channels/teams/inbound", g.requireAuth(g.handleGenericInbound("teams")))
	mux.HandleFunc("POST /api/channels/googlechat/inbound", g.requireAuth(g.handleGenericInbound("google_chat")))

	mux.HandleFunc("GET /ws/events", g.requireAuth(g.handleWSEvents))

	return mux
}

// bindAddr picks 0.0.0.0 when an auth token is configured, 127.0.0.1
// otherwise — an unauthenticated gateway should never be reachable off
// the local host.
func (g *Gateway) bindAddr(listenAddr string) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		port = listenAddr
	}
	if g.cfg.Gateway.AuthToken != "" {
		return fmt.Sprintf("0.0.0.0:%s", port)
	}
	return fmt.Sprintf("127.0.0.1:%s", port)
}

func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	addr := g.bindAddr(g.cfg.Runtime.ListenAddr)

	g.server = &http.Server{
		Addr:    addr,
		Handler: g.routes(),
	}

	logger.InfoCF("gateway", "starting HTTP gateway", map[string]interface{}{"addr": addr})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind gateway listener: %w", err)
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "HTTP server stopped with error", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.server.Shutdown(shutdownCtx)
	}()

	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
