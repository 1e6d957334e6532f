// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Command relay is the process entrypoint: it wires config, the event bus,
// the provider stack (with reliability and failover), the agent loop, the
// channel manager, the cron service, and the HTTP/WS gateway together, then
// runs until signalled to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arjunmehta/relay/pkg/agent"
	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/channels"
	"github.com/arjunmehta/relay/pkg/config"
	"github.com/arjunmehta/relay/pkg/core"
	"github.com/arjunmehta/relay/pkg/cron"
	"github.com/arjunmehta/relay/pkg/gateway"
	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/providers"
	"github.com/arjunmehta/relay/pkg/voice"
)

const (
	defaultMaxRetries    = 3
	defaultBaseBackoffMS = 1000
)

func main() {
	if err := run(); err != nil {
		logger.ErrorCF("main", "fatal startup error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureWorkspace(); err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}

	metrics := core.NewMetricsStore()
	msgBus := bus.NewMessageBus()
	msgBus.SetMetrics(metrics)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to build provider stack: %w", err)
	}

	agentLoop := agent.NewAgentLoop(cfg, msgBus, provider)

	channelManager := channels.NewManager(msgBus)
	registerChannels(cfg, msgBus, channelManager)

	cronService := cron.NewCronService(cfg.Runtime.CronStorePath, func(job *cron.CronJob) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		channel := job.Payload.Channel
		to := job.Payload.To
		if channel == "" {
			channel = "cron"
			to = "scheduled"
		}
		sessionKey := fmt.Sprintf("%s:%s", channel, to)
		return agentLoop.ProcessDirectWithChannel(ctx, job.Payload.Message, sessionKey, channel, to)
	})

	gw := gateway.New(cfg, msgBus, agentLoop.Sessions(), metrics, channelManager, cronService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}
	if err := cronService.Start(); err != nil {
		return fmt.Errorf("failed to start cron service: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	go func() {
		if err := agentLoop.Run(ctx); err != nil {
			logger.ErrorCF("main", "agent loop stopped with error", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.InfoCF("main", "relay started", map[string]interface{}{
		"listen_addr": cfg.Runtime.ListenAddr,
		"model":       cfg.Agents.Defaults.Model,
	})

	<-ctx.Done()
	logger.InfoCF("main", "shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentLoop.Stop()
	cronService.Stop()
	_ = channelManager.StopAll(shutdownCtx)
	_ = gw.Stop(shutdownCtx)
	msgBus.Close()

	return nil
}

// registerChannels wires every adapter with enough configuration present to
// start. Teams/Zalo/Google Chat config surfaces exist (pkg/config) but have
// no adapter implementation yet.
func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, manager *channels.Manager) {
	if cfg.Channels.Telegram.Token != "" {
		tg, err := channels.NewTelegramChannel(cfg.Channels.Telegram, msgBus)
		if err != nil {
			logger.WarnCF("main", "failed to initialize telegram channel", map[string]interface{}{"error": err.Error()})
		} else {
			if cfg.Providers.Groq.APIKey != "" {
				tg.SetTranscriber(voice.NewGroqTranscriber(cfg.Providers.Groq.APIKey, cfg.Providers.Groq.APIBase))
			}
			manager.RegisterChannel("telegram", tg)
		}
	}

	if cfg.Channels.WhatsApp.BridgeURL != "" || cfg.Channels.WhatsApp.Token != "" {
		wa, err := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			logger.WarnCF("main", "failed to initialize whatsapp channel", map[string]interface{}{"error": err.Error()})
		} else {
			manager.RegisterChannel("whatsapp", wa)
		}
	}

	if cfg.Channels.Discord.Token != "" {
		dc, err := channels.NewDiscordChannel(cfg.Channels.Discord, msgBus)
		if err != nil {
			logger.WarnCF("main", "failed to initialize discord channel", map[string]interface{}{"error": err.Error()})
		} else {
			manager.RegisterChannel("discord", dc)
		}
	}

	if cfg.Channels.Slack.BotToken != "" {
		sl, err := channels.NewSlackChannel(cfg.Channels.Slack, msgBus)
		if err != nil {
			logger.WarnCF("main", "failed to initialize slack channel", map[string]interface{}{"error": err.Error()})
		} else {
			manager.RegisterChannel("slack", sl)
		}
	}
}

// buildProvider constructs the primary LLM provider, wraps it for
// retry-on-transient-failure, and layers failover across
// cfg.Providers.FailoverOrder when configured.
func buildProvider(cfg *config.Config) (providers.LLMProvider, error) {
	primary, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, err
	}
	reliablePrimary := providers.NewReliableProvider(primary, defaultMaxRetries, defaultBaseBackoffMS)

	if len(cfg.Providers.FailoverOrder) == 0 {
		return reliablePrimary, nil
	}

	entries := []providers.FailoverEntry{{Name: "primary", Provider: reliablePrimary}}
	for _, name := range cfg.Providers.FailoverOrder {
		p, model, err := namedProvider(cfg, name)
		if err != nil {
			logger.WarnCF("main", "skipping unusable failover provider", map[string]interface{}{"name": name, "error": err.Error()})
			continue
		}
		entries = append(entries, providers.FailoverEntry{
			Name:          name,
			Provider:      providers.NewReliableProvider(p, defaultMaxRetries, defaultBaseBackoffMS),
			ModelOverride: model,
		})
	}

	if len(entries) == 1 {
		return reliablePrimary, nil
	}
	return providers.NewFailoverProvider(entries), nil
}

// namedProvider builds a standalone provider for one of the fixed backend
// names used in FailoverOrder, independent of the model-name sniffing
// providers.CreateProvider does for the primary model string.
func namedProvider(cfg *config.Config, name string) (providers.LLMProvider, string, error) {
	switch name {
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, "", fmt.Errorf("openai provider not configured")
		}
		return providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, ""), "", nil
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, "", fmt.Errorf("anthropic provider not configured")
		}
		return providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase, ""), "", nil
	case "openrouter":
		if cfg.Providers.OpenRouter.APIKey == "" {
			return nil, "", fmt.Errorf("openrouter provider not configured")
		}
		apiBase := cfg.Providers.OpenRouter.APIBase
		if apiBase == "" {
			apiBase = "https://openrouter.ai/api/v1"
		}
		return providers.NewHTTPProvider(cfg.Providers.OpenRouter.APIKey, apiBase), "", nil
	case "gemini":
		if cfg.Providers.Gemini.APIKey == "" {
			return nil, "", fmt.Errorf("gemini provider not configured")
		}
		apiBase := cfg.Providers.Gemini.APIBase
		if apiBase == "" {
			apiBase = "https://generativelanguage.googleapis.com/v1beta"
		}
		return providers.NewHTTPProvider(cfg.Providers.Gemini.APIKey, apiBase), "", nil
	case "zhipu":
		if cfg.Providers.Zhipu.APIKey == "" {
			return nil, "", fmt.Errorf("zhipu provider not configured")
		}
		apiBase := cfg.Providers.Zhipu.APIBase
		if apiBase == "" {
			apiBase = "https://open.bigmodel.cn/api/paas/v4"
		}
		return providers.NewHTTPProvider(cfg.Providers.Zhipu.APIKey, apiBase), "", nil
	case "groq":
		if cfg.Providers.Groq.APIKey == "" {
			return nil, "", fmt.Errorf("groq provider not configured")
		}
		apiBase := cfg.Providers.Groq.APIBase
		if apiBase == "" {
			apiBase = "https://api.groq.com/openai/v1"
		}
		return providers.NewHTTPProvider(cfg.Providers.Groq.APIKey, apiBase), "", nil
	case "modal":
		if cfg.Providers.Modal.APIKey == "" {
			return nil, "", fmt.Errorf("modal provider not configured")
		}
		apiBase := cfg.Providers.Modal.APIBase
		if apiBase == "" {
			apiBase = "https://api.us-west-2.modal.direct/v1"
		}
		return providers.NewHTTPProvider(cfg.Providers.Modal.APIKey, apiBase), "", nil
	case "vllm":
		if cfg.Providers.VLLM.APIBase == "" {
			return nil, "", fmt.Errorf("vllm provider not configured")
		}
		return providers.NewHTTPProvider(cfg.Providers.VLLM.APIKey, cfg.Providers.VLLM.APIBase), "", nil
	default:
		return nil, "", fmt.Errorf("unknown failover provider name %q", name)
	}
}
