// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/arjunmehta/relay/pkg/logger"
)

// FailoverEntry pairs a named provider with an optional model override
// applied only for that provider's attempt — lets a failover chain fall
// back to a cheaper/faster model on a backup provider without touching
// the caller's requested model for the primary.
type FailoverEntry struct {
	Name          string
	Provider      LLMProvider
	ModelOverride string
}

// FailoverProvider tries each entry in order, returning the first
// successful response. It is itself an LLMProvider, so it composes with
// ReliableProvider (e.g. wrap each entry's provider in a ReliableProvider
// for per-provider retry, then chain them here for cross-provider
// failover).
type FailoverProvider struct {
	entries []FailoverEntry
}

func NewFailoverProvider(entries []FailoverEntry) *FailoverProvider {
	return &FailoverProvider{entries: entries}
}

func (p *FailoverProvider) GetDefaultModel() string {
	if len(p.entries) == 0 {
		return ""
	}
	return p.entries[0].Provider.GetDefaultModel()
}

func (p *FailoverProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if len(p.entries) == 0 {
		return nil, fmt.Errorf("no providers available for failover")
	}

	var failures []string
	for _, entry := range p.entries {
		useModel := model
		if entry.ModelOverride != "" {
			useModel = entry.ModelOverride
		}

		resp, err := entry.Provider.Chat(ctx, messages, tools, useModel, options)
		if err == nil {
			if len(failures) > 0 {
				logger.WarnCF("providers", "provider failover recovered", map[string]interface{}{
					"provider":          entry.Name,
					"previous_failures": len(failures),
				})
			}
			return resp, nil
		}

		failures = append(failures, fmt.Sprintf("%s: %s", entry.Name, err.Error()))
		logger.WarnCF("providers", "provider failed, trying next", map[string]interface{}{
			"provider": entry.Name,
			"error":    err.Error(),
		})
	}

	return nil, fmt.Errorf("all providers failed; %s", strings.Join(failures, " | "))
}
