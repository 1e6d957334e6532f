// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/arjunmehta/relay/pkg/logger"
)

const (
	reliableBaseBackoffFloor = 100 * time.Millisecond
	reliableMaxBackoff       = 2 * time.Second
)

// ReliableProvider wraps another LLMProvider with bounded exponential
// backoff retry for transient failures — rate limiting, timeouts, and
// temporary upstream unavailability, not configuration errors.
type ReliableProvider struct {
	inner         LLMProvider
	maxRetries    int
	baseBackoff   time.Duration
	sleep         func(time.Duration)
}

func NewReliableProvider(inner LLMProvider, maxRetries int, baseBackoffMS int64) *ReliableProvider {
	base := time.Duration(baseBackoffMS) * time.Millisecond
	if base < reliableBaseBackoffFloor {
		base = reliableBaseBackoffFloor
	}
	return &ReliableProvider{
		inner:       inner,
		maxRetries:  maxRetries,
		baseBackoff: base,
		sleep:       time.Sleep,
	}
}

func (p *ReliableProvider) GetDefaultModel() string {
	return p.inner.GetDefaultModel()
}

// isRetryable classifies an error as worth retrying: network-level errors
// carry no useful message pattern so they're always retried; API errors are
// retried only when the message indicates a transient condition.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "too many requests", "timeout", "temporar", "unavailable", "503", "connection reset", "eof"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (p *ReliableProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	backoff := p.baseBackoff
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err := p.inner.Chat(ctx, messages, tools, model, options)
		if err == nil {
			return resp, nil
		}

		if !isRetryable(err) || attempt == p.maxRetries {
			return nil, err
		}

		logger.WarnCF("providers", "provider call failed, retrying", map[string]interface{}{
			"attempt":      attempt + 1,
			"max_attempts": p.maxRetries + 1,
			"backoff_ms":   backoff.Milliseconds(),
			"error":        err.Error(),
		})
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		p.sleep(backoff)

		backoff *= 2
		if backoff > reliableMaxBackoff {
			backoff = reliableMaxBackoff
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("unknown provider failure")
	}
	return nil, lastErr
}
