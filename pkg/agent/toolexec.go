package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/providers"
	"github.com/arjunmehta/relay/pkg/tools"
	"github.com/arjunmehta/relay/pkg/utils"
)

// executeToolsSequentially runs the tool calls from a single LLM response
// one at a time, in the order the model requested them, and sends per-tool
// progress to the bus. Sequential order matters here: a later call can
// depend on an earlier one's result being already reflected in the
// conversation, and tool_call_id correlation in the transcript assumes each
// call completes before the next starts. A statusNotifier provides periodic
// "still working" pings as a fallback for long-running batches.
func (al *AgentLoop) executeToolsSequentially(
	ctx context.Context,
	toolCalls []providers.ToolCall,
	iteration int,
	opts processOptions,
) []providers.Message {
	n := len(toolCalls)
	results := make([]providers.Message, n)

	var notifier *statusNotifier
	sendProgress := opts.Channel != "system"
	if al.statusDelay > 0 && sendProgress {
		notifier = newStatusNotifier(al.bus, opts.Channel, opts.ChatID, al.statusDelay)
		notifier.start(fmt.Sprintf("%d tools", n))
	}

	for i, tc := range toolCalls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		argsPreview := utils.Truncate(string(argsJSON), 200)
		logger.InfoCF("agent", fmt.Sprintf("Tool call: %s(%s)", tc.Name, argsPreview),
			map[string]interface{}{
				"tool":      tc.Name,
				"iteration": iteration,
			})

		var result string
		var err error
		if !tools.IsToolAllowed(tc.Name, opts.AllowedTools) {
			result = fmt.Sprintf("Error: Tool '%s' is not authorized by any active skill.", tc.Name)
			logger.Audit("security_violation", opts.SessionKey, map[string]interface{}{
				"tool": tc.Name,
				"args": argsPreview,
			})
		} else {
			start := time.Now()
			result, err = al.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, opts.Channel, opts.ChatID)
			if err != nil {
				result = fmt.Sprintf("Error: %v", err)
			}
			logger.Audit("tool_execution", opts.SessionKey, map[string]interface{}{
				"tool":           tc.Name,
				"args":           argsPreview,
				"output_preview": utils.Truncate(result, 200),
				"duration_ms":    time.Since(start).Milliseconds(),
				"success":        err == nil,
			})
		}

		results[i] = providers.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
		}

		if sendProgress && n > 1 {
			al.bus.PublishOutbound(bus.OutboundMessage{
				Channel: opts.Channel,
				ChatID:  opts.ChatID,
				Content: fmt.Sprintf("%s done (%d/%d)", tc.Name, i+1, n),
			})
		}
	}

	if notifier != nil {
		notifier.stop()
	}

	return results
}
