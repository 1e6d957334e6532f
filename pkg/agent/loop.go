// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/config"
	"github.com/arjunmehta/relay/pkg/llmloop"
	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/memory"
	"github.com/arjunmehta/relay/pkg/providers"
	"github.com/arjunmehta/relay/pkg/session"
	"github.com/arjunmehta/relay/pkg/tools"
	"github.com/arjunmehta/relay/pkg/utils"
)

type AgentLoop struct {
	bus              *bus.MessageBus
	provider         providers.LLMProvider
	workspace        string
	model            string
	maxIterations    int
	llmTimeout       time.Duration // Per-LLM-call timeout (0 = disabled)
	toolTimeout      time.Duration // Per-tool-call timeout (0 = disabled)
	maxParallelTools int           // Max concurrent tools per iteration (<=0 = unlimited)
	sessions         *session.SessionManager
	contextBuilder   *ContextBuilder
	tools            *tools.ToolRegistry
	running          atomic.Bool
	summarizing      sync.Map            // Tracks which sessions are currently being summarized
	statusDelay      time.Duration       // Delay before sending "still working" status updates (0 = disabled)
	memoryStore      *memory.MemoryStore // Searchable memory DB (nil = disabled)
}

// processOptions configures how a message is processed
type processOptions struct {
	SessionKey      string   // Session identifier for history/context
	Channel         string   // Target channel for tool execution
	ChatID          string   // Target chat ID for tool execution
	UserMessage     string   // User message content (may include prefix)
	DefaultResponse string   // Response when LLM returns empty
	EnableSummary   bool     // Whether to trigger summarization
	SendResponse    bool     // Whether to send response via bus
	AllowedTools    []string // Resolved once per turn; shared by tool listing and execution-time authorization
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider) *AgentLoop {
	workspace := cfg.WorkspacePath()
	os.MkdirAll(workspace, 0755)

	toolsRegistry := tools.NewToolRegistry()
	sandboxCfg := tools.SandboxConfig{
		WorkspacePath:     workspace,
		ExecTimeoutSecs:   uint64(cfg.Tools.ExecTimeoutSeconds),
		MaxOutputBytes:    cfg.Tools.MaxOutputBytes,
		ExecEnabled:       cfg.Tools.ExecEnabled,
		NetworkAllowlist:  cfg.Tools.NetworkAllowlist,
		MaxChildProcesses: cfg.Tools.MaxChildProcesses,
		MaxOpenFiles:      cfg.Tools.MaxOpenFiles,
		CPUTimeLimitSecs:  cfg.Tools.CPUTimeLimitSecs,
	}
	tools.RegisterCoreTools(toolsRegistry, sandboxCfg, cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults)

	// Register message tool
	messageTool := tools.NewMessageTool()
	messageTool.SetSendCallback(func(channel, chatID, content string, media []string) error {
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: content,
			Media:   media,
		})
		return nil
	})
	toolsRegistry.Register(messageTool)

	// Register memory tools (graceful degradation if SQLite init fails)
	memoryDBPath := filepath.Join(workspace, "memory", "memory.db")
	memoryDB, err := memory.NewMemoryStore(memoryDBPath, workspace)
	if err != nil {
		logger.WarnCF("agent", "Memory DB unavailable, memory tools disabled", map[string]interface{}{"error": err.Error()})
	} else {
		// Reindex existing markdown files into the search index
		if reindexErr := memoryDB.Reindex(); reindexErr != nil {
			logger.WarnCF("agent", "Memory reindex failed", map[string]interface{}{"error": reindexErr.Error()})
		}
		toolsRegistry.Register(tools.NewMemorySearchTool(memoryDB))
		toolsRegistry.Register(tools.NewMemoryStoreTool(memoryDB))
	}

	// memoryDB may be nil — that's fine, extractAndStoreMemories handles it

	sessionsManager := session.NewSessionManager(filepath.Join(workspace, "sessions"))

	// Create context builder and set tools registry
	contextBuilder := NewContextBuilder(workspace)
	contextBuilder.SetToolsRegistry(toolsRegistry)

	return &AgentLoop{
		bus:              msgBus,
		provider:         provider,
		workspace:        workspace,
		model:            cfg.Agents.Defaults.Model,
		maxIterations:    cfg.Agents.Defaults.MaxToolIterations,
		llmTimeout:       time.Duration(cfg.Agents.Defaults.LLMTimeoutSeconds) * time.Second,
		toolTimeout:      time.Duration(cfg.Agents.Defaults.ToolTimeoutSeconds) * time.Second,
		maxParallelTools: cfg.Agents.Defaults.MaxParallelToolCalls,
		sessions:         sessionsManager,
		contextBuilder:   contextBuilder,
		tools:            toolsRegistry,
		summarizing:      sync.Map{},
		statusDelay:      30 * time.Second,
		memoryStore:      memoryDB,
	}
}

func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)

	for al.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := al.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}

			response, err := al.processMessage(ctx, msg)
			if err != nil {
				response = fmt.Sprintf("Error processing message: %v", err)
			}

			if response != "" {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: response,
				})
			}
		}
	}

	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

func (al *AgentLoop) RegisterTool(tool tools.Tool) {
	al.tools.Register(tool)
}

// Sessions exposes the loop's session manager so the gateway can serve
// /api/sessions against the same history the agent loop is writing to.
func (al *AgentLoop) Sessions() *session.SessionManager {
	return al.sessions
}

func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return al.ProcessDirectWithChannel(ctx, content, sessionKey, "cli", "direct")
}

func (al *AgentLoop) ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	msg := bus.InboundMessage{
		Channel:    channel,
		SenderID:   "cron",
		ChatID:     chatID,
		Content:    content,
		SessionKey: sessionKey,
	}

	return al.processMessage(ctx, msg)
}

func (al *AgentLoop) processMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	// Add message preview to log
	preview := utils.Truncate(msg.Content, 80)
	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, preview),
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": msg.SessionKey,
		})

	// Route system messages to processSystemMessage
	if msg.Channel == "system" {
		return al.processSystemMessage(ctx, msg)
	}

	// Process as user message
	return al.runAgentLoop(ctx, processOptions{
		SessionKey:      msg.SessionKey,
		Channel:         msg.Channel,
		ChatID:          msg.ChatID,
		UserMessage:     msg.Content,
		DefaultResponse: "I've completed processing but have no response to give.",
		EnableSummary:   true,
		SendResponse:    false,
	})
}

func (al *AgentLoop) processSystemMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	// Verify this is a system message
	if msg.Channel != "system" {
		return "", fmt.Errorf("processSystemMessage called with non-system message channel: %s", msg.Channel)
	}

	logger.InfoCF("agent", "Processing system message",
		map[string]interface{}{
			"sender_id": msg.SenderID,
			"chat_id":   msg.ChatID,
		})

	// Parse origin from chat_id (format: "channel:chat_id")
	var originChannel, originChatID string
	if idx := strings.Index(msg.ChatID, ":"); idx > 0 {
		originChannel = msg.ChatID[:idx]
		originChatID = msg.ChatID[idx+1:]
	} else {
		// Fallback
		originChannel = "cli"
		originChatID = msg.ChatID
	}

	// Use the origin session for context
	sessionKey := fmt.Sprintf("%s:%s", originChannel, originChatID)

	// Subagent internal reports should not be forwarded to the end user.
	// They can be stored as internal notes for later integration.
	if strings.HasPrefix(msg.SenderID, "subagent:") {
		event := ""
		if msg.Metadata != nil {
			event = msg.Metadata["subagent_event"]
		}

		// Progress-like events are internal only: store and return no user response.
		switch event {
		case "progress", "note", "warning":
			internal := fmt.Sprintf("[Internal: %s] %s", msg.SenderID, msg.Content)
			al.sessions.AddMessage(sessionKey, "assistant", internal)
			_ = al.sessions.Save(al.sessions.GetOrCreate(sessionKey))
			logger.InfoCF("agent", "Stored subagent update (internal)",
				map[string]interface{}{
					"session_key": sessionKey,
					"event":       event,
					"sender_id":   msg.SenderID,
				})
			return "", nil
		}
	}

	// Process as system message with routing back to origin
	_, err := al.runAgentLoop(ctx, processOptions{
		SessionKey:      sessionKey,
		Channel:         originChannel,
		ChatID:          originChatID,
		UserMessage:     fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content),
		DefaultResponse: "Background task completed.",
		EnableSummary:   false,
		SendResponse:    true, // Send response back to original channel
	})
	if err != nil {
		// Avoid routing errors to the non-existent "system" channel. Send a fallback
		// message directly to the origin channel/chat.
		al.bus.PublishOutbound(bus.OutboundMessage{
			Channel: originChannel,
			ChatID:  originChatID,
			Content: fmt.Sprintf("Error processing background task: %v", err),
		})
	}
	return "", nil
}

// runAgentLoop is the core message processing logic.
// It handles context building, LLM calls, tool execution, and response handling.
func (al *AgentLoop) runAgentLoop(ctx context.Context, opts processOptions) (string, error) {
	// 1. Resolve this turn's allowed-tools set once and share it
	// between tool listing and execution-time authorization.
	opts.AllowedTools = al.contextBuilder.ResolveAllowedTools()

	// 2. Build messages
	history := al.sessions.GetHistory(opts.SessionKey)
	summary := al.sessions.GetSummary(opts.SessionKey)
	messages := al.contextBuilder.BuildMessages(
		history,
		summary,
		opts.UserMessage,
		nil,
		opts.Channel,
		opts.ChatID,
		opts.AllowedTools,
	)

	// 3. Save user message to session
	al.sessions.AddMessage(opts.SessionKey, "user", opts.UserMessage)

	// 4. Run LLM iteration loop
	finalContent, iteration, err := al.runLLMIteration(ctx, messages, opts)
	if err != nil {
		return "", err
	}

	// 5. Handle empty response
	if finalContent == "" {
		finalContent = opts.DefaultResponse
	}

	// 6. Save final assistant message to session
	al.sessions.AddMessage(opts.SessionKey, "assistant", finalContent)
	al.sessions.Save(al.sessions.GetOrCreate(opts.SessionKey))

	// 7. Optional: summarization
	if opts.EnableSummary {
		al.maybeSummarize(opts.SessionKey)
	}

	// 8. Optional: send response via bus
	if opts.SendResponse {
		al.bus.PublishOutbound(bus.OutboundMessage{
			Channel: opts.Channel,
			ChatID:  opts.ChatID,
			Content: finalContent,
		})
	}

	// 9. Log response
	responsePreview := utils.Truncate(finalContent, 120)
	logger.InfoCF("agent", fmt.Sprintf("Response: %s", responsePreview),
		map[string]interface{}{
			"session_key":  opts.SessionKey,
			"iterations":   iteration,
			"final_length": len(finalContent),
		})

	return finalContent, nil
}

// runLLMIteration executes the LLM call loop with tool handling, delegating
// the request/tool-call/response cycle to llmloop.Run and using its hooks to
// log and persist each step the way the rest of this package already does.
// Returns the final content, iteration count, and any error.
func (al *AgentLoop) runLLMIteration(ctx context.Context, messages []providers.Message, opts processOptions) (string, int, error) {
	hooks := llmloop.Hooks{
		BeforeLLMCall: func(iteration int, msgs []providers.Message, toolDefs []providers.ToolDefinition) {
			logger.DebugCF("agent", "LLM iteration",
				map[string]interface{}{"iteration": iteration, "max": al.maxIterations})
			logger.DebugCF("agent", "LLM request",
				map[string]interface{}{
					"iteration":         iteration,
					"model":             al.model,
					"messages_count":    len(msgs),
					"tools_count":       len(toolDefs),
					"max_tokens":        8192,
					"temperature":       0.7,
					"system_prompt_len": len(msgs[0].Content),
				})
			logger.DebugCF("agent", "Full LLM request",
				map[string]interface{}{
					"iteration":     iteration,
					"messages_json": formatMessagesForLog(msgs),
					"tools_json":    formatToolsForLog(toolDefs),
				})
			logger.InfoCF("agent", "Calling LLM",
				map[string]interface{}{
					"iteration":      iteration,
					"model":          al.model,
					"messages_count": len(msgs),
					"tools_count":    len(toolDefs),
				})
		},
		LLMCallFailed: func(iteration int, err error) {
			logger.ErrorCF("agent", "LLM call failed",
				map[string]interface{}{"iteration": iteration, "error": err.Error()})
		},
		DirectResponse: func(iteration int, content string) {
			logger.InfoCF("agent", "LLM response without tool calls (direct answer)",
				map[string]interface{}{"iteration": iteration, "content_chars": len(content)})
		},
		ToolCallsRequested: func(iteration int, toolCalls []providers.ToolCall) {
			toolNames := make([]string, 0, len(toolCalls))
			for _, tc := range toolCalls {
				toolNames = append(toolNames, tc.Name)
			}
			logger.InfoCF("agent", "LLM requested tool calls",
				map[string]interface{}{"tools": toolNames, "count": len(toolNames), "iteration": iteration})
		},
		AssistantMessage: func(iteration int, msg providers.Message) {
			al.sessions.AddFullMessage(opts.SessionKey, msg)
		},
		ToolResultMessage: func(iteration int, msg providers.Message) {
			al.sessions.AddFullMessage(opts.SessionKey, msg)
		},
	}

	result, err := llmloop.Run(ctx, llmloop.RunOptions{
		Provider:      al.provider,
		Model:         al.model,
		MaxIterations: al.maxIterations,
		LLMTimeout:    al.llmTimeout,
		ChatOptions:   map[string]interface{}{"max_tokens": 8192, "temperature": 0.7},
		Messages:      messages,
		BuildToolDefs: func(int, []providers.Message) []providers.ToolDefinition {
			return al.tools.ListDefinitionsForPermissionsAndPolicy(opts.AllowedTools)
		},
		ExecuteTools: func(ctx context.Context, toolCalls []providers.ToolCall, iteration int) []providers.Message {
			return al.executeToolsSequentially(ctx, toolCalls, iteration, opts)
		},
		Hooks: hooks,
	})
	if err != nil {
		return "", result.Iterations, fmt.Errorf("LLM call failed: %w", err)
	}

	iteration := result.Iterations
	finalContent := result.FinalContent

	// On exhaustion, publish the fixed warning verbatim — no further LLM
	// call. The user can rephrase or ask to continue.
	if result.Exhausted {
		logger.WarnCF("agent", "Tool iteration limit reached",
			map[string]interface{}{
				"iterations": iteration,
				"max":        al.maxIterations,
			})
		finalContent = maxIterationsWarning
	}

	return finalContent, iteration, nil
}

// maxIterationsWarning is published verbatim when the agent loop exhausts
// its iteration budget — no further LLM call is made.
const maxIterationsWarning = "⚠️ I reached the maximum number of processing steps (10). My last response may be incomplete. Please try rephrasing your request."

// maybeSummarize triggers summarization once the session's history length
// and time-since-last-summary both clear the thresholds session.ShouldSummarize
// enforces (at least 30 messages, and no earlier summary or at least 300s
// since the last one).
func (al *AgentLoop) maybeSummarize(sessionKey string) {
	newHistory := al.sessions.GetHistory(sessionKey)

	if !al.sessions.ShouldSummarize(sessionKey, len(newHistory)) {
		return
	}

	if _, loading := al.summarizing.LoadOrStore(sessionKey, true); !loading {
		go func() {
			defer al.summarizing.Delete(sessionKey)
			al.summarizeSession(sessionKey)
		}()
	}
}

// GetStartupInfo returns information about loaded tools and skills for logging.
func (al *AgentLoop) GetStartupInfo() map[string]interface{} {
	info := make(map[string]interface{})

	// Tools info
	tools := al.tools.List()
	info["tools"] = map[string]interface{}{
		"count": len(tools),
		"names": tools,
	}

	// Skills info
	info["skills"] = al.contextBuilder.GetSkillsInfo()

	return info
}

// formatMessagesForLog formats messages for logging
func formatMessagesForLog(messages []providers.Message) string {
	if len(messages) == 0 {
		return "[]"
	}

	var result string
	result += "[\n"
	for i, msg := range messages {
		result += fmt.Sprintf("  [%d] Role: %s\n", i, msg.Role)
		if msg.ToolCalls != nil && len(msg.ToolCalls) > 0 {
			result += "  ToolCalls:\n"
			for _, tc := range msg.ToolCalls {
				result += fmt.Sprintf("    - ID: %s, Type: %s, Name: %s\n", tc.ID, tc.Type, tc.Name)
				if tc.Function != nil {
					result += fmt.Sprintf("      Arguments: %s\n", utils.Truncate(tc.Function.Arguments, 200))
				}
			}
		}
		if msg.Content != "" {
			content := utils.Truncate(msg.Content, 200)
			result += fmt.Sprintf("  Content: %s\n", content)
		}
		if msg.ToolCallID != "" {
			result += fmt.Sprintf("  ToolCallID: %s\n", msg.ToolCallID)
		}
		result += "\n"
	}
	result += "]"
	return result
}

// formatToolsForLog formats tool definitions for logging
func formatToolsForLog(tools []providers.ToolDefinition) string {
	if len(tools) == 0 {
		return "[]"
	}

	var result string
	result += "[\n"
	for i, tool := range tools {
		result += fmt.Sprintf("  [%d] Type: %s, Name: %s\n", i, tool.Type, tool.Function.Name)
		result += fmt.Sprintf("      Description: %s\n", tool.Function.Description)
		if len(tool.Function.Parameters) > 0 {
			result += fmt.Sprintf("      Parameters: %s\n", utils.Truncate(fmt.Sprintf("%v", tool.Function.Parameters), 200))
		}
	}
	result += "]"
	return result
}

// summarizationSystemPrompt drives the single dedicated summarization call
// no tools, a short deterministic paragraph, nothing else.
const summarizationSystemPrompt = "Summarize this conversation in one concise paragraph, preserving names, decisions, and facts that matter for later turns. Output only the paragraph."

// summarizeSession runs the single spec-mandated summarization LLM call for
// a session that has crossed ShouldSummarize's thresholds, then records the
// summary, marks the session summarized, and trims history down to the last
// 10 messages. A failed call is logged and the session is left untouched —
// summarization never blocks or corrupts the live conversation.
func (al *AgentLoop) summarizeSession(sessionKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	history := al.sessions.GetHistory(sessionKey)
	if len(history) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	response, err := al.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: summarizationSystemPrompt},
		{Role: "user", Content: transcript.String()},
	}, nil, al.model, map[string]interface{}{
		"max_tokens":  500,
		"temperature": 0.3,
	})
	if err != nil {
		logger.WarnCF("agent", "Session summarization failed",
			map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
		return
	}

	al.sessions.SetSummary(sessionKey, response.Content)
	al.sessions.MarkSummarized(sessionKey)
	al.sessions.TruncateHistory(sessionKey, 10)
	al.sessions.Save(al.sessions.GetOrCreate(sessionKey))

	// Extract and store notable memories from the compacted messages so
	// they survive history truncation.
	al.extractAndStoreMemories(ctx, history)
}
