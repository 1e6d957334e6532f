package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/arjunmehta/relay/pkg/core"
	"github.com/arjunmehta/relay/pkg/providers"
	"github.com/arjunmehta/relay/pkg/skills"
	"github.com/arjunmehta/relay/pkg/tools"
)

// bootstrapFiles are workspace-root markdown files that, when present, are
// folded into the system prompt verbatim so a user can steer the agent's
// persona and working rules without touching code.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// ContextBuilder assembles the message list sent to the LLM on every turn:
// an identity/system prompt, bootstrap file content, always-on skills, the
// rolling summary, conversation history, and the current user message.
type ContextBuilder struct {
	workspace      string
	skillsLoader   *skills.Loader
	approvedSkills *skills.ApprovedSkills
	tools          *tools.ToolRegistry
}

func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{
		workspace:      workspace,
		skillsLoader:   skills.NewLoader(workspace),
		approvedSkills: skills.LoadApprovedSkills(skills.DefaultApprovedSkillsPath()),
	}
}

// SetToolsRegistry wires the live tool registry in so the system prompt can
// list available tools and their descriptions.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

func (cb *ContextBuilder) buildIdentity(allowedTools []string) string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	var sb strings.Builder
	sb.WriteString("You are a personal assistant gateway, relaying conversations across ")
	sb.WriteString("chat channels and acting on the user's behalf using the tools available to you.\n")
	fmt.Fprintf(&sb, "Current time: %s. Runtime: %s. Workspace: %s.\n", now, rt, workspacePath)
	sb.WriteString("Answer accurately and concisely. Use tools when a request requires taking an action ")
	sb.WriteString("or looking something up rather than guessing.\n")

	if cb.tools != nil {
		if defs := cb.tools.ListDefinitionsForPermissions(allowedTools); len(defs) > 0 {
			sb.WriteString("\nAvailable tools:\n")
			for _, d := range defs {
				fmt.Fprintf(&sb, "- %s: %s\n", d.Function.Name, d.Function.Description)
			}
		}
	}

	return sb.String()
}

// ResolveAllowedTools implements the allowed-tools resolution table:
// an approved skill with no permissions block or an empty tools list grants
// the allow-all marker outright; one or more approved skills that declare
// tools grant the union of those names; with no approved skills at all, the
// fixed safe-default set applies.
func (cb *ContextBuilder) ResolveAllowedTools() []string {
	var approved []skills.Skill
	for _, s := range cb.skillsLoader.List() {
		if cb.approvedSkills.IsApproved(s.Name) {
			approved = append(approved, s)
		}
	}

	if len(approved) == 0 {
		return append([]string(nil), core.SafeDefaultTools...)
	}

	union := make(map[string]struct{})
	for _, s := range approved {
		if len(s.AllowedTools) == 0 {
			return []string{core.AllowAllMarker}
		}
		for _, t := range s.AllowedTools {
			union[t] = struct{}{}
		}
	}

	allowed := make([]string, 0, len(union))
	for t := range union {
		allowed = append(allowed, t)
	}
	sort.Strings(allowed)
	return allowed
}

func (cb *ContextBuilder) loadBootstrapFiles() string {
	var sb strings.Builder
	for _, filename := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(cb.workspace, filename))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", filename, string(data))
	}
	return sb.String()
}

// loadAlwaysOnSkills renders every skill that is both marked always-on and
// approved — an always-on skill the user hasn't approved is
// not yet "available" and stays out of the prompt.
func (cb *ContextBuilder) loadAlwaysOnSkills() string {
	all := cb.skillsLoader.List()
	var sb strings.Builder
	for _, s := range all {
		if !s.Always || !cb.approvedSkills.IsApproved(s.Name) {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Skill: %s ---\n%s\n", s.Name, s.Content)
	}
	return sb.String()
}

// BuildSystemPrompt assembles the full system prompt, without session
// summary or Current Session metadata (those are layered on by BuildMessages
// since they vary per call, not just per workspace).
func (cb *ContextBuilder) BuildSystemPrompt(allowedTools []string) string {
	parts := []string{cb.buildIdentity(allowedTools)}

	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}
	if skillsText := cb.loadAlwaysOnSkills(); skillsText != "" {
		parts = append(parts, skillsText)
	}

	return strings.Join(parts, "\n")
}

// maxHistoryMessages caps how much raw history BuildMessages ever forwards
// to the model in one turn; older messages are dropped in
// favor of the rolling summary, with a notice marking what was omitted.
const maxHistoryMessages = 20

// BuildMessages returns the full message list for one agent turn: system
// prompt, rolling summary, conversation history, and the current user
// message. media is a list of workspace-relative or absolute file paths to
// inline as additional text context (no multimodal content parts — the
// gateway's channels only need an assistant that can read attached text).
// allowedTools is the slice resolved once per turn by ResolveAllowedTools,
// shared with execution-time authorization so the model is never offered a
// tool it would then be refused for calling.
func (cb *ContextBuilder) BuildMessages(history []providers.Message, summary, currentMessage string, media []string, channel, chatID string, allowedTools []string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt(allowedTools)

	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n## Current Session\nChannel: %s\nChat ID: %s\n", channel, chatID)
	}
	if summary != "" {
		systemPrompt += "\n## Summary of Earlier Conversation\n" + summary + "\n"
	}

	omitted := 0
	if len(history) > maxHistoryMessages {
		omitted = len(history) - maxHistoryMessages
		history = history[omitted:]
	}
	if omitted > 0 {
		systemPrompt += fmt.Sprintf("\n(%d older messages omitted)\n", omitted)
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})

	// A transcript can't open on a dangling tool result if the leading
	// messages were trimmed by a budget or summary cut.
	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}
	messages = append(messages, history...)

	messages = append(messages, providers.Message{
		Role:    "user",
		Content: cb.buildUserMessage(currentMessage, media),
	})

	return messages
}

func (cb *ContextBuilder) buildUserMessage(text string, media []string) string {
	if len(media) == 0 {
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)
	for _, path := range media {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Attached file unavailable: %s]", filepath.Base(path))
			continue
		}
		fmt.Fprintf(&sb, "\n--- File: %s ---\n%s\n--- End of %s ---", filepath.Base(path), string(data), filepath.Base(path))
	}
	return sb.String()
}

// GetSkillsInfo reports loaded skill counts/names for startup diagnostics.
func (cb *ContextBuilder) GetSkillsInfo() map[string]any {
	all := cb.skillsLoader.List()
	names := make([]string, 0, len(all))
	available := 0
	for _, s := range all {
		names = append(names, s.Name)
		if s.Always || cb.approvedSkills.IsApproved(s.Name) {
			available++
		}
	}
	return map[string]any{
		"total":     len(all),
		"available": available,
		"names":     names,
	}
}
