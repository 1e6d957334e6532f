package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ExecTool runs an arbitrary shell command through sh -c, guarded by a deny
// list of destructive patterns, an optional allowlist, and the sandbox's
// rlimit/process-group confinement.
type ExecTool struct {
	workspace     string
	cfg           SandboxConfig
	timeout       time.Duration
	allowPatterns []*regexp.Regexp
}

// execBlockedSubstrings are checked unconditionally, regardless of any
// allowlist — a command containing one of these never runs. Matched as
// plain substrings (not anchored patterns) so a blocked fragment can't hide
// behind a chained or piped command.
var execBlockedSubstrings = []string{
	"rm -rf /", "rm -rf /*",
	"sudo ",
	"mkfs",
	"dd if=",
	":(){",
	"> /dev/",
	"chmod 777 /",
	"chown root",
	"pkill -9",
	"killall",
	"shutdown",
	"reboot",
	"poweroff",
	"init 0", "init 6",
	"format ",
	"fdisk",
	"diskpart",
	"rmdir /s",
	"del /f", "del /q",
}

func NewExecTool(cfg SandboxConfig) *ExecTool {
	return &ExecTool{
		workspace: cfg.WorkspacePath,
		cfg:       cfg,
		timeout:   time.Duration(cfg.ExecTimeoutSecs) * time.Second,
	}
}

func (t *ExecTool) Name() string        { return "exec_cmd" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its output" }

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

// SetAllowPatterns restricts execution to commands matching at least one of
// patterns. An invalid regex is rejected up front rather than silently
// dropped.
func (t *ExecTool) SetAllowPatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid allow pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	t.allowPatterns = compiled
	return nil
}

func (t *ExecTool) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// guardCommand returns a non-empty message if command should be blocked, or
// "" if it's safe to run. The deny list and the ".." traversal check apply
// unconditionally — neither is gated behind an opt-in flag — before the
// allowlist is consulted.
func (t *ExecTool) guardCommand(command string) string {
	lower := strings.ToLower(strings.TrimSpace(command))

	for _, blocked := range execBlockedSubstrings {
		if strings.Contains(lower, blocked) {
			return "Command blocked: dangerous pattern detected"
		}
	}

	if strings.Contains(command, "..") {
		return "Command blocked: path traversal outside workspace"
	}

	if len(t.allowPatterns) > 0 {
		allowed := false
		for _, pattern := range t.allowPatterns {
			if pattern.MatchString(lower) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "Command blocked: not in allowlist"
		}
	}

	return ""
}

// rlimitPrefix renders POSIX ulimit invocations ahead of the user's command
// in the same sh -c string — Go's os/exec has no pre_exec hook to set
// rlimits between fork and exec, so the shell builtin does it instead.
func (t *ExecTool) rlimitPrefix() string {
	var sb strings.Builder
	if t.cfg.MaxChildProcesses > 0 {
		fmt.Fprintf(&sb, "ulimit -u %d; ", t.cfg.MaxChildProcesses)
	}
	if t.cfg.MaxOpenFiles > 0 {
		fmt.Fprintf(&sb, "ulimit -n %d; ", t.cfg.MaxOpenFiles)
	}
	if t.cfg.CPUTimeLimitSecs > 0 {
		fmt.Fprintf(&sb, "ulimit -t %d; ", t.cfg.CPUTimeLimitSecs)
	}
	return sb.String()
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if !t.cfg.ExecEnabled {
		return "Error: command execution is disabled", nil
	}

	command, ok := args["command"].(string)
	if !ok || command == "" {
		return "", fmt.Errorf("command is required")
	}

	if guardMsg := t.guardCommand(command); guardMsg != "" {
		return "Error: " + guardMsg, nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", t.rlimitPrefix()+command)
	if t.workspace != "" {
		cmd.Dir = t.workspace
	}
	setProcAttr(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err != nil {
		return "", fmt.Errorf("failed to start command: %w", err)
	}
	waitErr := cmd.Wait()

	if cmdCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return fmt.Sprintf("Error: command timed out after %v", t.timeout), nil
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR:\n" + stderr.String()
	}
	if output == "" {
		output = "(no output)"
	}
	maxBytes := t.cfg.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = 10000
	}
	output = TruncateOutput(output, maxBytes)

	if waitErr != nil {
		output += fmt.Sprintf("\nExit code error: %v", waitErr)
	}

	return output, nil
}
