package tools

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// SandboxConfig centralizes the confinement rules every tool executes under:
// workspace boundary, exec timeout/limits, and output truncation.
// NetworkAllowlist is carried here, but neither web_fetch nor web_search
// reads it, so outbound fetches are not restricted by domain.
type SandboxConfig struct {
	WorkspacePath     string
	ExecTimeoutSecs   uint64
	MaxOutputBytes    int
	ExecEnabled       bool
	NetworkAllowlist  []string
	MaxChildProcesses uint64
	MaxOpenFiles      uint64
	CPUTimeLimitSecs  uint64
}

// DefaultSandboxConfig mirrors the defaults every deployment starts from
// unless overridden: 30s exec timeout, 64KB combined output cap, exec
// enabled, no network allowlist (allow all), generous process/fd/cpu caps.
func DefaultSandboxConfig(workspacePath string) SandboxConfig {
	return SandboxConfig{
		WorkspacePath:     workspacePath,
		ExecTimeoutSecs:   30,
		MaxOutputBytes:    64 * 1024,
		ExecEnabled:       true,
		MaxChildProcesses: 50,
		MaxOpenFiles:      1024,
		CPUTimeLimitSecs:  30,
	}
}

// ValidatePath confines requested to workspace, resolving symlinks and ".."
// components so that neither a crafted relative path nor a symlink can
// escape the sandbox. Existing paths are fully canonicalized; for
// not-yet-existing paths (e.g. a file a tool is about to create) the
// nearest existing ancestor is canonicalized and the remaining components
// are re-appended, rejecting any literal ".." along the way.
func ValidatePath(workspace, requested string) (string, error) {
	var absolute string
	if filepath.IsAbs(requested) {
		absolute = filepath.Clean(requested)
	} else {
		absolute = filepath.Join(workspace, requested)
	}

	workspaceCanonical, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}

	if info, err := os.Lstat(absolute); err == nil {
		resolved, err := filepath.EvalSymlinks(absolute)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		if !withinDir(resolved, workspaceCanonical) {
			if info.Mode()&os.ModeSymlink != 0 {
				return "", fmt.Errorf("access denied: symlink '%s' points outside workspace", requested)
			}
			return "", fmt.Errorf("access denied: path '%s' is outside workspace '%s'", requested, workspace)
		}
		return resolved, nil
	}

	existingAncestor := absolute
	var remaining []string
	for {
		if _, err := os.Stat(existingAncestor); err == nil {
			break
		}
		parent := filepath.Dir(existingAncestor)
		name := filepath.Base(existingAncestor)
		if parent == existingAncestor {
			return "", fmt.Errorf("invalid path: no existing ancestor found")
		}
		remaining = append([]string{name}, remaining...)
		existingAncestor = parent
	}

	ancestorCanonical, err := filepath.EvalSymlinks(existingAncestor)
	if err != nil {
		return "", fmt.Errorf("failed to resolve ancestor: %w", err)
	}
	if !withinDir(ancestorCanonical, workspaceCanonical) {
		return "", fmt.Errorf("access denied: path '%s' is outside workspace '%s'", requested, workspace)
	}

	result := ancestorCanonical
	for _, part := range remaining {
		if part == ".." {
			return "", fmt.Errorf("path traversal ('..') is not allowed")
		}
		result = filepath.Join(result, part)
	}
	return result, nil
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// IsPrivateIP reports whether ip falls in a private, loopback, link-local,
// or otherwise non-routable range, used to block web_fetch/web_search from
// reaching internal infrastructure (SSRF protection), including the AWS/GCP
// metadata address and the 100.64/10 carrier-grade NAT range.
func IsPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsLoopback() || ip4.IsPrivate() || ip4.IsLinkLocalUnicast() || ip4.IsUnspecified() {
			return true
		}
		if ip4.Equal(net.IPv4bcast) {
			return true
		}
		if ip4.Equal(net.IPv4(169, 254, 169, 254)) {
			return true
		}
		if ip4[0] == 100 && (ip4[1]&0xC0) == 64 {
			return true
		}
		return false
	}

	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
		return true
	}
	if ip.IsLinkLocalUnicast() {
		return true
	}
	if ip4 := ip.To4(); ip4 == nil && ip.Equal(net.ParseIP("::ffff:127.0.0.1")) {
		return true
	}
	return false
}

// TruncateOutput caps output at maxBytes, appending a trailer noting the
// limit when truncation occurred, matching the footer every exec/fetch tool
// appends so callers can tell truncated output from genuinely short output.
func TruncateOutput(output string, maxBytes int) string {
	if len(output) <= maxBytes {
		return output
	}
	return fmt.Sprintf("%s\n\n--- OUTPUT TRUNCATED (%dB limit) ---", output[:maxBytes], maxBytes)
}
