package tools

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath_ExistingInsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	file := filepath.Join(workspace, "notes.txt")
	if err := os.WriteFile(file, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := ValidatePath(workspace, "notes.txt")
	if err != nil {
		t.Fatalf("expected valid path, got %v", err)
	}
	canonicalWorkspace, _ := filepath.EvalSymlinks(workspace)
	if !strings.HasPrefix(resolved, canonicalWorkspace) {
		t.Fatalf("resolved path %q escapes workspace %q", resolved, canonicalWorkspace)
	}
}

func TestValidatePath_NonExistingNestedInsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	resolved, err := ValidatePath(workspace, "a/b/c.txt")
	if err != nil {
		t.Fatalf("expected valid path, got %v", err)
	}
	if !strings.HasSuffix(resolved, filepath.Join("a", "b", "c.txt")) {
		t.Fatalf("resolved = %q, want suffix a/b/c.txt", resolved)
	}
}

func TestValidatePath_RejectsOutsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.txt")
	if err := os.WriteFile(outside, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ValidatePath(workspace, outside)
	if err == nil {
		t.Fatal("expected outside path to be rejected")
	}
	if !strings.Contains(err.Error(), "Access denied") && !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePath_RejectsTraversal(t *testing.T) {
	workspace := t.TempDir()
	_, err := ValidatePath(workspace, "../../etc/passwd")
	if err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestIsPrivateIP_IPv4Ranges(t *testing.T) {
	private := []string{"127.0.0.1", "10.1.2.3", "192.168.1.5", "169.254.169.254", "100.64.0.1", "0.0.0.0"}
	for _, s := range private {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be private", s)
		}
	}
	if IsPrivateIP(net.ParseIP("8.8.8.8")) {
		t.Error("8.8.8.8 should not be private")
	}
}

func TestIsPrivateIP_IPv6Ranges(t *testing.T) {
	private := []string{"::1", "::", "fc00::1", "fe80::1"}
	for _, s := range private {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be private", s)
		}
	}
	if IsPrivateIP(net.ParseIP("2606:4700:4700::1111")) {
		t.Error("public IPv6 should not be private")
	}
}

func TestTruncateOutput_KeepsShortStrings(t *testing.T) {
	if got := TruncateOutput("hello", 10); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateOutput_AddsMarkerWhenLimited(t *testing.T) {
	result := TruncateOutput("abcdefghijklmnopqrstuvwxyz", 5)
	if !strings.HasPrefix(result, "abcde") {
		t.Fatalf("unexpected prefix: %q", result)
	}
	if !strings.Contains(result, "OUTPUT TRUNCATED (5B limit)") {
		t.Fatalf("missing truncation marker: %q", result)
	}
}
