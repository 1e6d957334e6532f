package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EditFileTool performs a single literal find-and-replace on a file,
// restricted to a configured directory so the model can't be tricked into
// editing anything outside the workspace it's been granted.
type EditFileTool struct {
	allowedDir string
}

func NewEditFileTool(allowedDir string) *EditFileTool {
	abs, err := filepath.Abs(allowedDir)
	if err != nil {
		abs = allowedDir
	}
	return &EditFileTool{allowedDir: abs}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace the first occurrence of old_text with new_text in a file"
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string", "description": "Path to the file to edit"},
			"old_text": map[string]interface{}{"type": "string", "description": "Exact text to find and replace"},
			"new_text": map[string]interface{}{"type": "string", "description": "Replacement text"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !withinDir(abs, t.allowedDir) {
		return "", fmt.Errorf("path %s is outside allowed directory %s", path, t.allowedDir)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	if oldText != "" && !strings.Contains(content, oldText) {
		return "", fmt.Errorf("old_text not found in %s", path)
	}
	updated := strings.Replace(content, oldText, newText, 1)

	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("Edited %s", path), nil
}
