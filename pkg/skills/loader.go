// Package skills loads optional capability bundles from the workspace's
// skills/ directory: a name, a description, and markdown content injected
// into the agent's system prompt when the skill is marked "always" and has
// been explicitly approved.
package skills

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Skill is one loaded capability bundle.
type Skill struct {
	Name        string
	Description string
	Content     string
	Always      bool
	AllowedTools []string
}

type skillFrontmatter struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Always      bool     `json:"always"`
	Tools       []string `json:"tools"`
}

var frontmatterRe = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n(.*)`)

// Loader reads SKILL.md bundles from a workspace's skills/ subdirectory.
type Loader struct {
	workspace string
}

func NewLoader(workspace string) *Loader {
	return &Loader{workspace: workspace}
}

// List returns every skill found under workspace/skills/*/SKILL.md.
// Missing or unreadable directories yield an empty (not error) result —
// skills are optional.
func (l *Loader) List() []Skill {
	dir := filepath.Join(l.workspace, "skills")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skills = append(skills, parseSkillMD(entry.Name(), string(data)))
	}
	return skills
}

func parseSkillMD(dirName, content string) Skill {
	meta := skillFrontmatter{Name: dirName, Description: "No description provided"}
	body := content

	if m := frontmatterRe.FindStringSubmatch(content); m != nil {
		_ = json.Unmarshal([]byte(m[1]), &meta)
		body = strings.TrimSpace(m[2])
	}

	return Skill{
		Name:         meta.Name,
		Description:  meta.Description,
		Content:      body,
		Always:       meta.Always,
		AllowedTools: meta.Tools,
	}
}

// BuildSummary renders a short human-readable list of available skills,
// for inclusion in the system prompt without pasting full skill bodies.
func BuildSummary(all []Skill) string {
	if len(all) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range all {
		sb.WriteString("- " + s.Name + ": " + s.Description + "\n")
	}
	return sb.String()
}
