package skill

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header of a skill markdown file. The markdown body
// becomes the skill instructions.
type frontmatter struct {
	Name       string         `yaml:"name"`
	Category   string         `yaml:"category"`
	Parameters map[string]any `yaml:"parameters"`
	Examples   []string       `yaml:"examples"`
	Enabled    *bool          `yaml:"enabled"`
}

var frontmatterDelim = []byte("---")

// ParseSkillFile parses a markdown skill file with YAML frontmatter:
//
//	---
//	name: tell-joke
//	category: fun
//	examples:
//	  - tell me a joke
//	---
//
//	When asked for a joke, answer with a short pun.
//
// The returned definition has no handler; callers attach one (typically a
// prompt-injection handler) before registering.
func ParseSkillFile(content []byte) (*Definition, error) {
	trimmed := bytes.TrimLeft(content, "\ufeff\n\r ")
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return nil, fmt.Errorf("skill file missing frontmatter")
	}
	rest := trimmed[len(frontmatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
	if end < 0 {
		return nil, fmt.Errorf("skill file frontmatter not terminated")
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, fmt.Errorf("parse skill frontmatter: %w", err)
	}
	body := rest[end+len(frontmatterDelim)+1:]

	enabled := true
	if fm.Enabled != nil {
		enabled = *fm.Enabled
	}
	d := &Definition{
		Name:         fm.Name,
		Category:     fm.Category,
		Instructions: strings.TrimSpace(string(body)),
		Parameters:   fm.Parameters,
		Examples:     fm.Examples,
		Enabled:      enabled,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDir parses every .md file in dir. Unparseable files are returned as an
// aggregate error alongside the skills that did parse.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var (
		skills []*Definition
		errs   []string
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		d, err := ParseSkillFile(content)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		skills = append(skills, d)
	}
	if len(errs) > 0 {
		return skills, fmt.Errorf("skill load errors: %s", strings.Join(errs, "; "))
	}
	return skills, nil
}
