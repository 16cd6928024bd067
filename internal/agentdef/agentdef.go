// Package agentdef discovers and parses agent-definition files, the
// minimal concrete mechanism SPEC_FULL.md §3a specifies to fill the gap
// left by the distilled spec's "agent discovery... specified only as
// inputs to the scheduler" Non-goal. Each definition is a small
// Markdown-with-frontmatter document; a hand-rolled scanner is used rather
// than a YAML library since the frontmatter shape needed (a handful of
// flat scalar/array fields) is simpler than anything the example corpus
// reaches for a YAML dependency to parse (see DESIGN.md).
package agentdef

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Scope selects which search roots Discover consults.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeBoth    Scope = "both"
)

// Definition is one named agent's defaults, loaded from disk.
type Definition struct {
	Name         string
	Role         string
	Provider     string
	Model        string
	Tools        []string
	Thinking     string
	SystemPrompt string
	Source       string // file path, for diagnostics
}

// Discover loads every *.md file under the scope's search roots. Project
// definitions override user definitions of the same name when scope is
// "both", matching a project-local override convention.
func Discover(scope Scope, userDir, projectDir string) (map[string]Definition, error) {
	defs := make(map[string]Definition)

	load := func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.Wrapf(err, "reading agent dir %s", dir)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			def, err := parseFile(path)
			if err != nil {
				return errors.Wrapf(err, "parsing agent definition %s", path)
			}
			if def.Name == "" {
				def.Name = strings.TrimSuffix(name, ".md")
			}
			defs[def.Name] = def
		}
		return nil
	}

	switch scope {
	case ScopeUser:
		if err := load(userDir); err != nil {
			return nil, err
		}
	case ScopeProject:
		if err := load(projectDir); err != nil {
			return nil, err
		}
	case ScopeBoth, "":
		if err := load(userDir); err != nil {
			return nil, err
		}
		if err := load(projectDir); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown agent scope %q", scope)
	}

	return defs, nil
}

// parseFile reads a "---\nkey: value\n---\nbody" document.
func parseFile(path string) (Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Definition{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var def Definition
	def.Source = path

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return def, errors.New("missing frontmatter opening delimiter")
	}

	var front []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		front = append(front, line)
	}
	if !closed {
		return def, errors.New("missing frontmatter closing delimiter")
	}

	for _, line := range front {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "name":
			def.Name = value
		case "role":
			def.Role = value
		case "provider":
			def.Provider = value
		case "model":
			def.Model = value
		case "thinking":
			def.Thinking = value
		case "tools":
			def.Tools = parseInlineList(value)
		}
	}

	var body strings.Builder
	for scanner.Scan() {
		body.WriteString(scanner.Text())
		body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return def, err
	}
	def.SystemPrompt = strings.TrimSpace(body.String())
	return def, nil
}

// parseInlineList parses a "[a, b, c]" inline array or a bare
// comma-separated scalar list.
func parseInlineList(value string) []string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(p, `"'`))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
