package executor

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pi-parallel/parallel/internal/types"
)

// dispatchEvent parses one newline-delimited JSON line per the SPEC_FULL.md
// §4.1 event table and mutates progress accordingly. It returns the latest
// assistant text (if this event carried one) and an API-level error message
// (if this event signalled one); unparseable or unrecognized lines are
// silently ignored, matching the teacher's cc_runner.go default-case
// handling of unknown stream-json types.
func dispatchEvent(line []byte, progress *types.TaskProgress) (text string, apiErr string) {
	var evt streamMessage
	if err := json.Unmarshal(line, &evt); err != nil {
		return "", ""
	}

	switch evt.Type {
	case "message_end":
		if evt.Message == nil || evt.Message.Role != "assistant" {
			return "", ""
		}
		m := evt.Message
		progress.Tokens.Turns++
		if m.Usage != nil {
			progress.Tokens.InputTokens += m.Usage.InputTokens
			progress.Tokens.OutputTokens += m.Usage.OutputTokens
			progress.Tokens.CacheRead += m.Usage.CacheRead
			progress.Tokens.CacheWrite += m.Usage.CacheWrite
			progress.Tokens.ContextTokens = m.Usage.TotalTokens
			if m.Usage.Cost != nil {
				progress.Tokens.Cost += m.Usage.Cost.Total
			}
		}
		var last string
		for _, part := range m.Content {
			if part.Type == "text" && part.Text != "" {
				last = part.Text
				progress.PushOutput(truncatePreview(part.Text, 100))
			}
		}
		if m.StopReason == "error" && m.ErrorMsg != "" {
			apiErr = m.ErrorMsg
		}
		return last, apiErr

	case "tool_execution_start":
		progress.CurrentTool = evt.Tool
		progress.CurrentToolArgs = toolArgsPreview(evt.Tool, evt.Input)
		return "", ""

	case "tool_execution_end":
		progress.PushTool(evt.Tool, progress.CurrentToolArgs)
		progress.ToolCount++
		progress.CurrentTool = ""
		progress.CurrentToolArgs = ""
		return "", ""

	case "tool_result_end":
		return "", ""

	default:
		return "", ""
	}
}

// toolArgsPreview implements the per-tool preview heuristics of
// SPEC_FULL.md §4.1, capped at 60 characters.
func toolArgsPreview(tool string, input map[string]any) string {
	s := func(k string) string {
		v, _ := input[k].(string)
		return v
	}
	var out string
	switch tool {
	case "read":
		path := truncatePreview(s("path"), 50)
		if off, ok := input["offset"]; ok {
			limit := input["limit"]
			out = fmt.Sprintf("%s [%v-%v]", path, off, limit)
		} else {
			out = path
		}
	case "write":
		content := s("content")
		out = fmt.Sprintf("%s (%d chars)", truncatePreview(s("path"), 40), len([]rune(content)))
	case "edit":
		out = truncatePreview(s("path"), 50)
	case "bash":
		out = s("command")
	case "grep":
		out = s("pattern")
		if p := s("path"); p != "" {
			out += " in " + p
		}
	case "find":
		out = s("path")
		if n := s("name"); n != "" {
			out += fmt.Sprintf(" -name %q", n)
		}
	case "mcp":
		for _, k := range []string{"tool", "search", "server"} {
			if v := s(k); v != "" {
				out = k + ": " + v
				break
			}
		}
	case "subagent":
		if t := s("task"); t != "" {
			out = truncatePreview(t, 50)
		} else if a := s("agent"); a != "" {
			out = "agent:" + a
		}
	case "todo":
		title := s("title")
		if title == "" {
			title = s("id")
		}
		out = "action: " + title
	}
	if out == "" {
		out = fallbackPreview(input)
	}
	return truncatePreview(out, 60)
}

var fallbackKeys = []string{"command", "path", "file", "pattern", "query", "url", "task", "prompt", "name", "action"}

func fallbackPreview(input map[string]any) string {
	for _, k := range fallbackKeys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	if len(input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	k := keys[0]
	return fmt.Sprintf("%s: %v", k, input[k])
}
