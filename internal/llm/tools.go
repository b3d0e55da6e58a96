package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ToolCall is a parsed invocation extracted from a model reply.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Five ordered embeddings a tool call may arrive wrapped in. Tried in order,
// first match wins.
var (
	wholeReplyJSON  = regexp.MustCompile(`^\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"parameters"\s*:\s*(\{.*\})\s*\}\s*$`)
	pythonTagCall   = regexp.MustCompile(`<\|python_tag\|>\s*([a-zA-Z_][a-zA-Z0-9_]*)\.call\(([^)]*)\)`)
	functoolsCall   = regexp.MustCompile(`functools\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`)
	tagDelimitedOld = regexp.MustCompile(`<\|tool_call_start\|>\s*\[\s*([a-zA-Z_][a-zA-Z0-9_]*)\(([^)]*)\)\s*\]\s*<\|tool_call_end\|>`)
	xmlToolCall     = regexp.MustCompile(`<tool_call>\s*(\{.*?\})\s*</tool_call>`)
)

// DetectToolCall scans reply for one of the five recognized tool-call
// embeddings and returns the parsed call. ok is false when none matched,
// in which case reply is the final user-visible answer as-is.
func DetectToolCall(reply string) (call ToolCall, ok bool) {
	if m := wholeReplyJSON.FindStringSubmatch(reply); m != nil {
		return toolCallFromNameArgsJSON(m[1], m[2])
	}
	if m := pythonTagCall.FindStringSubmatch(reply); m != nil {
		return toolCallFromExpr(m[1], m[2])
	}
	if m := functoolsCall.FindStringSubmatch(reply); m != nil {
		return toolCallFromNameArgsJSON(m[1], m[2])
	}
	if m := tagDelimitedOld.FindStringSubmatch(reply); m != nil {
		return toolCallFromExpr(m[1], m[2])
	}
	if m := xmlToolCall.FindStringSubmatch(reply); m != nil {
		var payload struct {
			Name string         `json:"name"`
			Args map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			return ToolCall{}, false
		}
		return ToolCall{Name: payload.Name, Args: payload.Args}, true
	}
	return ToolCall{}, false
}

func toolCallFromNameArgsJSON(name, argsJSON string) (ToolCall, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Args: args}, true
}

// toolCallFromExpr parses a Python-style call expression's argument list
// "k=v, k2=v2" into a map, inferring JSON-ish scalar types for each value.
func toolCallFromExpr(name, argList string) (ToolCall, bool) {
	args := map[string]any{}
	argList = strings.TrimSpace(argList)
	if argList == "" {
		return ToolCall{Name: name, Args: args}, true
	}
	for _, part := range splitTopLevelCommas(argList) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		args[key] = parseExprValue(strings.TrimSpace(kv[1]))
	}
	return ToolCall{Name: name, Args: args}, true
}

// splitTopLevelCommas splits on commas that are not nested inside quotes,
// brackets, or parens — good enough for the flat k=v argument lists the
// recognized call expressions actually produce.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote && (i == 0 || s[i-1] != '\\') {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseExprValue(v string) any {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	switch v {
	case "True":
		return true
	case "False":
		return false
	case "None":
		return nil
	}
	var n json.Number
	if err := json.Unmarshal([]byte(v), &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

// ToolExecutor dispatches a parsed ToolCall and returns its textual result.
// *Executor is the production implementation; tests substitute a fake.
type ToolExecutor interface {
	Invoke(ctx context.Context, call ToolCall) (string, error)
}

// Executor dispatches a ToolCall to an external Python interpreter, which
// imports the single user-provided tool file and evaluates print(<call>),
// and returns the captured stdout.
type Executor struct {
	// ModulePath is the Python file (minus .py) the executor imports via
	// `from <module> import *`, and the directory it runs in.
	ModulePath string
	Dir        string
}

// NewExecutor builds an Executor that imports the module named path (the
// tool file's base name without .py) and runs in dir.
func NewExecutor(path, dir string) *Executor {
	return &Executor{ModulePath: path, Dir: dir}
}

// Invoke runs `python -c "from <module> import *; print(<call>)"` and
// returns the decoded stdout as the tool result.
func (e *Executor) Invoke(ctx context.Context, call ToolCall) (string, error) {
	expr, err := renderCallExpr(call)
	if err != nil {
		return "", fmt.Errorf("render tool call: %w", err)
	}

	code := fmt.Sprintf("from %s import *; print(%s)", e.ModulePath, expr)
	cmd := exec.CommandContext(ctx, "python", "-c", code)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tool %q failed: %w: %s", call.Name, err, stderr.String())
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// renderCallExpr turns a ToolCall back into a Python call expression with
// JSON-literal argument values, e.g. add(a=2, b=3).
func renderCallExpr(call ToolCall) (string, error) {
	var b strings.Builder
	b.WriteString(call.Name)
	b.WriteByte('(')
	first := true
	for k, v := range call.Args {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		enc, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		b.Write(enc)
	}
	b.WriteByte(')')
	return b.String(), nil
}
