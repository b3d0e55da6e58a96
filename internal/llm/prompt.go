package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ariavoice/aria/internal/state"
	"github.com/ariavoice/aria/internal/toolcatalog"
)

// toolSignalTokens are the substrings whose presence in a chat template's
// source marks it as tool-call aware. A token end that is a word character
// is matched at a word boundary rather than as a raw substring, so
// "function" inside a longer word such as "functional" does not count; a
// standalone "function", in prose or not, still does.
var toolSignalTokens = []string{
	`tool_calls`,
	`tools is not`,
	`tool is not`,
	`function`,
	`<tool_call>`,
}

var supportsToolsPattern = regexp.MustCompile(
	strings.Join(boundAll(toolSignalTokens), "|"),
)

// boundAll quotes each token and adds \b only at ends that are word
// characters; a \b beside a symbol such as '<' would require an adjacent
// letter and make <tool_call> miss.
func boundAll(tokens []string) []string {
	isWord := func(c byte) bool {
		return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		q := regexp.QuoteMeta(t)
		if isWord(t[0]) {
			q = `\b` + q
		}
		if isWord(t[len(t)-1]) {
			q += `\b`
		}
		out[i] = q
	}
	return out
}

// SupportsTools reports whether templateSource (the model's chat-template
// body, as returned by the backend's Show endpoint) looks tool-call aware.
func SupportsTools(templateSource string) bool {
	return supportsToolsPattern.MatchString(templateSource)
}

// BuildSystemPrompt appends a tool catalog's JSON schema to basePrompt when
// tools is non-empty, in the plain "here are your available tools" style
// most chat templates expect embedded in the system role.
func BuildSystemPrompt(basePrompt string, tools []toolcatalog.Tool) string {
	if len(tools) == 0 {
		return basePrompt
	}
	schema, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return basePrompt
	}
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nYou have access to the following tools:\n")
	b.Write(schema)
	return b.String()
}

// RenderChatML lays out a system prompt and a message list in a plain
// ChatML-style raw prompt (<|role|>content<|end|> turns), used as the text
// fed through api.GenerateRequest.Prompt with Raw: true. Ollama normally
// applies a model's own chat template server-side via /api/chat, but the
// driver needs the literal prompt text it sent to reason about checkpoints
// against Context tokens, so templating happens here instead.
func RenderChatML(system string, messages []state.Message) string {
	var b strings.Builder
	if system != "" {
		fmt.Fprintf(&b, "<|system|>\n%s<|end|>\n", system)
	}
	for _, m := range messages {
		fmt.Fprintf(&b, "<|%s|>\n%s<|end|>\n", m.Role, m.Content)
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}
