// Package ui renders the terminal view from a state.Snapshot. It owns
// stdout only, never stdin — the raw key reads in internal/input run on a
// disjoint surface, so the two never need a shared lock.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

// coalesceDelay is how long the renderer waits after a notification before
// drawing, so that a burst of rapid mutations (e.g. word-by-word streaming)
// collapses into one redraw.
const coalesceDelay = 8 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bae6fd")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a")).
			Italic(true)

	editorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a"))
)

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkTags removes <think>...</think> blocks from an assistant reply
// when the user has toggled hiding them.
func stripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(text, ""))
}

// Renderer is the default header/pairs/footer/editor-line view. It redraws
// via manual ANSI escapes rather than a full TUI framework, since stdin is
// owned by the input worker.
type Renderer struct {
	store *state.Store
	out   *bufio.Writer
	fd    int
	name  string
	log   *logx.Logger
}

// NewRenderer builds a Renderer writing to out (normally os.Stdout), sizing
// itself against the terminal at fd.
func NewRenderer(store *state.Store, out io.Writer, fd int, assistantName string, log *logx.Logger) *Renderer {
	return &Renderer{store: store, out: bufio.NewWriter(out), fd: fd, name: assistantName, log: log}
}

// Run blocks, redrawing on every coalesced state notification until ctx is
// cancelled. It renders nothing while life_cycle is Initializing, keeps
// drawing through the shutdown phases so the status bar can report them, and
// exits after the frame that shows the protocol finished.
func (r *Renderer) Run(ctx context.Context) {
	recv := r.store.Subscribe()
	defer recv.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recv.C():
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(coalesceDelay):
		}

		snap := r.store.Read()
		if snap.LifeCycle == state.Initializing {
			continue
		}
		r.draw(&snap)
		if snap.ShutdownPhase == state.ShutdownDone {
			return
		}
	}
}

func (r *Renderer) draw(snap *state.Snapshot) {
	width, _, err := term.GetSize(uintptr(r.fd))
	if err != nil || width <= 0 {
		width = 80
	}

	var b strings.Builder
	b.WriteString("\x1b[2J\x1b[H") // clear screen, home cursor

	b.WriteString(headerStyle.Render(fmt.Sprintf("%s — %s", r.name, snap.LifeCycle.String())))
	b.WriteString("\n\n")

	for _, ex := range snap.Conversation {
		b.WriteString(userStyle.Render("you: " + ex.UserText))
		b.WriteString("\n")
		assistantText := ex.AssistantText
		if snap.IsHidingThinkTags {
			assistantText = stripThinkTags(assistantText)
		}
		if assistantText != "" {
			b.WriteString(assistantStyle.Render(r.name + ": " + assistantText))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(statusStyle.Render(statusLine(snap, r.name)))
	b.WriteString("\n")

	cursorRow, cursorCol, endRow := -1, -1, 0
	if snap.TextInput != nil {
		line := "> " + snap.TextInput.Buffer
		b.WriteString(editorStyle.Render(line))
		cursorRow, cursorCol = editorCursorPosition(snap.TextInput.Cursor, width)
		// the terminal cursor is left on the row of the line's last character
		endRow, _ = editorCursorPosition(utf8.RuneCountInString(snap.TextInput.Buffer)-1, width)
	}

	r.out.WriteString(b.String())
	if cursorRow >= 0 {
		// position the cursor on the editor line; row 0 is the line itself,
		// further rows only occur if the buffer wrapped past width.
		if up := endRow - cursorRow; up > 0 {
			r.out.WriteString(fmt.Sprintf("\x1b[%dA", up))
		}
		r.out.WriteString(fmt.Sprintf("\x1b[%dG", cursorCol+1))
		r.out.WriteString("\x1b[?25h") // show cursor
	} else {
		r.out.WriteString("\x1b[?25l") // hide cursor
	}
	if err := r.out.Flush(); err != nil {
		r.log.Warn("⚠️  ui redraw failed: %v", err)
	}
}

// statusLine derives the footer text from llm_state, the mute flags, and the
// shutdown phase.
func statusLine(snap *state.Snapshot, name string) string {
	switch {
	case snap.ShutdownPhase == state.ShutdownSummarizing:
		return "Remembering conversation…"
	case snap.ShutdownPhase == state.ShutdownPruning:
		return "Pruning memories…"
	case snap.ShutdownPhase == state.ShutdownDone:
		return "See ya next time!"
	case snap.LlmState == state.RunningInference:
		return "Thinking…"
	case snap.IsOnlyRespondingAfterName && snap.TimeSinceNameWasSaid == nil:
		return fmt.Sprintf("Listening for %s…", name)
	case !snap.SystemMute && !snap.UserMute:
		return "Listening…"
	default:
		return ""
	}
}

// editorCursorPosition computes the 0-based (row, col) of the cursor within
// the rendered "> "-prefixed editor line, given the raw character offset and
// terminal width.
func editorCursorPosition(cursor, width int) (row, col int) {
	prefixLen := 2 // "> "
	pos := prefixLen + cursor
	if width <= 0 {
		return 0, pos
	}
	return pos / width, pos % width
}
