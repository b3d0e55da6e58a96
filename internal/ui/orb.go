package ui

import (
	"bufio"
	"context"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ariavoice/aria/internal/state"
)

// orbFrameInterval paces the polling redraw loop; the rotation advances one
// tick per frame.
const orbFrameInterval = 80 * time.Millisecond

// RunOrb drives the orb as a polling renderer: it redraws on a fixed tick
// rather than on notifications, since the cloud rotates even while the state
// is idle. Exits when ctx is cancelled or the shutdown protocol finishes.
func RunOrb(ctx context.Context, store *state.Store, out io.Writer, name string) {
	w := bufio.NewWriter(out)
	ticker := time.NewTicker(orbFrameInterval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := store.Read()
		if snap.LifeCycle == state.Initializing {
			continue
		}

		w.WriteString("\x1b[2J\x1b[H\x1b[?25l")
		w.WriteString(RenderOrb(&snap, tick))
		w.WriteString("\n" + statusLine(&snap, name))
		w.Flush()

		if snap.ShutdownPhase == state.ShutdownDone {
			return
		}
	}
}

// orbRadius and orbPoints describe the particle cloud's shape; small enough
// to redraw on every frame tick without flicker.
const (
	orbRadius = 8
	orbPoints = 48
)

var (
	orbIdleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))
	orbThinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fde68a"))
	orbSpeakingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#bae6fd"))
)

// RenderOrb renders the alternate "3-D particle cloud" view as one frame of
// text, as a pure function of snap and a monotonic tick counter driving
// rotation. It never consumes a delta; every frame is reconstructed from
// state alone.
func RenderOrb(snap *state.Snapshot, tick int) string {
	style := orbStyleFor(snap)
	angle := float64(tick) * 0.15

	const width, height = 2*orbRadius + 1, orbRadius + 1
	grid := make([][]byte, height)
	for i := range grid {
		grid[i] = bytes(width, ' ')
	}

	for i := 0; i < orbPoints; i++ {
		theta := angle + float64(i)*(2*math.Pi/orbPoints)
		x := int(math.Round(float64(orbRadius) + float64(orbRadius)*math.Cos(theta)))
		y := int(math.Round(float64(orbRadius/2) + float64(orbRadius/2)*math.Sin(theta*2)))
		if y < 0 || y >= height || x < 0 || x >= width {
			continue
		}
		grid[y][x] = glyphFor(snap)
	}

	var b strings.Builder
	for _, row := range grid {
		b.WriteString(style.Render(string(row)))
		b.WriteByte('\n')
	}
	return b.String()
}

func bytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func orbStyleFor(snap *state.Snapshot) lipgloss.Style {
	switch snap.LlmState {
	case state.RunningInference:
		return orbThinkingStyle
	case state.RunningTts:
		return orbSpeakingStyle
	default:
		return orbIdleStyle
	}
}

func glyphFor(snap *state.Snapshot) byte {
	if snap.LlmState == state.RunningTts {
		return '*'
	}
	if snap.LlmState == state.RunningInference {
		return '+'
	}
	return '.'
}
