// Package input reads raw key events from the terminal and runs the
// text-editor state machine that turns them into state mutations and
// LlmCommands.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/x/term"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

// key is a single decoded input event.
type key int

const (
	keyRune key = iota
	keyUp
	keyDown
	keyLeft
	keyRight
	keyEnter
	keyEsc
	keyBackspace
	keyCtrlC
)

// event pairs a decoded key with the rune carried by keyRune events.
type event struct {
	kind key
	r    rune
}

// Reader owns terminal raw mode and drives the input worker's loop. It polls
// the shared state rather than subscribing to notifications, since every
// decision it makes depends only on the key just read and the state at that
// instant.
type Reader struct {
	store *state.Store
	log   *logx.Logger
	in    io.Reader
	fd    int
	raw   bool

	// preEditMute is the value user_mute had before the last edit (opened
	// via ↑) started, restored if the edit is discarded.
	preEditMute bool
}

// NewReader builds a Reader over fd (normally os.Stdin's file descriptor).
func NewReader(store *state.Store, log *logx.Logger, in io.Reader, fd int) *Reader {
	return &Reader{store: store, log: log, in: in, fd: fd}
}

// Run puts the terminal into raw mode, restores it on return, and blocks
// reading and dispatching key events until ctx is cancelled or Ctrl-C is
// seen. It is meant to run on its own goroutine.
func (r *Reader) Run(ctx context.Context) {
	oldState, err := term.MakeRaw(uintptr(r.fd))
	if err != nil {
		r.log.Warn("⚠️  could not enable raw terminal mode: %v", err)
	} else {
		r.raw = true
		defer term.Restore(uintptr(r.fd), oldState)
	}

	reader := bufio.NewReader(r.in)
	events := make(chan event, 8)
	errs := make(chan error, 1)

	go func() {
		for {
			ev, err := readEvent(reader)
			if err != nil {
				errs <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if !errors.Is(err, io.EOF) {
				r.log.Error("❌ input read failed: %v", err)
			}
			return
		case ev := <-events:
			r.handle(ev)
			if ev.kind == keyCtrlC {
				return
			}
		}
	}
}

func (r *Reader) handle(ev event) {
	snap := r.store.Read()

	if snap.TextInput == nil {
		r.handleIdle(ev, &snap)
		return
	}
	r.handleEditing(ev, &snap)
}

// handleIdle implements the no-active-editor key bindings. Printable keys
// (m, t) and ↑ are ignored while inference is running; only Esc (cancel)
// and Ctrl-C still apply.
func (r *Reader) handleIdle(ev event, snap *state.Snapshot) {
	if snap.InferenceInFlight() {
		switch ev.kind {
		case keyEsc, keyCtrlC:
		default:
			return
		}
	}

	switch ev.kind {
	case keyCtrlC:
		r.store.Update(func(s *state.State) {
			s.LifeCycle = state.ShuttingDown
		})
	case keyUp:
		last := snap.LastExchange()
		if last == nil {
			return
		}
		text := last.UserText
		r.preEditMute = snap.UserMute
		r.store.Update(func(s *state.State) {
			s.TextInput = &state.TextInput{Buffer: text, Cursor: len([]rune(text))}
			s.IsEditing = true
			s.UserMute = true
		})
	case keyEsc:
		if snap.LlmState == state.RunningInference {
			r.store.Update(func(s *state.State) {
				s.LlmCommand = &state.LlmCommand{Kind: state.CancelInference}
			})
		}
	case keyRune:
		switch ev.r {
		case 'm':
			r.store.Update(func(s *state.State) {
				s.UserMute = !s.UserMute
			})
		case 't':
			r.store.Update(func(s *state.State) {
				s.TextInput = &state.TextInput{}
			})
		}
	}
}

// handleEditing implements the active-editor key bindings.
func (r *Reader) handleEditing(ev event, snap *state.Snapshot) {
	if snap.InferenceInFlight() {
		switch ev.kind {
		case keyLeft, keyRight, keyEsc, keyDown:
		default:
			return
		}
	}

	switch ev.kind {
	case keyLeft:
		r.store.Update(func(s *state.State) {
			if s.TextInput != nil && s.TextInput.Cursor > 0 {
				s.TextInput.Cursor--
			}
		})
	case keyRight:
		r.store.Update(func(s *state.State) {
			if s.TextInput != nil && s.TextInput.Cursor < len([]rune(s.TextInput.Buffer)) {
				s.TextInput.Cursor++
			}
		})
	case keyBackspace:
		r.store.Update(func(s *state.State) {
			ti := s.TextInput
			if ti == nil || ti.Cursor == 0 {
				return
			}
			runes := []rune(ti.Buffer)
			ti.Buffer = string(runes[:ti.Cursor-1]) + string(runes[ti.Cursor:])
			ti.Cursor--
		})
	case keyDown, keyEsc:
		wasEditing := snap.IsEditing
		restoreMute := r.preEditMute
		r.store.Update(func(s *state.State) {
			s.TextInput = nil
			s.IsEditing = false
			if wasEditing {
				s.UserMute = restoreMute
			}
		})
	case keyEnter:
		r.submit(snap)
	case keyRune:
		r.store.Update(func(s *state.State) {
			ti := s.TextInput
			if ti == nil {
				return
			}
			runes := []rune(ti.Buffer)
			ti.Buffer = string(runes[:ti.Cursor]) + string(ev.r) + string(runes[ti.Cursor:])
			ti.Cursor++
		})
	}
}

func (r *Reader) submit(snap *state.Snapshot) {
	if snap.TextInput == nil {
		return
	}
	buffer := snap.TextInput.Buffer
	editing := snap.IsEditing

	r.store.Update(func(s *state.State) {
		if editing {
			if last := s.LastExchange(); last != nil {
				last.UserText = buffer
			}
			s.LlmCommand = &state.LlmCommand{Kind: state.EditLastMessage, Text: buffer}
		} else {
			s.Conversation = append(s.Conversation, state.Exchange{UserText: buffer})
			s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: buffer}
		}
		s.TextInput = nil
		s.SystemMute = true
		s.IsEditing = false
	})
}

// readEvent decodes one key press, resolving ANSI escape sequences for the
// arrow keys.
func readEvent(r *bufio.Reader) (event, error) {
	b, err := r.ReadByte()
	if err != nil {
		return event{}, err
	}

	switch b {
	case 0x03:
		return event{kind: keyCtrlC}, nil
	case 0x7f, 0x08:
		return event{kind: keyBackspace}, nil
	case '\r', '\n':
		return event{kind: keyEnter}, nil
	case 0x1b:
		return readEscape(r)
	}

	rn, _, err := decodeRune(r, b)
	if err != nil {
		return event{}, err
	}
	return event{kind: keyRune, r: rn}, nil
}

// readEscape decodes the CSI sequences for arrow keys; a bare ESC with
// nothing following it is reported as keyEsc.
func readEscape(r *bufio.Reader) (event, error) {
	if r.Buffered() == 0 {
		return event{kind: keyEsc}, nil
	}
	b1, err := r.ReadByte()
	if err != nil {
		return event{kind: keyEsc}, nil
	}
	if b1 != '[' {
		return event{kind: keyEsc}, nil
	}
	b2, err := r.ReadByte()
	if err != nil {
		return event{}, err
	}
	switch b2 {
	case 'A':
		return event{kind: keyUp}, nil
	case 'B':
		return event{kind: keyDown}, nil
	case 'C':
		return event{kind: keyRight}, nil
	case 'D':
		return event{kind: keyLeft}, nil
	}
	return event{kind: keyEsc}, nil
}

// decodeRune reassembles a UTF-8 rune starting with the already-read byte b.
func decodeRune(r *bufio.Reader, b byte) (rune, int, error) {
	if b < 0x80 {
		return rune(b), 1, nil
	}
	n := 1
	switch {
	case b&0xE0 == 0xC0:
		n = 2
	case b&0xF0 == 0xE0:
		n = 3
	case b&0xF8 == 0xF0:
		n = 4
	default:
		return rune(b), 1, nil
	}
	buf := make([]byte, n)
	buf[0] = b
	for i := 1; i < n; i++ {
		nb, err := r.ReadByte()
		if err != nil {
			return rune(b), 1, err
		}
		buf[i] = nb
	}
	rn := []rune(string(buf))
	if len(rn) == 0 {
		return rune(b), 1, nil
	}
	return rn[0], n, nil
}
