package input

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

func newTestReader(store *state.Store) *Reader {
	return NewReader(store, logx.New(logx.LevelNormal, io.Discard), strings.NewReader(""), 0)
}

func TestUpArrowOpensEditOfLastTurnAndForcesMute(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "hello", AssistantText: "hi"}}
	})

	r := newTestReader(store)
	r.handle(event{kind: keyUp})

	snap := store.Read()
	if snap.TextInput == nil || snap.TextInput.Buffer != "hello" {
		t.Fatalf("expected text input seeded with last turn, got %+v", snap.TextInput)
	}
	if !snap.IsEditing || !snap.UserMute {
		t.Fatalf("expected IsEditing and UserMute forced true")
	}
}

func TestEscInIdleCancelsRunningInference(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) { s.LlmState = state.RunningInference })

	r := newTestReader(store)
	r.handle(event{kind: keyEsc})

	snap := store.Read()
	if snap.LlmCommand == nil || snap.LlmCommand.Kind != state.CancelInference {
		t.Fatalf("expected a CancelInference command, got %+v", snap.LlmCommand)
	}
}

func TestMToggleTogglesUserMute(t *testing.T) {
	store := state.NewStore(state.New())
	r := newTestReader(store)

	r.handle(event{kind: keyRune, r: 'm'})
	if !store.Read().UserMute {
		t.Fatal("expected UserMute true after first toggle")
	}
	r.handle(event{kind: keyRune, r: 'm'})
	if store.Read().UserMute {
		t.Fatal("expected UserMute false after second toggle")
	}
}

func TestTOpensEmptyTextInput(t *testing.T) {
	store := state.NewStore(state.New())
	r := newTestReader(store)

	r.handle(event{kind: keyRune, r: 't'})

	snap := store.Read()
	if snap.TextInput == nil || snap.TextInput.Buffer != "" {
		t.Fatalf("expected an empty text input, got %+v", snap.TextInput)
	}
}

func TestTypingInsertsAtCursorAndMovesRight(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) { s.TextInput = &state.TextInput{} })
	r := newTestReader(store)

	for _, c := range "hi" {
		r.handle(event{kind: keyRune, r: c})
	}

	snap := store.Read()
	if snap.TextInput.Buffer != "hi" || snap.TextInput.Cursor != 2 {
		t.Fatalf("expected buffer %q cursor 2, got %q cursor %d", "hi", snap.TextInput.Buffer, snap.TextInput.Cursor)
	}
}

func TestBackspaceAtCursorZeroIsNoOp(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) { s.TextInput = &state.TextInput{Buffer: "abc", Cursor: 0} })
	r := newTestReader(store)

	r.handle(event{kind: keyBackspace})

	snap := store.Read()
	if snap.TextInput.Buffer != "abc" || snap.TextInput.Cursor != 0 {
		t.Fatalf("expected no change, got %q cursor %d", snap.TextInput.Buffer, snap.TextInput.Cursor)
	}
}

func TestRightArrowAtEndIsNoOp(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) { s.TextInput = &state.TextInput{Buffer: "abc", Cursor: 3} })
	r := newTestReader(store)

	r.handle(event{kind: keyRight})

	if store.Read().TextInput.Cursor != 3 {
		t.Fatal("expected cursor to stay at end")
	}
}

func TestEnterWhileEditingEmitsEditLastMessageAndSetsSystemMute(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "old", AssistantText: "reply"}}
		s.TextInput = &state.TextInput{Buffer: "new text", Cursor: 8}
		s.IsEditing = true
		s.UserMute = true
	})
	r := newTestReader(store)

	r.handle(event{kind: keyEnter})

	snap := store.Read()
	if snap.TextInput != nil {
		t.Fatal("expected text input cleared after submit")
	}
	if snap.LlmCommand == nil || snap.LlmCommand.Kind != state.EditLastMessage || snap.LlmCommand.Text != "new text" {
		t.Fatalf("expected EditLastMessage(%q), got %+v", "new text", snap.LlmCommand)
	}
	if snap.Conversation[0].UserText != "new text" {
		t.Fatalf("expected last turn's user text replaced, got %q", snap.Conversation[0].UserText)
	}
	if !snap.SystemMute {
		t.Fatal("expected SystemMute set true on submit")
	}
}

func TestEnterWhileNotEditingAppendsNewTurn(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.TextInput = &state.TextInput{Buffer: "hi there", Cursor: 8}
	})
	r := newTestReader(store)

	r.handle(event{kind: keyEnter})

	snap := store.Read()
	if len(snap.Conversation) != 1 || snap.Conversation[0].UserText != "hi there" {
		t.Fatalf("expected a new turn appended, got %+v", snap.Conversation)
	}
	if snap.LlmCommand == nil || snap.LlmCommand.Kind != state.ContinueConversation {
		t.Fatalf("expected ContinueConversation, got %+v", snap.LlmCommand)
	}
}

func TestDownDiscardsEditAndRestoresPreEditMute(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "old", AssistantText: "reply"}}
	})
	r := newTestReader(store)

	r.handle(event{kind: keyUp}) // opens edit, forces UserMute true, remembers prior false
	r.handle(event{kind: keyDown})

	snap := store.Read()
	if snap.TextInput != nil || snap.IsEditing {
		t.Fatal("expected edit discarded")
	}
	if snap.UserMute {
		t.Fatal("expected UserMute restored to pre-edit value (false)")
	}
}

func TestPrintableKeysIgnoredDuringInferenceExceptNavigationAndCancel(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.TextInput = &state.TextInput{Buffer: "ab", Cursor: 2}
		s.LlmState = state.RunningInference
	})
	r := newTestReader(store)

	r.handle(event{kind: keyRune, r: 'x'})
	if store.Read().TextInput.Buffer != "ab" {
		t.Fatal("expected printable key ignored during inference")
	}

	r.handle(event{kind: keyLeft})
	if store.Read().TextInput.Cursor != 1 {
		t.Fatal("expected cursor navigation to still work during inference")
	}
}

func TestReadEventDecodesArrowKeys(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\x1b[A\x1b[B\x1b[C\x1b[D"))
	want := []key{keyUp, keyDown, keyRight, keyLeft}
	for _, w := range want {
		ev, err := readEvent(r)
		if err != nil {
			t.Fatalf("readEvent: %v", err)
		}
		if ev.kind != w {
			t.Fatalf("expected %v, got %v", w, ev.kind)
		}
	}
}

func TestReadEventDecodesCtrlCAndEnterAndBackspace(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\x03\r\x7f"))
	for _, w := range []key{keyCtrlC, keyEnter, keyBackspace} {
		ev, err := readEvent(r)
		if err != nil {
			t.Fatalf("readEvent: %v", err)
		}
		if ev.kind != w {
			t.Fatalf("expected %v, got %v", w, ev.kind)
		}
	}
}

func TestEditingMultiByteRunesKeepsCursorOnRuneBoundaries(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) { s.TextInput = &state.TextInput{} })
	r := newTestReader(store)

	for _, c := range "héllo" {
		r.handle(event{kind: keyRune, r: c})
	}
	snap := store.Read()
	if snap.TextInput.Buffer != "héllo" || snap.TextInput.Cursor != 5 {
		t.Fatalf("expected %q cursor 5, got %q cursor %d", "héllo", snap.TextInput.Buffer, snap.TextInput.Cursor)
	}

	// Step back over "llo" and delete the accented rune in one piece.
	for i := 0; i < 3; i++ {
		r.handle(event{kind: keyLeft})
	}
	r.handle(event{kind: keyBackspace})

	snap = store.Read()
	if snap.TextInput.Buffer != "hllo" || snap.TextInput.Cursor != 1 {
		t.Fatalf("expected %q cursor 1, got %q cursor %d", "hllo", snap.TextInput.Buffer, snap.TextInput.Cursor)
	}
}

func TestReadEventDecodesMultiByteRune(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("é"))
	ev, err := readEvent(r)
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if ev.kind != keyRune || ev.r != 'é' {
		t.Fatalf("expected rune 'é', got %v %q", ev.kind, ev.r)
	}
}
