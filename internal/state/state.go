// Package state implements the single shared coordination object described
// in the system design: every worker reads a consistent snapshot of it and
// mutates it only through Store.Update, which serializes writers and fans a
// change notification out to every subscriber.
package state

import "time"

// LifeCycle is the global phase of the assistant.
type LifeCycle int

const (
	Initializing LifeCycle = iota
	Running
	ShuttingDown
)

func (l LifeCycle) String() string {
	switch l {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// LlmState is the LLM worker's FSM label.
type LlmState int

const (
	AwaitingInput LlmState = iota
	RunningInference
	RunningTts
)

func (s LlmState) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting_input"
	case RunningInference:
		return "running_inference"
	case RunningTts:
		return "running_tts"
	default:
		return "unknown"
	}
}

// ShutdownPhase tracks progress of the goodbye protocol so the status bar
// can tell the user what the assistant is still busy with.
type ShutdownPhase int

const (
	ShutdownNone ShutdownPhase = iota
	ShutdownSummarizing
	ShutdownPruning
	ShutdownDone
)

// CommandKind tags the variant carried by an LlmCommand.
type CommandKind int

const (
	ContinueConversation CommandKind = iota
	EditLastMessage
	CancelInference
	DestroyContextAndRunFromNothing
)

// Message is a chat-template role/content pair, used only by
// DestroyContextAndRunFromNothing to seed a brand new context.
type Message struct {
	Role    string
	Content string
}

// LlmCommand is the one-shot request field the input/VAD/shutdown producers
// set and the LLM worker consumes exactly once.
type LlmCommand struct {
	Kind     CommandKind
	Text     string    // ContinueConversation, EditLastMessage
	Messages []Message // DestroyContextAndRunFromNothing
}

// Exchange is one user turn plus the assistant's reply. A non-empty
// AssistantText means the exchange is complete; an empty one on the last
// element means inference for it is still in progress.
type Exchange struct {
	UserText      string
	AssistantText string
}

// TextInput is the active text-entry widget, present only while the user is
// typing or editing a previous turn. Cursor is a rune offset into Buffer,
// not a byte offset.
type TextInput struct {
	Buffer string
	Cursor int
}

// State is the single mutable object shared by every worker. It is never
// read directly outside Store; callers only ever see a cloned Snapshot.
type State struct {
	LifeCycle    LifeCycle
	LlmState     LlmState
	LlmCommand   *LlmCommand
	Conversation []Exchange
	TtsQueue     []string
	TextInput    *TextInput
	IsEditing    bool

	SystemMute bool
	UserMute   bool

	IsOnlyRespondingAfterName bool
	TimeSinceNameWasSaid      *time.Time

	IsHidingThinkTags bool

	ShutdownPhase ShutdownPhase
}

// New returns the initial state: Initializing, AwaitingInput, nothing queued.
func New() *State {
	return &State{
		LifeCycle:    Initializing,
		LlmState:     AwaitingInput,
		Conversation: nil,
		TtsQueue:     nil,
	}
}

// Snapshot is a deep copy of State, safe to read without holding any lock.
type Snapshot struct {
	State
}

// clone deep-copies s into a fresh Snapshot. Slices and pointer fields are
// copied so that mutating the live State afterwards can never be observed
// through an already-taken Snapshot.
func clone(s *State) Snapshot {
	out := Snapshot{State: *s}

	if s.Conversation != nil {
		out.Conversation = make([]Exchange, len(s.Conversation))
		copy(out.Conversation, s.Conversation)
	}
	if s.TtsQueue != nil {
		out.TtsQueue = make([]string, len(s.TtsQueue))
		copy(out.TtsQueue, s.TtsQueue)
	}
	if s.LlmCommand != nil {
		cmd := *s.LlmCommand
		if s.LlmCommand.Messages != nil {
			cmd.Messages = make([]Message, len(s.LlmCommand.Messages))
			copy(cmd.Messages, s.LlmCommand.Messages)
		}
		out.LlmCommand = &cmd
	}
	if s.TextInput != nil {
		ti := *s.TextInput
		out.TextInput = &ti
	}
	if s.TimeSinceNameWasSaid != nil {
		t := *s.TimeSinceNameWasSaid
		out.TimeSinceNameWasSaid = &t
	}
	return out
}

// LastExchange returns a pointer to the last conversation pair, or nil if
// the conversation is empty. Only valid for use inside a mutator passed to
// Store.Update.
func (s *State) LastExchange() *Exchange {
	if len(s.Conversation) == 0 {
		return nil
	}
	return &s.Conversation[len(s.Conversation)-1]
}

// InferenceInFlight reports whether a generation is currently filling in the
// last conversation pair's assistant text.
func (s *Snapshot) InferenceInFlight() bool {
	return s.LlmState == RunningInference
}
