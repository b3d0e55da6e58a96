package llm

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
	"github.com/ariavoice/aria/internal/toolcatalog"
)

// sentenceTerminators marks where a streaming reply may be cut and queued
// for TTS ahead of the rest of the generation.
const sentenceTerminators = ".?;:"

// Backend is the generation primitive the driver needs; *Client implements
// it against a live Ollama server, and tests supply a fake.
type Backend interface {
	Generate(ctx context.Context, system, prompt string, ctxIn []int, onChunk func(Chunk) error) ([]int, error)
}

// DriverConfig configures a Driver's fixed, session-long parameters.
type DriverConfig struct {
	AssistantName  string
	SystemPrompt   string
	WordByWord     bool
	TemplateSource string // chat template body, used only to decide SupportsTools
	Tools          []toolcatalog.Tool
	Executor       ToolExecutor // nil disables tool-call execution entirely
}

// Driver runs the LLM worker's main loop: one goroutine, owning the model
// session (here, the Ollama backend handle) and the checkpoint stack
// exclusively — no other goroutine touches either.
type Driver struct {
	store   *state.Store
	backend Backend
	log     *logx.Logger
	cfg     DriverConfig

	systemPrompt string
	supportsTools bool

	// checkpoints holds, for every still-open exchange, the Context value
	// recorded immediately before that exchange's generation began.
	// currentContext is the head: the Context to resume from next.
	checkpoints    [][]int
	currentContext []int
}

// NewDriver builds a Driver. It does not start the main loop.
func NewDriver(store *state.Store, backend Backend, log *logx.Logger, cfg DriverConfig) *Driver {
	supports := SupportsTools(cfg.TemplateSource)
	var tools []toolcatalog.Tool
	if supports {
		tools = cfg.Tools
	}
	return &Driver{
		store:         store,
		backend:       backend,
		log:           log,
		cfg:           cfg,
		systemPrompt:  BuildSystemPrompt(cfg.SystemPrompt, tools),
		supportsTools: supports,
	}
}

// Run executes the initialization step and then blocks in the main loop
// until ctx is cancelled. It is meant to run on its own goroutine.
func (d *Driver) Run(ctx context.Context) {
	d.log.Info("🤖 %s's LLM driver starting (tools=%v)", d.cfg.AssistantName, d.supportsTools)

	// Subscribing before the first mutation guarantees the ready transition
	// below wakes this loop, so a command set before startup is seen.
	recv := d.store.Subscribe()
	defer recv.Close()

	d.store.Update(func(s *state.State) {
		s.LlmState = state.AwaitingInput
		s.SystemMute = false
		if s.LifeCycle == state.Initializing {
			s.LifeCycle = state.Running
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-recv.C():
		}

		snap := d.store.Read()
		if snap.LlmCommand == nil {
			continue
		}
		d.handleCommand(ctx, *snap.LlmCommand)
	}
}

func (d *Driver) handleCommand(ctx context.Context, cmd state.LlmCommand) {
	switch cmd.Kind {
	case state.CancelInference:
		d.store.Update(func(s *state.State) { s.LlmCommand = nil })
		return
	case state.EditLastMessage:
		if len(d.checkpoints) == 0 {
			d.log.Warn("⚠️  EditLastMessage with no checkpoint to roll back to")
			d.store.Update(func(s *state.State) { s.LlmCommand = nil })
			return
		}
		c := d.checkpoints[len(d.checkpoints)-1]
		d.checkpoints = d.checkpoints[:len(d.checkpoints)-1]
		d.currentContext = c
		d.store.Update(func(s *state.State) {
			if last := s.LastExchange(); last != nil {
				last.UserText = cmd.Text
				last.AssistantText = ""
			}
		})
	case state.DestroyContextAndRunFromNothing:
		d.checkpoints = nil
		d.currentContext = nil
		d.store.Update(func(s *state.State) {
			userText := ""
			for i := len(cmd.Messages) - 1; i >= 0; i-- {
				if cmd.Messages[i].Role == "user" {
					userText = cmd.Messages[i].Content
					break
				}
			}
			s.Conversation = []state.Exchange{{UserText: userText}}
		})
	}

	d.checkpoints = append(d.checkpoints, cloneContext(d.currentContext))

	d.store.Update(func(s *state.State) {
		s.LlmCommand = nil
		s.LlmState = state.RunningInference
		s.SystemMute = true
	})

	d.runGeneration(ctx, cmd)
}

func (d *Driver) runGeneration(ctx context.Context, cmd state.LlmCommand) {
	messages := cmd.Messages
	if cmd.Kind == state.ContinueConversation || cmd.Kind == state.EditLastMessage {
		messages = []state.Message{{Role: "user", Content: cmd.Text}}
	}
	prompt := RenderChatML(d.systemPrompt, messages)

	var reply strings.Builder
	ttsStart := 0
	var decodeBuf []byte

	finalCtx, err := d.backend.Generate(ctx, d.systemPrompt, prompt, d.currentContext, func(chunk Chunk) error {
		snap := d.store.Read()
		if snap.LlmCommand != nil && snap.LlmCommand.Kind == state.CancelInference {
			return errCancelled
		}

		decodeBuf = append(decodeBuf, chunk.Text...)
		piece, rest := decodeCompleteRunes(decodeBuf)
		decodeBuf = rest
		if piece == "" {
			return nil
		}
		reply.WriteString(piece)

		d.store.Update(func(s *state.State) {
			if last := s.LastExchange(); last != nil {
				last.AssistantText += piece
			}
		})

		if d.cfg.WordByWord {
			d.enqueueCompleteSentences(&reply, &ttsStart)
		}
		return nil
	})

	if err != nil {
		if err == ErrCancelled {
			d.onInterrupted(cmd)
			return
		}
		d.log.Error("❌ generation failed: %v", err)
		d.onInterrupted(cmd)
		return
	}

	d.onNormalCompletion(ctx, finalCtx, reply.String())
}

// enqueueCompleteSentences scans reply for sentence terminators after
// ttsStart and pushes each newly completed sentence onto tts_queue,
// advancing ttsStart past it.
func (d *Driver) enqueueCompleteSentences(reply *strings.Builder, ttsStart *int) {
	text := reply.String()
	for {
		idx := strings.IndexAny(text[*ttsStart:], sentenceTerminators)
		if idx < 0 {
			return
		}
		end := *ttsStart + idx + 1
		sentence := strings.TrimSpace(text[*ttsStart:end])
		*ttsStart = end
		if sentence == "" {
			continue
		}
		d.store.Update(func(s *state.State) {
			// The summarization turns at shutdown are silent; only the
			// goodbye utterance is spoken.
			if s.LifeCycle == state.ShuttingDown {
				return
			}
			s.TtsQueue = append(s.TtsQueue, sentence)
		})
	}
}

func (d *Driver) onInterrupted(cmd state.LlmCommand) {
	if len(d.checkpoints) > 0 {
		d.currentContext = d.checkpoints[len(d.checkpoints)-1]
		d.checkpoints = d.checkpoints[:len(d.checkpoints)-1]
	}

	d.store.Update(func(s *state.State) {
		if len(s.Conversation) > 0 {
			s.Conversation = s.Conversation[:len(s.Conversation)-1]
		}
		if s.IsOnlyRespondingAfterName {
			now := time.Now()
			s.TimeSinceNameWasSaid = &now
		}
		s.LlmState = state.AwaitingInput
		s.SystemMute = false
		s.LlmCommand = nil
	})
}

func (d *Driver) onNormalCompletion(ctx context.Context, finalCtx []int, reply string) {
	d.currentContext = finalCtx

	finalReply := reply
	if d.cfg.Executor != nil {
		if call, ok := DetectToolCall(reply); ok {
			finalReply = d.runToolRound(ctx, reply, call)
		}
	}

	d.store.Update(func(s *state.State) {
		if last := s.LastExchange(); last != nil {
			last.AssistantText = finalReply
		}
		if !d.cfg.WordByWord && s.LifeCycle != state.ShuttingDown {
			s.TtsQueue = append(s.TtsQueue, finalReply)
		}
		if s.IsOnlyRespondingAfterName {
			now := time.Now()
			s.TimeSinceNameWasSaid = &now
		}
		if s.LifeCycle == state.ShuttingDown {
			s.LlmState = state.AwaitingInput
		} else {
			s.LlmState = state.RunningTts
		}
	})
}

// runToolRound executes the single permitted tool-call round: it dispatches
// call to the external executor, appends the original reply and the tool's
// stdout as assistant/tool messages, runs a second generation on top of the
// same context, and returns the follow-up text as the new visible reply.
// Any failure here logs, and the original reply stands as the final answer.
func (d *Driver) runToolRound(ctx context.Context, originalReply string, call ToolCall) string {
	result, err := d.cfg.Executor.Invoke(ctx, call)
	if err != nil {
		d.log.Error("❌ tool call %q failed: %v", call.Name, err)
		return originalReply
	}

	followUp := []state.Message{
		{Role: "assistant", Content: originalReply},
		{Role: "tool", Content: result},
	}
	prompt := RenderChatML(d.systemPrompt, followUp)

	var second strings.Builder
	var decodeBuf []byte
	finalCtx, genErr := d.backend.Generate(ctx, d.systemPrompt, prompt, d.currentContext, func(chunk Chunk) error {
		decodeBuf = append(decodeBuf, chunk.Text...)
		piece, rest := decodeCompleteRunes(decodeBuf)
		decodeBuf = rest
		second.WriteString(piece)
		return nil
	})
	if genErr != nil {
		d.log.Error("❌ tool follow-up generation failed: %v", genErr)
		return originalReply
	}

	d.currentContext = finalCtx
	return second.String()
}

// decodeCompleteRunes splits buf into the longest valid UTF-8 prefix and a
// remainder of trailing bytes that are the start of a still-incomplete code
// point, carried forward to the next streamed chunk.
func decodeCompleteRunes(buf []byte) (complete string, remainder []byte) {
	if len(buf) == 0 {
		return "", nil
	}
	for i := 1; i <= 4 && i <= len(buf); i++ {
		b := buf[len(buf)-i]
		if utf8.RuneStart(b) {
			if !utf8.FullRune(buf[len(buf)-i:]) {
				cut := len(buf) - i
				return string(buf[:cut]), append([]byte(nil), buf[cut:]...)
			}
			break
		}
	}
	return string(buf), nil
}

func cloneContext(ctx []int) []int {
	if ctx == nil {
		return nil
	}
	out := make([]int, len(ctx))
	copy(out, ctx)
	return out
}
