// Aria - an always-listening local voice assistant.
//
// Seven long-lived workers (audio capture, voice-activity segmentation,
// transcription, language-model driver, text-to-speech, terminal UI, and
// keyboard input) coordinate through one shared state object with change
// notifications. Speech goes mic -> segmenter -> Whisper -> Ollama ->
// Kokoro -> speaker; control flows through internal/state.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariavoice/aria/internal/audio"
	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/input"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/memory"
	"github.com/ariavoice/aria/internal/shutdown"
	"github.com/ariavoice/aria/internal/state"
	"github.com/ariavoice/aria/internal/stt"
	"github.com/ariavoice/aria/internal/toolcatalog"
	"github.com/ariavoice/aria/internal/tts"
	"github.com/ariavoice/aria/internal/ui"
	"github.com/ariavoice/aria/internal/vad"
)

// ttsDrainTimeout bounds how long the process lingers after shutdown for the
// goodbye utterance to finish playing.
const ttsDrainTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "aria.toml", "path to the TOML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	orb := flag.Bool("orb", false, "render the particle-cloud view instead of the conversation view")
	listVoices := flag.Bool("list-voices", false, "list the available TTS voices and exit")
	flag.Parse()

	if *listVoices {
		config.PrintVoices()
		return
	}

	// A .env next to the binary may carry the model-path variables the
	// config falls back to.
	_ = godotenv.Load()

	if err := run(*configPath, *verbose, *orb); err != nil {
		fmt.Fprintf(os.Stderr, "aria: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose, orb bool) error {
	fc, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	selected, err := config.SelectAssistant(fc, bufio.NewReader(os.Stdin))
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(&fc.Global, selected)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Verbose = true
	}

	level := logx.LevelNormal
	if cfg.Verbose {
		level = logx.LevelVerbose
	}
	log := logx.New(level, os.Stderr)

	log.Info("🎤 %s starting...", cfg.AssistantName)
	log.Info("⚡ STT acceleration: %s, TTS acceleration: %s", cfg.STTProvider, cfg.TTSProvider)

	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.IsOnlyRespondingAfterName = cfg.OnlyRespondAfterName
		s.IsHidingThinkTags = cfg.HideThinkTags
	})

	mem := memory.New(cfg.ConversationFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Language model backend.
	client, err := llm.NewClient(llm.Config{
		Host:        cfg.OllamaURL,
		Model:       cfg.OllamaModel,
		NumCtx:      int(cfg.LLMContextSize),
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return err
	}
	log.Info("🔗 Checking Ollama connection at %s...", cfg.OllamaURL)
	if err := client.HealthCheck(ctx); err != nil {
		return err
	}
	log.Info("✅ Ollama connected (model: %s)", cfg.OllamaModel)

	template, err := client.Template(ctx)
	if err != nil {
		log.Warn("⚠️  could not fetch chat template, tool calls disabled: %v", err)
		template = ""
	}

	var tools []toolcatalog.Tool
	var executor llm.ToolExecutor
	if cfg.ToolPath != "" {
		loaded, terr := toolcatalog.Load(cfg.ToolPath)
		if terr != nil {
			log.Warn("⚠️  tool discovery failed: %v", terr)
		} else {
			tools = loaded
			moduleName := strings.TrimSuffix(filepath.Base(cfg.ToolPath), ".py")
			executor = llm.NewExecutor(moduleName, filepath.Dir(cfg.ToolPath))
			log.Info("🛠️  %d tool(s) discovered in %s", len(tools), cfg.ToolPath)
		}
	}

	driver := llm.NewDriver(store, client, log, llm.DriverConfig{
		AssistantName:  cfg.AssistantName,
		SystemPrompt:   cfg.SystemPrompt,
		WordByWord:     cfg.EnableWordByWordResponse,
		TemplateSource: template,
		Tools:          tools,
		Executor:       executor,
	})

	// Speech engines.
	log.Info("🧠 Loading speech recognition models...")
	recognizer, err := stt.NewRecognizer(&stt.Config{
		WhisperEncoder: cfg.WhisperEncoder,
		WhisperDecoder: cfg.WhisperDecoder,
		WhisperTokens:  cfg.WhisperTokens,
		SampleRate:     vad.TargetSampleRate,
		Provider:       cfg.STTProvider,
		NumThreads:     cfg.STTThreads,
		WakeWord:       cfg.WakeWord,
		Verbose:        cfg.Verbose,
	})
	if err != nil {
		return err
	}
	defer recognizer.Close()

	log.Info("🔊 Loading text-to-speech models...")
	synthesizer, err := tts.NewSynthesizer(&tts.Config{
		Model:      cfg.TTSModel,
		Voices:     cfg.TTSVoices,
		Tokens:     cfg.TTSTokens,
		DataDir:    cfg.TTSData,
		Lexicon:    cfg.TTSLexicon,
		Language:   cfg.TTSLanguage,
		SpeakerID:  speakerID(cfg.TTSVoice),
		Speed:      1.0,
		Provider:   cfg.TTSProvider,
		Verbose:    cfg.Verbose,
		TTSThreads: cfg.TTSThreads,
	})
	if err != nil {
		return err
	}
	defer synthesizer.Close()

	var playbackInterrupt atomic.Bool
	player, err := audio.NewPlayer(synthesizer.SampleRate(), cfg.AudioBufferMs, &playbackInterrupt)
	if err != nil {
		return err
	}
	defer player.Close()

	// Microphone -> segmenter -> transcription -> wake-word gate.
	vadWorker := vad.NewWorker(store, vad.TargetSampleRate, nil, recognizer, cfg.AssistantName, log)
	capturer, err := audio.NewCapturer(vad.TargetSampleRate, vadWorker.Feed)
	if err != nil {
		return err
	}
	defer capturer.Close()

	ttsWorker := tts.NewWorker(store, synthesizer, player, log)
	reader := input.NewReader(store, log, os.Stdin, int(os.Stdin.Fd()))
	renderer := ui.NewRenderer(store, os.Stdout, int(os.Stdout.Fd()), cfg.AssistantName, log)

	var wg sync.WaitGroup
	start := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	start(driver.Run)
	start(ttsWorker.Run)
	start(reader.Run)
	if orb {
		start(func(ctx context.Context) { ui.RunOrb(ctx, store, os.Stdout, cfg.AssistantName) })
	} else {
		start(renderer.Run)
	}

	if err := capturer.Start(); err != nil {
		// The mic is what makes the assistant useful; without it, unwind.
		store.Update(func(s *state.State) { s.LifeCycle = state.ShuttingDown })
		cancel()
		wg.Wait()
		return err
	}

	if cfg.OnlyRespondAfterName {
		log.Info("🎙️ Listening for name: %q", cfg.AssistantName)
	} else {
		log.Info("🎙️ Listening... (speak to interact, Ctrl+C to quit)")
	}

	// SIGINT/SIGTERM act like Ctrl-C in the input worker: flip the life
	// cycle and let every worker unwind through its notification loop.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		store.Update(func(s *state.State) { s.LifeCycle = state.ShuttingDown })
	}()

	awaitShutdown(store)
	log.Info("🛑 Shutting down...")

	// Stop feeding the segmenter before the model starts summarizing.
	capturer.Stop()

	shutdown.Run(ctx, store, mem, cfg.AssistantName, log)

	awaitTtsDrain(store, ttsDrainTimeout)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("✅ Shutdown complete")
	case <-time.After(5 * time.Second):
		log.Warn("⚠️ Shutdown timeout, forcing exit")
	}
	return nil
}

// awaitShutdown blocks until some worker flips life_cycle to ShuttingDown.
func awaitShutdown(store *state.Store) {
	recv := store.Subscribe()
	defer recv.Close()
	for {
		if store.Read().LifeCycle == state.ShuttingDown {
			return
		}
		<-recv.C()
	}
}

// awaitTtsDrain waits for the goodbye utterance (and anything queued before
// it) to finish playing, bounded by timeout.
func awaitTtsDrain(store *state.Store, timeout time.Duration) {
	recv := store.Subscribe()
	defer recv.Close()
	deadline := time.After(timeout)
	for {
		snap := store.Read()
		if snap.ShutdownPhase == state.ShutdownDone && len(snap.TtsQueue) == 0 {
			return
		}
		select {
		case <-recv.C():
		case <-deadline:
			return
		case <-time.After(50 * time.Millisecond):
			// The final dequeue happens after playback; poll for it.
		}
	}
}

// speakerID resolves a Kokoro voice name to its speaker index, falling back
// to speaker 0 for unknown names.
func speakerID(voiceName string) int {
	if v := config.GetVoice(voiceName); v != nil {
		return v.SpeakerID
	}
	return 0
}
