// Package config loads the assistant's TOML configuration file, resolves
// environment-variable fallbacks, and selects which configured assistant to
// run.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ariavoice/aria/internal/sherpa"
)

// GlobalConfig is the `[global]` table: settings shared by every configured
// assistant.
type GlobalConfig struct {
	WhisperModelPath         string `toml:"whisper_model_path"`
	DefaultLLMModelPath      string `toml:"default_llm_model_path"`
	DefaultPiperModelPath    string `toml:"default_piper_model_path"`
	LLMThreads               int32  `toml:"llm_threads"`
	LLMContextSize           uint32 `toml:"llm_context_size"`
	DefaultAssistant         string `toml:"default_assistant"`
	EnableWordByWordResponse bool   `toml:"enable_word_by_word_response"`
	ToolPath                 string `toml:"tool_path"`
	OnlyRespondAfterName     bool   `toml:"only_respond_after_name"`
	HideThinkTags            bool   `toml:"hide_think_tags"`

	// The speech engines and the Ollama backend need somewhere to read
	// connection and hardware settings from; these live alongside the core
	// fields as [global] extensions.
	ModelDir      string  `toml:"model_dir"`
	OllamaURL     string  `toml:"ollama_url"`
	Temperature   float32 `toml:"temperature"`
	Provider      string  `toml:"provider"`
	STTProvider   string  `toml:"stt_provider"`
	TTSProvider   string  `toml:"tts_provider"`
	AudioBufferMs uint32  `toml:"audio_buffer_ms"`
	Verbose       bool    `toml:"verbose"`
}

// AssistantConfig is one `[[assistant]]` table entry.
type AssistantConfig struct {
	Name             string `toml:"name"`
	SystemPrompt     string `toml:"system_prompt"`
	LLMModelPath     string `toml:"llm_model_path"`
	PiperModelPath   string `toml:"piper_model_path"`
	ConversationFile string `toml:"conversation_file"`
	TTSVoice         string `toml:"tts_voice"`
	WakeWord         string `toml:"wake_word"`
}

// FileConfig is the document's top-level shape.
type FileConfig struct {
	Global     GlobalConfig      `toml:"global"`
	Assistants []AssistantConfig `toml:"assistant"`
}

// LoadFile parses the TOML document at path.
func LoadFile(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	applyEnvFallbacks(&fc.Global)
	return &fc, nil
}

// applyEnvFallbacks fills empty global fields from the environment,
// honouring a variable only where the TOML document left the field blank.
func applyEnvFallbacks(g *GlobalConfig) {
	if g.WhisperModelPath == "" {
		g.WhisperModelPath = os.Getenv("WHISPER_MODEL_PATH")
	}
	if g.DefaultLLMModelPath == "" {
		g.DefaultLLMModelPath = os.Getenv("LLM_MODEL_PATH")
	}
	if g.DefaultPiperModelPath == "" {
		g.DefaultPiperModelPath = os.Getenv("PIPER_MODEL_PATH")
	}
	if g.LLMThreads == 0 {
		if v, err := strconv.ParseInt(os.Getenv("LLM_THREADS"), 10, 32); err == nil {
			g.LLMThreads = int32(v)
		}
	}
	if g.LLMContextSize == 0 {
		if v, err := strconv.ParseUint(os.Getenv("LLM_CONTEXT_SIZE"), 10, 32); err == nil {
			g.LLMContextSize = uint32(v)
		}
	}
}

// SelectAssistant resolves which [[assistant]] table to run: a single entry
// auto-selects, otherwise the named default wins, otherwise the user is
// prompted interactively.
func SelectAssistant(fc *FileConfig, in *bufio.Reader) (*AssistantConfig, error) {
	switch len(fc.Assistants) {
	case 0:
		return nil, fmt.Errorf("config defines no [[assistant]] entries")
	case 1:
		return &fc.Assistants[0], nil
	}

	if fc.Global.DefaultAssistant != "" {
		for i := range fc.Assistants {
			if fc.Assistants[i].Name == fc.Global.DefaultAssistant {
				return &fc.Assistants[i], nil
			}
		}
	}

	fmt.Println("Multiple assistants configured:")
	for i, a := range fc.Assistants {
		fmt.Printf("  %d) %s\n", i+1, a.Name)
	}
	fmt.Print("Choose an assistant: ")

	line, err := in.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read assistant selection: %w", err)
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(fc.Assistants) {
		return nil, fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return &fc.Assistants[choice-1], nil
}

// Config is the fully resolved, runtime-ready configuration for one
// assistant run: global settings merged with the selected assistant's
// overrides and the derived model-file layout.
type Config struct {
	AssistantName    string
	SystemPrompt     string
	ConversationFile string
	WakeWord         string

	ModelDir string
	VADModel string

	WhisperEncoder string
	WhisperDecoder string
	WhisperTokens  string

	TTSModel    string
	TTSVoices   string
	TTSTokens   string
	TTSData     string
	TTSLexicon  string
	TTSLanguage string
	TTSVoice    string

	OllamaURL                string
	OllamaModel              string
	LLMThreads               int32
	LLMContextSize           uint32
	Temperature              float32
	EnableWordByWordResponse bool
	ToolPath                 string
	OnlyRespondAfterName     bool
	HideThinkTags            bool

	Provider    string
	STTProvider string
	TTSProvider string

	NumThreads int
	VADThreads int
	STTThreads int
	TTSThreads int

	AudioBufferMs uint32
	Verbose       bool
}

// Resolve merges the global table and the selected assistant into a runtime
// Config, filling unset paths from the standard model-directory layout and
// auto-detecting hardware acceleration and thread counts.
func Resolve(g *GlobalConfig, a *AssistantConfig) (*Config, error) {
	modelDir := g.ModelDir
	if modelDir == "" {
		homeDir, _ := os.UserHomeDir()
		modelDir = filepath.Join(homeDir, ".aria", "models")
	}

	ttsVoice := a.TTSVoice
	if ttsVoice == "" {
		ttsVoice = "af_bella"
	} else if !VoiceExists(ttsVoice) {
		return nil, fmt.Errorf("unknown tts_voice %q for assistant %q; run with -list-voices", ttsVoice, a.Name)
	}
	ttsDir := filepath.Join(modelDir, "tts", "kokoro-multi-lang-v1_0")

	conversationFile := a.ConversationFile
	if conversationFile == "" {
		conversationFile = defaultHistoryFileName(a.Name)
	}

	// whisper_model_path (or WHISPER_MODEL_PATH) overrides the derived
	// <model_dir>/whisper directory.
	whisperDir := g.WhisperModelPath
	if whisperDir == "" {
		whisperDir = filepath.Join(modelDir, "whisper")
	}

	llmModelPath := a.LLMModelPath
	if llmModelPath == "" {
		llmModelPath = g.DefaultLLMModelPath
	}

	cfg := &Config{
		AssistantName:    a.Name,
		SystemPrompt:     a.SystemPrompt,
		ConversationFile: conversationFile,
		WakeWord:         a.WakeWord,

		ModelDir: modelDir,
		VADModel: filepath.Join(modelDir, "silero_vad.onnx"),

		WhisperEncoder: filepath.Join(whisperDir, "whisper-small-encoder.int8.onnx"),
		WhisperDecoder: filepath.Join(whisperDir, "whisper-small-decoder.int8.onnx"),
		WhisperTokens:  filepath.Join(whisperDir, "whisper-small-tokens.txt"),

		TTSModel:  filepath.Join(ttsDir, "model.onnx"),
		TTSVoices: filepath.Join(ttsDir, "voices.bin"),
		TTSTokens: filepath.Join(ttsDir, "tokens.txt"),
		TTSData:   filepath.Join(ttsDir, "espeak-ng-data"),
		TTSVoice:  ttsVoice,

		OllamaURL:                g.OllamaURL,
		OllamaModel:              llmModelPath,
		LLMThreads:               g.LLMThreads,
		LLMContextSize:           g.LLMContextSize,
		Temperature:              g.Temperature,
		EnableWordByWordResponse: g.EnableWordByWordResponse,
		ToolPath:                 g.ToolPath,
		OnlyRespondAfterName:     g.OnlyRespondAfterName,
		HideThinkTags:            g.HideThinkTags,

		Provider:    g.Provider,
		STTProvider: g.STTProvider,
		TTSProvider: g.TTSProvider,

		AudioBufferMs: g.AudioBufferMs,
		Verbose:       g.Verbose,
	}

	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.LLMContextSize == 0 {
		cfg.LLMContextSize = 2048
	}

	cfg.TTSLexicon = getLexiconForVoice(ttsDir, ttsVoice)
	cfg.TTSLanguage = getLanguageForVoice(ttsVoice)

	if cfg.Provider == "" {
		cfg.Provider = detectProvider()
	}
	if cfg.STTProvider == "" {
		cfg.STTProvider = cfg.Provider
	}
	if cfg.TTSProvider == "" {
		cfg.TTSProvider = cfg.Provider
	}

	cfg.normalizeThreadCounts()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultHistoryFileName(assistantName string) string {
	snake := strings.ToLower(strings.Join(strings.Fields(assistantName), "_"))
	if snake == "" {
		snake = "assistant"
	}
	return snake + "_history.txt"
}

// normalizeThreadCounts auto-detects and sets reasonable thread counts based
// on CPU cores, matching the original edge-device tuning (VAD: lightweight,
// STT/TTS: cores/3).
func (c *Config) normalizeThreadCounts() {
	cpuCores := runtime.NumCPU()

	if c.NumThreads == 0 {
		c.NumThreads = max(1, cpuCores/3)
	}
	if c.VADThreads == 0 {
		c.VADThreads = 1
	}
	if c.STTThreads == 0 {
		c.STTThreads = c.NumThreads
	}
	if c.TTSThreads == 0 {
		c.TTSThreads = c.NumThreads
	}
}

func (c *Config) validate() error {
	requiredFiles := []string{
		c.VADModel,
		c.WhisperEncoder,
		c.WhisperDecoder,
		c.WhisperTokens,
		c.TTSModel,
		c.TTSVoices,
		c.TTSTokens,
	}

	for _, path := range requiredFiles {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("required file not found: %s\nrun the model setup script for this assistant", path)
		}
	}

	return nil
}

// detectProvider auto-detects the best hardware acceleration provider for
// the current platform.
func detectProvider() string {
	switch runtime.GOOS {
	case "darwin":
		return "coreml"
	case "linux":
		if sherpa.HasNvidiaGPU() {
			return "cuda"
		}
		return "cpu"
	default:
		return "cpu"
	}
}

// getLexiconForVoice returns the appropriate lexicon file path based on the
// voice name, matching Kokoro v1.0+'s multi-lingual lexicon layout.
func getLexiconForVoice(ttsDir, voiceName string) string {
	voice := GetVoice(voiceName)
	if voice == nil {
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	}

	switch voice.EspeakCode {
	case "en-us":
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	case "en-gb":
		return filepath.Join(ttsDir, "lexicon-gb-en.txt")
	case "cmn":
		return filepath.Join(ttsDir, "lexicon-us-en.txt") + "," + filepath.Join(ttsDir, "lexicon-zh.txt")
	default:
		return ""
	}
}

// getLanguageForVoice returns the espeak-ng language code for non-English
// voices; only used when lexicon files aren't available for a language.
func getLanguageForVoice(voiceName string) string {
	voice := GetVoice(voiceName)
	if voice == nil {
		return ""
	}
	if voice.EspeakCode == "en-us" || voice.EspeakCode == "en-gb" || voice.EspeakCode == "cmn" {
		return ""
	}
	return voice.EspeakCode
}
