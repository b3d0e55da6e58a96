// Package llm drives the language model: conversation checkpointing,
// cancellable streaming generation, tool-call detection, and the wake-word
// gate. It owns the only long-lived handle this process keeps into the
// model backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// errCancelled is returned by a streaming callback to abort Client.Generate
// early; Client.Generate unwraps it back into ErrCancelled for callers.
var errCancelled = errors.New("llm: generation cancelled")

// ErrCancelled is returned by Client.Generate when the token callback asked
// for early termination.
var ErrCancelled = errCancelled

// Config holds the backend connection and generation parameters.
type Config struct {
	Host        string
	Model       string
	NumCtx      int
	Temperature float32
}

// Client is a thin wrapper over the Ollama HTTP API, used through the raw
// /api/generate endpoint rather than /api/chat: GenerateResponse exposes a
// Context []int field that carries the decoder state needed to continue a
// conversation, and the driver's checkpoint/rewind discipline is built
// directly on top of it — resuming from an old Context value is how a turn
// is rolled back.
type Client struct {
	http  *api.Client
	model string
	opts  map[string]any
}

// NewClient creates a Client against an Ollama server.
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", cfg.Host, err)
	}

	httpClient := &http.Client{
		Timeout: 0, // streaming generation has no fixed deadline; cancellation is via ctx
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	numCtx := cfg.NumCtx
	if numCtx <= 0 {
		numCtx = 2048
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.7
	}

	return &Client{
		http:  api.NewClient(parsed, httpClient),
		model: cfg.Model,
		opts: map[string]any{
			"temperature": temp,
			"num_ctx":     numCtx,
		},
	}, nil
}

// HealthCheck verifies the Ollama server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.http.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	return nil
}

// Template fetches the model's chat-template source, used to decide whether
// the model understands tool calls before any tool schema is embedded in the
// system prompt.
func (c *Client) Template(ctx context.Context) (string, error) {
	resp, err := c.http.Show(ctx, &api.ShowRequest{Model: c.model})
	if err != nil {
		return "", fmt.Errorf("show model %q: %w", c.model, err)
	}
	return resp.Template, nil
}

// Chunk is one piece of a streaming generation, handed to the caller's
// onChunk callback as it arrives.
type Chunk struct {
	Text string
	Done bool
	// Context is only populated on the final (Done) chunk: it is the new
	// checkpoint value to push for this exchange.
	Context []int
}

// Generate runs one generation against prompt, continuing from ctxIn (nil
// means start fresh from the system prompt). onChunk is invoked once per
// streamed piece of text; returning a non-nil error from onChunk aborts the
// generation and Generate returns that error unchanged to its caller. The
// driver uses this to implement "check llm_command at most once per token".
func (c *Client) Generate(ctx context.Context, system, prompt string, ctxIn []int, onChunk func(Chunk) error) ([]int, error) {
	stream := true
	req := &api.GenerateRequest{
		Model:   c.model,
		System:  system,
		Prompt:  prompt,
		Context: ctxIn,
		Raw:     true,
		Stream:  &stream,
		Options: c.opts,
	}

	var finalContext []int
	var callbackErr error

	err := c.http.Generate(ctx, req, func(resp api.GenerateResponse) error {
		chunk := Chunk{Text: resp.Response, Done: resp.Done}
		if resp.Done {
			finalContext = resp.Context
			chunk.Context = resp.Context
		}
		if cbErr := onChunk(chunk); cbErr != nil {
			callbackErr = cbErr
			return cbErr
		}
		return nil
	})

	if callbackErr != nil {
		if errors.Is(callbackErr, errCancelled) {
			return finalContext, ErrCancelled
		}
		return finalContext, callbackErr
	}
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	return finalContext, nil
}
