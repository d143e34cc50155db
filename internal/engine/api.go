package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// APIEngine talks to the Anthropic Messages API directly. It has no tool
// loop, so it serves plan generation and other pure-text work rather than
// code edits. A weighted semaphore caps in-flight requests and a token-bucket
// limiter smooths request bursts across concurrent features.
type APIEngine struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int64
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
}

// APIConfig configures an APIEngine.
type APIConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// DefaultModel is used when the request doesn't name one.
	DefaultModel string

	// MaxTokens caps the response length. Default: 8192
	MaxTokens int64

	// MaxInFlight caps concurrent API requests. Default: 4
	MaxInFlight int64

	// RequestsPerSecond throttles request starts. Default: 1
	RequestsPerSecond float64
}

// NewAPIEngine creates an APIEngine.
func NewAPIEngine(cfg APIConfig) *APIEngine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &APIEngine{
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		sem:          semaphore.NewWeighted(cfg.MaxInFlight),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Run starts a streaming Messages request. The semaphore slot is held until
// the stream is fully consumed or closed.
func (e *APIEngine) Run(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = e.defaultModel
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire request slot: %w", err)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		e.sem.Release(1)
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	prompt := req.Prompt
	if req.WorkDir != "" {
		prompt = fmt.Sprintf("Working directory: %s\n\n%s", req.WorkDir, prompt)
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)}
	for _, img := range req.Images {
		block, err := imageBlock(img)
		if err != nil {
			// An unreadable attachment shouldn't sink the whole request.
			continue
		}
		blocks = append(blocks, block)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sse := e.client.Messages.NewStreaming(runCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})

	return &apiStream{
		sse:    sse,
		cancel: cancel,
		release: func() {
			e.sem.Release(1)
		},
	}, nil
}

// imageBlock reads an image file into a base64 content block.
func imageBlock(path string) (anthropic.ContentBlockParamUnion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, err
	}

	var mediaType string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mediaType = "image/png"
	case ".jpg", ".jpeg":
		mediaType = "image/jpeg"
	case ".gif":
		mediaType = "image/gif"
	case ".webp":
		mediaType = "image/webp"
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("unsupported image type: %s", path)
	}

	return anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)), nil
}

type apiStream struct {
	sse    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel context.CancelFunc

	once    sync.Once
	release func()
	done    bool
}

func (s *apiStream) Recv() (*Event, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.sse.Next() {
		event := s.sse.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return &Event{Kind: EventText, Text: delta.Text}, nil
			}
		case anthropic.MessageStopEvent:
			s.finish()
			return &Event{Kind: EventResult, Subtype: "success"}, nil
		}
	}
	if err := s.sse.Err(); err != nil {
		s.finish()
		return nil, err
	}
	s.finish()
	return nil, io.EOF
}

func (s *apiStream) Close() error {
	s.cancel()
	s.finish()
	return nil
}

func (s *apiStream) finish() {
	s.done = true
	s.once.Do(s.release)
}
