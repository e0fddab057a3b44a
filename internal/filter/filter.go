// Package filter decides whether message content is worth forwarding by
// asking an OpenAI-compatible chat completion endpoint.
//
// The adapter is fail-open: empty input, transport errors and responses that
// cannot be read as a verdict all evaluate to "interesting". A classifier
// outage must never silently drop messages.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
)

// DefaultPrompt instructs the model to answer with a bare boolean verdict.
// {content} is replaced with the text under evaluation.
const DefaultPrompt = `You are given some content to evaluate, you need to decide if it is of interest to me.
Answer with ONLY the word 'True' or the word 'False', nothing else.
If you are unsure, answer True.

Content: {content}`

// completionClient is the slice of go-openai used by the filter.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Filter evaluates message content against the configured prompt.
type Filter struct {
	client  completionClient
	model   string
	prompt  string
	timeout time.Duration
	log     *logger.Logger
}

// Config holds the classifier settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// New creates a filter backed by the configured completion endpoint.
func New(cfg Config) *Filter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Filter{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		prompt:  prompt,
		timeout: timeout,
		log:     logger.Get(),
	}
}

// IsInteresting reports whether content should be forwarded.
// Whitespace-only content returns true without a call: there is nothing to
// evaluate, and suppressing it would lose media-only messages.
func (f *Filter) IsInteresting(ctx context.Context, content string) bool {
	if strings.TrimSpace(content) == "" {
		f.log.Debug().Msg("filter: empty content, defaulting to interesting")
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: strings.ReplaceAll(f.prompt, "{content}", content)},
		},
	})
	if err != nil {
		f.log.Error().Err(err).Msg("filter: completion request failed, failing open")
		return true
	}
	if len(resp.Choices) == 0 {
		f.log.Error().Msg("filter: completion returned no choices, failing open")
		return true
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		f.log.Error().Err(err).Msg("filter: unreadable verdict, failing open")
		return true
	}
	if verdict.rescued {
		f.log.Warn().Str("response", verdict.raw).Bool("verdict", verdict.value).Msg("filter: ambiguous response, keyword rescued")
	}
	return verdict.value
}

type verdict struct {
	value   bool
	rescued bool
	raw     string
}

// parseVerdict reads the model response as a boolean. An exact
// (case-insensitive) "true"/"false" wins; otherwise a single occurrence of
// exactly one keyword is accepted as a rescue; anything else is an error.
func parseVerdict(response string) (verdict, error) {
	text := strings.ToLower(strings.TrimSpace(response))

	switch text {
	case "true":
		return verdict{value: true, raw: text}, nil
	case "false":
		return verdict{value: false, raw: text}, nil
	}

	hasTrue := strings.Contains(text, "true")
	hasFalse := strings.Contains(text, "false")
	switch {
	case hasTrue && !hasFalse:
		return verdict{value: true, rescued: true, raw: text}, nil
	case hasFalse && !hasTrue:
		return verdict{value: false, rescued: true, raw: text}, nil
	}
	return verdict{}, fmt.Errorf("no true/false verdict in response: %q", response)
}
