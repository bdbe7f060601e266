// Package backend selects and invokes the reasoning backends that turn a
// market snapshot into a raw trade decision.
package backend

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/decision"
	"llm-trade-bot-go/internal/llm"
)

var (
	// ErrBackendUnavailable marks a backend that could not be reached or timed out.
	ErrBackendUnavailable = errors.New("backend: unavailable")
	// ErrBackendRejected marks a request the backend refused, usually a
	// configuration error such as an unsupported response format or a bad key.
	ErrBackendRejected = errors.New("backend: request rejected")
)

// Kind identifies a reasoning backend.
type Kind string

const (
	KindDeepSeek   Kind = "deepseek"
	KindOpenAI     Kind = "openai"
	KindOpenRouter Kind = "openrouter"
	KindOllama     Kind = "ollama"
	KindAgent      Kind = "agent"

	DefaultKind = KindDeepSeek
)

var kindTokens = map[string]Kind{
	"deepseek":     KindDeepSeek,
	"openai":       KindOpenAI,
	"gpt":          KindOpenAI,
	"openrouter":   KindOpenRouter,
	"qwen":         KindOpenRouter,
	"ollama":       KindOllama,
	"local":        KindOllama,
	"agent":        KindAgent,
	"agentevolver": KindAgent,
}

// Kinds lists every backend kind.
var Kinds = []Kind{KindDeepSeek, KindOpenAI, KindOpenRouter, KindOllama, KindAgent}

// ParseKind maps a configuration token case-insensitively. Unknown or empty
// tokens resolve to DefaultKind.
func ParseKind(token string) Kind {
	if kind, ok := kindTokens[strings.ToLower(strings.TrimSpace(token))]; ok {
		return kind
	}
	return DefaultKind
}

// Result is a raw backend answer together with what was sent to obtain it.
type Result struct {
	Raw         decision.Raw
	PromptLabel string
}

// Backend is one reasoning provider.
type Backend interface {
	Kind() Kind
	// Name is the human readable name used in fallback narratives.
	Name() string
	// ModelName is recorded with every decision.
	ModelName() string
	Invoke(ctx context.Context, in Input) (Result, error)
}

// Selector resolves a backend token to a configured backend.
type Selector struct {
	defaultToken string
	backends     map[Kind]Backend
}

// NewSelector creates a selector over backends. defaultToken is used when
// Select gets no override.
func NewSelector(defaultToken string, backends map[Kind]Backend) *Selector {
	return &Selector{defaultToken: defaultToken, backends: backends}
}

// Select resolves override, then the configured token, then DefaultKind.
func (s *Selector) Select(override string) Backend {
	token := strings.TrimSpace(override)
	if token == "" {
		token = s.defaultToken
	}
	if b, ok := s.backends[ParseKind(token)]; ok {
		return b
	}
	return s.backends[DefaultKind]
}

// NewBackends builds every backend kind from cfg.
func NewBackends(cfg config.Backend, logger *zap.Logger) map[Kind]Backend {
	hosted := []struct {
		kind Kind
		name string
		cfg  config.LLM
	}{
		{KindDeepSeek, "DeepSeek", cfg.DeepSeek},
		{KindOpenAI, "OpenAI", cfg.OpenAI},
		{KindOpenRouter, "OpenRouter", cfg.OpenRouter},
		{KindOllama, "Ollama", cfg.Ollama},
	}

	backends := make(map[Kind]Backend, len(Kinds))
	for _, h := range hosted {
		client := llm.NewClient(h.cfg, cfg.LLMTimeout, logger)
		backends[h.kind] = NewStructuredBackend(h.kind, h.name, client, cfg.LLMTimeout, logger)
	}
	backends[KindAgent] = NewAgentBackend(cfg.Agent, logger)
	return backends
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
