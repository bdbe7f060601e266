package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"llm-trade-bot-go/internal/llm"
)

// Completer is the structured-call capability of an LLM endpoint.
type Completer interface {
	CompleteStructured(ctx context.Context, req llm.StructuredRequest) (*llm.Completion, error)
	Model() string
}

// StructuredBackend is a hosted or local LLM answering with the decision schema.
type StructuredBackend struct {
	kind      Kind
	name      string
	completer Completer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewStructuredBackend creates a backend of kind on top of completer.
func NewStructuredBackend(kind Kind, name string, completer Completer, timeout time.Duration, logger *zap.Logger) *StructuredBackend {
	return &StructuredBackend{
		kind:      kind,
		name:      name,
		completer: completer,
		timeout:   timeout,
		logger:    logger.Named("backend").With(zap.String("backend", string(kind))),
	}
}

func (b *StructuredBackend) Kind() Kind        { return b.kind }
func (b *StructuredBackend) Name() string      { return b.name }
func (b *StructuredBackend) ModelName() string { return b.completer.Model() }

// Invoke renders the prompt and asks the model for a schema-conforming
// decision. Transport failures and timeouts wrap ErrBackendUnavailable,
// requests refused by the endpoint wrap ErrBackendRejected and answers that
// break the schema wrap ErrContractViolation.
func (b *StructuredBackend) Invoke(ctx context.Context, in Input) (Result, error) {
	userPrompt, err := RenderPrompt(in)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	completion, err := b.completer.CompleteStructured(ctx, llm.StructuredRequest{
		System:     SystemInstruction,
		User:       userPrompt,
		SchemaName: DecisionSchemaName,
		Schema:     DecisionSchema(),
	})
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrEmptyCompletion):
		return Result{}, fmt.Errorf("%w: %s: %w", ErrContractViolation, b.name, err)
	case errors.Is(err, llm.ErrRejected):
		return Result{}, fmt.Errorf("%w: %s: %w", ErrBackendRejected, b.name, err)
	default:
		return Result{}, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, b.name, err)
	}

	raw, err := ValidateDecisionJSON(completion.Content)
	if err != nil {
		b.logger.Error("Model answer violates decision schema",
			zap.String("content", completion.Content),
			zap.Error(err))
		return Result{}, fmt.Errorf("%s: %w", b.name, err)
	}
	raw.Reasoning = completion.Reasoning

	return Result{Raw: raw, PromptLabel: userPrompt}, nil
}
