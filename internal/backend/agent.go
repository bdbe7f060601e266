package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/decision"
)

// AgentFallbackNarrative is the narrative of the Hold returned when the
// decision service cannot be reached.
const AgentFallbackNarrative = "Error calling agent service."

const defaultAgentTimeout = 5 * time.Second

// agentRequest is the body posted to the decision service.
type agentRequest struct {
	Price   float64 `json:"price"`
	Symbol  string  `json:"symbol"`
	Balance float64 `json:"balance"`
}

// AgentBackend calls the external decision service. It never fails: an
// unreachable service degrades to a Hold.
type AgentBackend struct {
	client  *resty.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewAgentBackend creates a client for the decision service at cfg.BaseURL.
func NewAgentBackend(cfg config.AgentService, logger *zap.Logger) *AgentBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	return &AgentBackend{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json"),
		timeout: timeout,
		logger:  logger.Named("backend").With(zap.String("backend", string(KindAgent))),
	}
}

func (b *AgentBackend) Kind() Kind        { return KindAgent }
func (b *AgentBackend) Name() string      { return "agent service" }
func (b *AgentBackend) ModelName() string { return string(KindAgent) }

// Invoke posts the current price to /act and reads {action, reasoning, confidence?}.
func (b *AgentBackend) Invoke(ctx context.Context, in Input) (Result, error) {
	body := agentRequest{}
	if in.Snapshot != nil {
		body.Price = in.Snapshot.CurrentPrice.InexactFloat64()
		body.Symbol = in.Snapshot.Pair.String()
	}
	if in.Performance != nil {
		body.Balance = in.Performance.AvailableCash.InexactFloat64()
	}
	label, _ := json.Marshal(body)
	result := Result{PromptLabel: string(label)}

	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/act")
	if err != nil || resp.IsError() {
		fields := []zap.Field{zap.String("tier", "transient")}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode()))
		}
		b.logger.Warn("Decision service call failed, holding", fields...)
		result.Raw = fallbackRaw()
		return result, nil
	}

	payload := resp.Body()
	if !gjson.ValidBytes(payload) {
		b.logger.Warn("Decision service returned invalid JSON, holding",
			zap.String("tier", "transient"),
			zap.ByteString("body", payload))
		result.Raw = fallbackRaw()
		return result, nil
	}

	raw := decision.ExternalServiceRaw{
		Action:    gjson.GetBytes(payload, "action").String(),
		Reasoning: gjson.GetBytes(payload, "reasoning").String(),
	}
	if c := gjson.GetBytes(payload, "confidence"); c.Type == gjson.Number {
		confidence := c.Float()
		raw.Confidence = &confidence
	}
	result.Raw = raw
	return result, nil
}

func fallbackRaw() decision.ExternalServiceRaw {
	return decision.ExternalServiceRaw{Action: string(decision.Hold), Reasoning: AgentFallbackNarrative}
}
