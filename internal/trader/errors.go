package trader

import (
	"errors"

	"go.uber.org/zap"

	"llm-trade-bot-go/internal/backend"
	"llm-trade-bot-go/internal/binance"
	"llm-trade-bot-go/internal/decision"
)

// ErrUnauthorized is returned to trigger callers without a valid credential.
var ErrUnauthorized = errors.New("trader: missing or invalid credential")

// Tier is the failure class of an error raised during a cycle.
type Tier int

const (
	TierNone Tier = iota
	// TierTransient is an exchange or backend failure; the next cycle may succeed.
	TierTransient
	// TierCapabilityGap is an endpoint the market does not offer. Not a failure.
	TierCapabilityGap
	// TierContractBreach is a backend answer that breaks the decision contract,
	// or a request the backend refuses outright.
	TierContractBreach
	// TierCredential is a rejected trigger credential.
	TierCredential
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierTransient:
		return "transient"
	case TierCapabilityGap:
		return "capability_gap"
	case TierContractBreach:
		return "contract_breach"
	case TierCredential:
		return "credential"
	default:
		return "unknown"
	}
}

// classify maps err onto its tier. Anything unrecognized is transient.
func classify(err error) Tier {
	switch {
	case err == nil:
		return TierNone
	case errors.Is(err, ErrUnauthorized):
		return TierCredential
	case errors.Is(err, decision.ErrMalformed), errors.Is(err, backend.ErrContractViolation),
		errors.Is(err, backend.ErrBackendRejected):
		return TierContractBreach
	case errors.Is(err, binance.ErrNotSupported):
		return TierCapabilityGap
	default:
		return TierTransient
	}
}

// report logs err at the level its tier calls for and returns the tier.
func report(logger *zap.Logger, msg string, err error, fields ...zap.Field) Tier {
	tier := classify(err)
	fields = append(fields, zap.String("tier", tier.String()), zap.Error(err))
	switch tier {
	case TierNone:
	case TierCapabilityGap:
		logger.Info(msg, fields...)
	case TierContractBreach:
		logger.Error(msg, fields...)
	default:
		logger.Warn(msg, fields...)
	}
	return tier
}
