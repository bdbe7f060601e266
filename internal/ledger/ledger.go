// Package ledger is the append-only store of decisions and account metrics.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"llm-trade-bot-go/internal/decision"
	"llm-trade-bot-go/internal/models"
)

// Writer appends decisions and metrics. It never updates or deletes rows.
type Writer struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWriter creates a ledger writer on db.
func NewWriter(db *gorm.DB, logger *zap.Logger) *Writer {
	return &Writer{db: db, logger: logger.Named("ledger")}
}

// Persist stores one Chat and its Trading in a single transaction.
func (w *Writer) Persist(ctx context.Context, d decision.Decision, symbol string) (*models.Chat, error) {
	symbol = strings.ToUpper(symbol)
	chat := &models.Chat{
		Model:       d.ModelName,
		Symbol:      symbol,
		Reasoning:   d.Reasoning,
		Narrative:   d.Narrative,
		PromptLabel: d.PromptLabel,
		Tradings:    []models.Trading{tradingFor(d, symbol)},
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(chat).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	w.logger.Info("Decision recorded",
		zap.String("chat_id", chat.ID),
		zap.String("model", chat.Model),
		zap.String("symbol", symbol),
		zap.String("operation", string(d.Operation)),
	)
	return chat, nil
}

// tradingFor maps the decision payload onto the order intent row. Columns a
// decision does not carry stay NULL.
func tradingFor(d decision.Decision, symbol string) models.Trading {
	t := models.Trading{Symbol: symbol, Operation: models.Operation(d.Operation)}

	switch d.Operation {
	case decision.Buy:
		if buy, ok := d.Buy(); ok {
			leverage := buy.Leverage
			t.Pricing = decimal.NewNullDecimal(buy.Pricing)
			t.Amount = decimal.NewNullDecimal(buy.Amount)
			t.Leverage = &leverage
		}
	case decision.Hold:
		if risk, ok := d.RiskAdjustment(); ok {
			t.StopLoss = decimal.NewNullDecimal(risk.StopLoss)
			t.TakeProfit = decimal.NewNullDecimal(risk.TakeProfit)
		}
	}
	return t
}

// CountChats returns the number of recorded decisions.
func (w *Writer) CountChats(ctx context.Context) (int64, error) {
	var count int64
	if err := w.db.WithContext(ctx).Model(&models.Chat{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count chats: %w", err)
	}
	return count, nil
}

// RecordMetric appends an account performance capture.
func (w *Writer) RecordMetric(ctx context.Context, metric *models.Metric) error {
	if err := w.db.WithContext(ctx).Create(metric).Error; err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecentChats returns up to limit chats, newest first, with their tradings.
func (w *Writer) RecentChats(ctx context.Context, limit int) ([]models.Chat, error) {
	var chats []models.Chat
	err := w.db.WithContext(ctx).
		Preload("Tradings").
		Order("created_at desc").
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	return chats, nil
}

// RecentMetrics returns up to limit metrics in chronological order.
func (w *Writer) RecentMetrics(ctx context.Context, limit int) ([]models.Metric, error) {
	var metrics []models.Metric
	err := w.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&metrics).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
		metrics[i], metrics[j] = metrics[j], metrics[i]
	}
	return metrics, nil
}

// Statistics counts the decisions taken since a point in time.
type Statistics struct {
	Total       int64            `json:"total"`
	ByOperation map[string]int64 `json:"by_operation"`
	ByModel     map[string]int64 `json:"by_model"`
}

// Statistics aggregates decisions created at or after since. A zero since
// covers the whole ledger.
func (w *Writer) Statistics(ctx context.Context, since time.Time) (*Statistics, error) {
	type row struct {
		Name  string
		Total int64
	}

	base := func() *gorm.DB {
		q := w.db.WithContext(ctx).Table("tradings").
			Joins("JOIN chats ON chats.id = tradings.chat_id")
		if !since.IsZero() {
			q = q.Where("chats.created_at >= ?", since)
		}
		return q
	}

	var byOp []row
	if err := base().Select("tradings.operation AS name, COUNT(*) AS total").
		Group("tradings.operation").Scan(&byOp).Error; err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	var byModel []row
	if err := base().Select("chats.model AS name, COUNT(*) AS total").
		Group("chats.model").Scan(&byModel).Error; err != nil {
		return nil, fmt.Errorf("failed to count models: %w", err)
	}

	stats := &Statistics{
		ByOperation: make(map[string]int64, len(byOp)),
		ByModel:     make(map[string]int64, len(byModel)),
	}
	for _, r := range byOp {
		stats.ByOperation[r.Name] = r.Total
		stats.Total += r.Total
	}
	for _, r := range byModel {
		stats.ByModel[r.Name] = r.Total
	}
	return stats, nil
}
