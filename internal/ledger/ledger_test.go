package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/database"
	"llm-trade-bot-go/internal/decision"
	"llm-trade-bot-go/internal/models"
)

func newTestWriter(t *testing.T) (*Writer, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(&config.Database{DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	return NewWriter(db, zap.NewNop()), db
}

func meta(model string) decision.Meta {
	return decision.Meta{Narrative: "narrative", Reasoning: "reasoning", ModelName: model, PromptLabel: "prompt"}
}

func loadTrading(t *testing.T, db *gorm.DB, chatID string) models.Trading {
	t.Helper()
	var tradings []models.Trading
	require.NoError(t, db.Where("chat_id = ?", chatID).Find(&tradings).Error)
	require.Len(t, tradings, 1)
	return tradings[0]
}

func TestPersist(t *testing.T) {
	ctx := context.Background()

	t.Run("BuyCarriesOrderParameters", func(t *testing.T) {
		w, db := newTestWriter(t)
		d := decision.NewBuy(meta("deepseek"), decision.BuyParams{
			Pricing:  decimal.NewFromInt(65000),
			Amount:   decimal.RequireFromString("0.001"),
			Leverage: 3,
		})

		chat, err := w.Persist(ctx, d, "btc")
		require.NoError(t, err)
		assert.Len(t, chat.ID, 36)
		assert.Equal(t, "BTC", chat.Symbol)

		trading := loadTrading(t, db, chat.ID)
		assert.Equal(t, models.OperationBuy, trading.Operation)
		require.True(t, trading.Pricing.Valid)
		assert.True(t, decimal.NewFromInt(65000).Equal(trading.Pricing.Decimal))
		require.True(t, trading.Amount.Valid)
		assert.True(t, decimal.RequireFromString("0.001").Equal(trading.Amount.Decimal))
		require.NotNil(t, trading.Leverage)
		assert.Equal(t, 3, *trading.Leverage)
		assert.False(t, trading.StopLoss.Valid)
		assert.False(t, trading.TakeProfit.Valid)
	})

	t.Run("SellCarriesOnlySymbolAndOperation", func(t *testing.T) {
		w, db := newTestWriter(t)
		d := decision.NewSell(meta("deepseek"), decision.SellParams{Percentage: decimal.NewFromInt(50)})

		chat, err := w.Persist(ctx, d, "BTC")
		require.NoError(t, err)

		trading := loadTrading(t, db, chat.ID)
		assert.Equal(t, models.OperationSell, trading.Operation)
		assert.Equal(t, "BTC", trading.Symbol)
		assert.False(t, trading.Pricing.Valid)
		assert.False(t, trading.Amount.Valid)
		assert.Nil(t, trading.Leverage)
	})

	t.Run("HoldWithRisk", func(t *testing.T) {
		w, db := newTestWriter(t)
		d := decision.NewHold(meta("openai"), &decision.RiskAdjustment{
			StopLoss:   decimal.NewFromInt(60000),
			TakeProfit: decimal.NewFromInt(70000),
		})

		chat, err := w.Persist(ctx, d, "BTC")
		require.NoError(t, err)

		trading := loadTrading(t, db, chat.ID)
		require.True(t, trading.StopLoss.Valid)
		assert.True(t, decimal.NewFromInt(60000).Equal(trading.StopLoss.Decimal))
		require.True(t, trading.TakeProfit.Valid)
		assert.True(t, decimal.NewFromInt(70000).Equal(trading.TakeProfit.Decimal))
	})

	t.Run("HoldWithoutRiskLeavesLevelsNull", func(t *testing.T) {
		w, db := newTestWriter(t)

		chat, err := w.Persist(ctx, decision.NewHold(meta("openai"), nil), "BTC")
		require.NoError(t, err)

		var nulls int64
		require.NoError(t, db.Model(&models.Trading{}).
			Where("chat_id = ? AND stop_loss IS NULL AND take_profit IS NULL", chat.ID).
			Count(&nulls).Error)
		assert.Equal(t, int64(1), nulls)
	})

	t.Run("ChatCarriesNarrativeAndReasoning", func(t *testing.T) {
		w, db := newTestWriter(t)

		chat, err := w.Persist(ctx, decision.NewHold(decision.Meta{Narrative: "wait", ModelName: "agent"}, nil), "ETH")
		require.NoError(t, err)

		var stored models.Chat
		require.NoError(t, db.First(&stored, "id = ?", chat.ID).Error)
		assert.Equal(t, "wait", stored.Narrative)
		assert.Equal(t, decision.NoReasoning, stored.Reasoning)
		assert.Equal(t, "agent", stored.Model)
		assert.Equal(t, "ETH", stored.Symbol)
	})
}

func TestPersist_Concurrent(t *testing.T) {
	w, db := newTestWriter(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Persist(ctx, decision.NewHold(meta("deepseek"), nil), "BTC")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	count, err := w.CountChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	var orphans int64
	require.NoError(t, db.Model(&models.Chat{}).
		Where("NOT EXISTS (SELECT 1 FROM tradings WHERE tradings.chat_id = chats.id)").
		Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestRecentChats(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	for _, model := range []string{"deepseek", "openai", "agent"} {
		_, err := w.Persist(ctx, decision.NewHold(meta(model), nil), "BTC")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	chats, err := w.RecentChats(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "agent", chats[0].Model)
	assert.Equal(t, "openai", chats[1].Model)
	assert.Len(t, chats[0].Tradings, 1)
}

func TestMetrics(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, w.RecordMetric(ctx, &models.Metric{
			TotalCashValue: decimal.NewFromInt(int64(100 * i)),
			PositionCount:  i,
		}))
		time.Sleep(2 * time.Millisecond)
	}

	metrics, err := w.RecentMetrics(ctx, 2)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, 2, metrics[0].PositionCount)
	assert.Equal(t, 3, metrics[1].PositionCount)
	assert.True(t, decimal.NewFromInt(300).Equal(metrics[1].TotalCashValue))
}

func TestStatistics(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	decisions := []decision.Decision{
		decision.NewBuy(meta("deepseek"), decision.BuyParams{Pricing: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1), Leverage: 1}),
		decision.NewHold(meta("deepseek"), nil),
		decision.NewHold(meta("agent"), nil),
	}
	for _, d := range decisions {
		_, err := w.Persist(ctx, d, "BTC")
		require.NoError(t, err)
	}

	stats, err := w.Statistics(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByOperation["Buy"])
	assert.Equal(t, int64(2), stats.ByOperation["Hold"])
	assert.Equal(t, int64(2), stats.ByModel["deepseek"])

	future, err := w.Statistics(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, future.Total)
}
