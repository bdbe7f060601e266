package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-trade-bot-go/internal/config"
	"llm-trade-bot-go/internal/models"
)

func TestNewDatabase_MigratesAndKeepsRows(t *testing.T) {
	cfg := &config.Database{DSN: filepath.Join(t.TempDir(), "ledger.db")}

	db, err := NewDatabase(cfg)
	require.NoError(t, err)

	for _, table := range []any{&models.Chat{}, &models.Trading{}, &models.Metric{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	chat := models.Chat{Model: "deepseek", Symbol: "BTC", Reasoning: "r", Narrative: "n"}
	require.NoError(t, db.Create(&chat).Error)
	assert.Len(t, chat.ID, 36)

	// Reopening must not drop the ledger.
	reopened, err := NewDatabase(cfg)
	require.NoError(t, err)

	var count int64
	require.NoError(t, reopened.Model(&models.Chat{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
