package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Chat is one decision-cycle ledger entry: what the backend said and why.
// Rows are only ever inserted.
type Chat struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Model       string    `gorm:"type:varchar(64);not null;index" json:"model"`
	Symbol      string    `gorm:"type:varchar(16);not null" json:"symbol"`
	Reasoning   string    `gorm:"type:text;not null" json:"reasoning"`
	Narrative   string    `gorm:"type:text;not null" json:"narrative"`
	PromptLabel string    `gorm:"type:text" json:"prompt_label"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	Tradings    []Trading `gorm:"foreignKey:ChatID;constraint:OnDelete:RESTRICT" json:"tradings"`
}

// BeforeCreate assigns a random UUID when the caller did not set one.
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
