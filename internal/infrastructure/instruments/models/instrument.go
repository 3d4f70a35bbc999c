package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InstrumentModel mirrors the instruments table schema. Queries run on pgx;
// the model exists so the table layout lives next to the repository that
// reads it.
type InstrumentModel struct {
	UID       uuid.UUID      `gorm:"primaryKey;column:uid;type:uuid;not null"`
	Symbol    string         `gorm:"column:symbol;type:varchar(50);not null;uniqueIndex"`
	Figi      string         `gorm:"column:figi;type:varchar(255);not null"`
	Exchange  string         `gorm:"column:exchange;type:varchar(50)"`
	Currency  string         `gorm:"column:currency;type:varchar(10)"`
	Lot       int32          `gorm:"column:lot;type:integer;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;type:timestamp;index"`
}

func (InstrumentModel) TableName() string {
	return "instruments"
}
