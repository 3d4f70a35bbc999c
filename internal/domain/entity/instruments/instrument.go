package instruments

import (
	"time"

	"github.com/google/uuid"
)

// Instrument is one tradable catalog row. This is reference data: the
// engine itself keys everything by Symbol, the catalog carries the
// exchange metadata around it.
type Instrument struct {
	UID       uuid.UUID  `json:"uid"`
	Symbol    string     `json:"symbol"`
	FIGI      string     `json:"figi"`
	Exchange  string     `json:"exchange"`
	Currency  string     `json:"currency"`
	Lot       int32      `json:"lot"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
