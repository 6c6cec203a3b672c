package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntryType distinguishes money owed from money returned
type LedgerEntryType string

const (
	LedgerEntryCharge LedgerEntryType = "Charge"
	LedgerEntryRefund LedgerEntryType = "Refund"
)

// LedgerEntry is a signed, append-only accounting record for a rental.
// Charges are positive, refunds negative. Rows are never updated except for
// a charge's RemainingAmount as payments land against it; history is never
// deleted.
type LedgerEntry struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RentalID uint            `gorm:"index" json:"rental_id"`
	Type     LedgerEntryType `gorm:"type:varchar(20);index" json:"type"`
	Category string          `gorm:"type:varchar(50);index" json:"category"`

	Amount decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	// RemainingAmount is the still-unpaid residual of a charge; always zero
	// for refunds.
	RemainingAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"remaining_amount"`
	Voided          bool            `gorm:"default:false" json:"voided"`

	EntryDate time.Time `json:"entry_date"`
	Reference string    `gorm:"type:varchar(150)" json:"reference"`
}
