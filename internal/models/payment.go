package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus represents the state of a payment record
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "Pending"
	PaymentStatusApplied       PaymentStatus = "Applied"
	PaymentStatusRefunded      PaymentStatus = "Refunded"
	PaymentStatusPartialRefund PaymentStatus = "PartialRefund"
	PaymentStatusCancelled     PaymentStatus = "Cancelled"
	// PaymentStatusPendingManual flags money the rejection cascade could not
	// unwind through the processor. A human refunds it out-of-band.
	PaymentStatusPendingManual PaymentStatus = "PendingManual"
)

// IsTerminal reports whether the payment needs no further unwinding.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusCancelled || s == PaymentStatusPendingManual
}

// CaptureStatus mirrors the processor-side state of the funds
type CaptureStatus string

const (
	CaptureStatusRequiresCapture CaptureStatus = "requires_capture"
	CaptureStatusCaptured        CaptureStatus = "captured"
	CaptureStatusCancelled       CaptureStatus = "cancelled"
	CaptureStatusRefunded        CaptureStatus = "refunded"
	CaptureStatusPartialRefund   CaptureStatus = "partial_refund"
)

// PaymentType records which flow produced the payment
type PaymentType string

const (
	PaymentTypeUpfront     PaymentType = "upfront"
	PaymentTypeInstallment PaymentType = "installment"
	PaymentTypePayoff      PaymentType = "payoff"
	PaymentTypeHold        PaymentType = "hold"
)

// Payment is one money movement against a rental.
type Payment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RentalID   uint `gorm:"index" json:"rental_id"`
	CustomerID uint `gorm:"index" json:"customer_id"`
	TenantID   uint `gorm:"index" json:"tenant_id"`

	Amount      decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	Method      string          `gorm:"type:varchar(50)" json:"method"`
	PaymentType PaymentType     `gorm:"type:varchar(30)" json:"payment_type"`

	Status        PaymentStatus `gorm:"type:varchar(30);index" json:"status"`
	CaptureStatus CaptureStatus `gorm:"type:varchar(30)" json:"capture_status"`

	// ProcessorSessionRef keys the row to the pending checkout session so the
	// completion webhook updates this exact record instead of creating one.
	ProcessorSessionRef string `gorm:"type:varchar(150);index" json:"processor_session_ref"`
	ProcessorIntentRef  string `gorm:"type:varchar(150);index" json:"processor_intent_ref"`

	// Categories is a comma-separated list of what the money covered
	// (deposit, fees, delivery, installment). Used to split compensating
	// refund ledger entries.
	Categories string `gorm:"type:varchar(255)" json:"categories"`

	RefundAmount      decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"refund_amount"`
	RefundReason      string          `gorm:"type:text" json:"refund_reason"`
	RefundRef         string          `gorm:"type:varchar(150)" json:"refund_ref"`
	RefundProcessedAt *time.Time      `json:"refund_processed_at"`

	// Relationships
	Rental Rental `gorm:"foreignKey:RentalID" json:"rental,omitempty"`
}
