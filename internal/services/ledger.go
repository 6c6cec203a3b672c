package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

// ErrRefundExceedsAvailable rejects a refund request larger than what the
// ledger says was actually collected for the category. Checked before any
// processor call so nothing ever needs compensating.
var ErrRefundExceedsAvailable = errors.New("refund exceeds refundable balance for category")

// LedgerService maintains the signed, append-only money history per rental
// and gates all refunds on it.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// AvailableForRefund computes the refundable balance for one category from
// ledger history: collected (charge amount minus unpaid residual) net of
// refunds already issued.
func AvailableForRefund(entries []models.LedgerEntry, category string) decimal.Decimal {
	available := decimal.Zero
	for _, e := range entries {
		if e.Category != category || e.Voided {
			continue
		}
		switch e.Type {
		case models.LedgerEntryCharge:
			available = available.Add(e.Amount.Sub(e.RemainingAmount))
		case models.LedgerEntryRefund:
			available = available.Sub(e.Amount.Abs())
		}
	}
	return available
}

// AvailableForRefund loads the rental's ledger and computes the refundable
// balance for the category.
func (s *LedgerService) AvailableForRefund(rentalID uint, category string) (decimal.Decimal, error) {
	entries, err := s.entries(rentalID)
	if err != nil {
		return decimal.Zero, err
	}
	return AvailableForRefund(entries, category), nil
}

func (s *LedgerService) entries(rentalID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.Where("rental_id = ?", rentalID).Order("id asc").Find(&entries).Error
	return entries, err
}

// AppendCharge records money owed. remaining is the still-unpaid residual
// (zero for fully collected charges).
func (s *LedgerService) AppendCharge(db *gorm.DB, rentalID uint, category string, amount, remaining decimal.Decimal, reference string) error {
	entry := models.LedgerEntry{
		RentalID:        rentalID,
		Type:            models.LedgerEntryCharge,
		Category:        category,
		Amount:          amount,
		RemainingAmount: remaining,
		EntryDate:       time.Now(),
		Reference:       reference,
	}
	return db.Create(&entry).Error
}

// AppendRefund records money returned as a negative entry. Charge history is
// preserved, never rewritten.
func (s *LedgerService) AppendRefund(db *gorm.DB, rentalID uint, category string, amount decimal.Decimal, reference string) error {
	entry := models.LedgerEntry{
		RentalID:  rentalID,
		Type:      models.LedgerEntryRefund,
		Category:  category,
		Amount:    amount.Abs().Neg(),
		EntryDate: time.Now(),
		Reference: reference,
	}
	return db.Create(&entry).Error
}

// RefundRequest is a category-scoped refund against one payment, outside
// the full rejection cascade.
type RefundRequest struct {
	RentalID  uint
	PaymentID uint
	Category  string
	Amount    decimal.Decimal
	Reason    string
}

// RequestRefund validates the request against the ledger, then refunds via
// the processor and appends the compensating entry. Validation failures
// produce zero side effects.
func (s *LedgerService) RequestRefund(ctx context.Context, gw ProcessorGateway, req RefundRequest) error {
	if !req.Amount.IsPositive() {
		return ErrRefundExceedsAvailable
	}
	available, err := s.AvailableForRefund(req.RentalID, req.Category)
	if err != nil {
		return err
	}
	if available.LessThanOrEqual(decimal.Zero) || req.Amount.GreaterThan(available) {
		return ErrRefundExceedsAvailable
	}

	var payment models.Payment
	if err := s.db.First(&payment, req.PaymentID).Error; err != nil {
		return err
	}
	if payment.ProcessorIntentRef == "" {
		return errors.New("payment has no processor reference to refund against")
	}

	refundRef, err := gw.CreateRefund(ctx, payment.ProcessorIntentRef, req.Amount, req.Reason)
	if err != nil {
		return err
	}

	now := time.Now()
	status := models.PaymentStatusPartialRefund
	captureStatus := models.CaptureStatusPartialRefund
	if payment.RefundAmount.Add(req.Amount).GreaterThanOrEqual(payment.Amount) {
		status = models.PaymentStatusRefunded
		captureStatus = models.CaptureStatusRefunded
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":              status,
			"capture_status":      captureStatus,
			"refund_amount":       payment.RefundAmount.Add(req.Amount),
			"refund_reason":       req.Reason,
			"refund_ref":          refundRef,
			"refund_processed_at": &now,
		}
		if err := tx.Model(&payment).Updates(updates).Error; err != nil {
			return err
		}
		return s.AppendRefund(tx, req.RentalID, req.Category, req.Amount, refundRef)
	})
}
