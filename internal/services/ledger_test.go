package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rentbill/internal/models"
)

func TestAvailableForRefund(t *testing.T) {
	entries := []models.LedgerEntry{
		// 300 charged, fully collected
		{Type: models.LedgerEntryCharge, Category: CategoryDeposit, Amount: d("300.00"), RemainingAmount: d("0.00")},
		// 150 charged, 50 still outstanding
		{Type: models.LedgerEntryCharge, Category: CategoryFees, Amount: d("150.00"), RemainingAmount: d("50.00")},
		// 100 already refunded off the deposit
		{Type: models.LedgerEntryRefund, Category: CategoryDeposit, Amount: d("-100.00")},
		// voided rows never count
		{Type: models.LedgerEntryCharge, Category: CategoryDeposit, Amount: d("500.00"), Voided: true},
	}

	tests := []struct {
		name     string
		category string
		want     string
	}{
		{"collected minus refunds", CategoryDeposit, "200"},
		{"residual reduces what was collected", CategoryFees, "100"},
		{"category with no history", CategoryDelivery, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AvailableForRefund(entries, tt.category)
			assert.True(t, got.Equal(d(tt.want)), "AvailableForRefund(%s) = %s; want %s", tt.category, got, tt.want)
		})
	}
}

func TestAvailableForRefundNeverExceedsCollected(t *testing.T) {
	// Refunds already issued for everything collected leave nothing.
	entries := []models.LedgerEntry{
		{Type: models.LedgerEntryCharge, Category: CategoryInstallment, Amount: d("100.00"), RemainingAmount: d("0.00")},
		{Type: models.LedgerEntryRefund, Category: CategoryInstallment, Amount: d("-100.00")},
	}

	got := AvailableForRefund(entries, CategoryInstallment)
	assert.True(t, got.IsZero(), "AvailableForRefund() = %s; want 0", got)
}
