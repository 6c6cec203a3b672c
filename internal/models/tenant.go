package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMode selects which processor credentials a tenant's charges run under
type PaymentMode string

const (
	PaymentModeTest PaymentMode = "test"
	PaymentModeLive PaymentMode = "live"
)

// Tenant is an operator on the platform with its own processor configuration
type Tenant struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name        string      `gorm:"type:varchar(255)" json:"name"`
	PaymentMode PaymentMode `gorm:"type:varchar(20)" json:"payment_mode"` // empty means unset, treated as test

	// StripeAccountID is the tenant's merchant sub-account at the processor.
	// Funds route there only once onboarding is complete.
	StripeAccountID    string `gorm:"type:varchar(100)" json:"stripe_account_id"`
	OnboardingComplete bool   `gorm:"default:false" json:"onboarding_complete"`
}
