package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InstallmentStatus represents the state of a single scheduled installment
type InstallmentStatus string

const (
	InstallmentStatusScheduled  InstallmentStatus = "scheduled"
	InstallmentStatusProcessing InstallmentStatus = "processing"
	InstallmentStatusPaid       InstallmentStatus = "paid"
	InstallmentStatusFailed     InstallmentStatus = "failed"
	InstallmentStatusCancelled  InstallmentStatus = "cancelled"
)

// installmentTransitions is the single source of truth for legal status
// changes. Cancellation of non-paid installments happens only through plan
// cancellation, which is still a row in this table.
var installmentTransitions = map[InstallmentStatus][]InstallmentStatus{
	InstallmentStatusScheduled:  {InstallmentStatusProcessing, InstallmentStatusCancelled},
	InstallmentStatusProcessing: {InstallmentStatusPaid, InstallmentStatusFailed, InstallmentStatusScheduled, InstallmentStatusCancelled},
	InstallmentStatusFailed:     {InstallmentStatusProcessing, InstallmentStatusCancelled},
}

// CanTransition reports whether from -> to is a legal installment move.
// processing -> scheduled exists only for the payoff revert path.
func CanTransition(from, to InstallmentStatus) bool {
	for _, next := range installmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ScheduledInstallment is one dated slice of a plan's installable amount.
type ScheduledInstallment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PlanID     uint `gorm:"uniqueIndex:idx_plan_installment_no,priority:1" json:"plan_id"`
	RentalID   uint `gorm:"index" json:"rental_id"`
	CustomerID uint `gorm:"index" json:"customer_id"`
	TenantID   uint `gorm:"index" json:"tenant_id"`

	InstallmentNumber int               `gorm:"uniqueIndex:idx_plan_installment_no,priority:2" json:"installment_number"`
	Amount            decimal.Decimal   `gorm:"type:decimal(15,2)" json:"amount"`
	DueDate           time.Time         `gorm:"index" json:"due_date"`
	Status            InstallmentStatus `gorm:"type:varchar(20);index" json:"status"`

	FailureCount      int        `gorm:"default:0" json:"failure_count"`
	LastFailureReason string     `gorm:"type:text" json:"last_failure_reason"`
	LastAttemptedAt   *time.Time `json:"last_attempted_at"`

	ProcessorPaymentRef string `gorm:"type:varchar(100)" json:"processor_payment_ref"`
	ProcessorChargeRef  string `gorm:"type:varchar(100)" json:"processor_charge_ref"`

	// Relationships
	Plan InstallmentPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// RetryEligible reports whether a failed installment may be charged again:
// attempts not exhausted and the retry interval elapsed since the last try.
func (i ScheduledInstallment) RetryEligible(cfg PlanConfig, now time.Time) bool {
	if i.Status != InstallmentStatusFailed {
		return false
	}
	if i.FailureCount >= cfg.MaxRetryAttempts {
		return false
	}
	if i.LastAttemptedAt == nil {
		return true
	}
	return now.Sub(*i.LastAttemptedAt) >= time.Duration(cfg.RetryIntervalDays)*24*time.Hour
}

// RetriesExhausted reports whether the installment has burned every attempt.
func (i ScheduledInstallment) RetriesExhausted(cfg PlanConfig) bool {
	return i.FailureCount >= cfg.MaxRetryAttempts
}
