package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlanType is the billing cadence of an installment plan
type PlanType string

const (
	PlanTypeWeekly  PlanType = "weekly"
	PlanTypeMonthly PlanType = "monthly"
)

// PlanStatus represents the lifecycle state of an installment plan
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusOverdue   PlanStatus = "overdue"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the plan can no longer change.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusCancelled
}

// SplitRentalTotal splits the rental total into installments while the
// deposit, fees, and delivery are collected upfront. The only splitting rule
// implemented so far; WhatGetsSplit records it per plan so existing plans
// keep their rule if more are added.
const SplitRentalTotal = "rental_total"

// PlanConfig captures the knobs a tenant sets per plan. Embedded so the
// scheduler and payoff service read them off the plan row they already hold.
type PlanConfig struct {
	ChargeFirstUpfront bool   `gorm:"default:false" json:"charge_first_upfront"`
	WhatGetsSplit      string `gorm:"type:varchar(50);default:'rental_total'" json:"what_gets_split"`
	GracePeriodDays    int    `gorm:"default:0" json:"grace_period_days"`
	MaxRetryAttempts   int    `gorm:"default:3" json:"max_retry_attempts"`
	RetryIntervalDays  int    `gorm:"default:1" json:"retry_interval_days"`
}

// InstallmentPlan splits a rental's installable amount into N scheduled
// charges against a stored payment method.
type InstallmentPlan struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RentalID   uint `gorm:"index" json:"rental_id"`
	TenantID   uint `gorm:"index" json:"tenant_id"`
	CustomerID uint `gorm:"index" json:"customer_id"`

	PlanType             PlanType        `gorm:"type:varchar(20)" json:"plan_type"`
	NumberOfInstallments int             `json:"number_of_installments"`
	InstallmentAmount    decimal.Decimal `gorm:"type:decimal(15,2)" json:"installment_amount"`
	UpfrontAmount        decimal.Decimal `gorm:"type:decimal(15,2)" json:"upfront_amount"`
	TotalInstallable     decimal.Decimal `gorm:"type:decimal(15,2)" json:"total_installable_amount"`
	PaidInstallments     int             `gorm:"default:0" json:"paid_installments"`
	TotalPaid            decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"total_paid"`
	UpfrontPaid          bool            `gorm:"default:false" json:"upfront_paid"`

	ProcessorCustomerRef      string `gorm:"type:varchar(100)" json:"processor_customer_ref"`
	ProcessorPaymentMethodRef string `gorm:"type:varchar(100)" json:"processor_payment_method_ref"`

	Status      PlanStatus `gorm:"type:varchar(20);index" json:"status"`
	NextDueDate *time.Time `json:"next_due_date"`

	Config PlanConfig `gorm:"embedded" json:"config"`

	// Relationships
	Rental       Rental                 `gorm:"foreignKey:RentalID" json:"rental,omitempty"`
	Installments []ScheduledInstallment `gorm:"foreignKey:PlanID" json:"installments,omitempty"`
}
