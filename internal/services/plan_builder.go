package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

var (
	// ErrPlanExists means the rental already carries a pending/active/overdue
	// plan. Rejected before any row is created.
	ErrPlanExists = errors.New("rental already has an open installment plan")
	// ErrInvalidInstallmentCount bounds plans to 2..12 installments
	ErrInvalidInstallmentCount = errors.New("installment count must be between 2 and 12")
	// ErrInvalidAmount rejects non-positive or inconsistent amounts
	ErrInvalidAmount = errors.New("invalid installment amount")
	// ErrUnsupportedSplit rejects a what_gets_split value the builder has no
	// splitting rule for.
	ErrUnsupportedSplit = errors.New("what_gets_split must be rental_total")
)

// nonTerminalPlanStatuses are the states that block a second plan per rental
var nonTerminalPlanStatuses = []models.PlanStatus{
	models.PlanStatusPending,
	models.PlanStatusActive,
	models.PlanStatusOverdue,
}

// BuildPlanInput is the financial breakdown the builder splits into a plan.
type BuildPlanInput struct {
	RentalID   uint
	TenantID   uint
	CustomerID uint

	PlanType         models.PlanType
	Count            int
	TotalInstallable decimal.Decimal
	UpfrontBase      decimal.Decimal // deposit + fees + delivery

	// FoldFirst charges installment #1 as part of the upfront checkout.
	// FirstAmount is its size; the remaining count-1 installments split the
	// rest evenly.
	FoldFirst   bool
	FirstAmount decimal.Decimal

	StartDate time.Time
	Config    models.PlanConfig
}

// ComputeInstallmentAmounts splits the installable total into count amounts
// summing to it exactly. Only the last installment absorbs the rounding
// remainder. With foldFirst the first amount is fixed and the rest split the
// remainder evenly.
func ComputeInstallmentAmounts(total decimal.Decimal, count int, foldFirst bool, firstAmount decimal.Decimal) ([]decimal.Decimal, error) {
	if count < 2 || count > 12 {
		return nil, ErrInvalidInstallmentCount
	}
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	scheduledTotal := total
	regularCount := count
	amounts := make([]decimal.Decimal, 0, count)

	if foldFirst {
		if !firstAmount.IsPositive() || firstAmount.GreaterThanOrEqual(total) {
			return nil, ErrInvalidAmount
		}
		amounts = append(amounts, firstAmount.Round(2))
		scheduledTotal = total.Sub(firstAmount)
		regularCount = count - 1
	}

	regular := scheduledTotal.Div(decimal.NewFromInt(int64(regularCount))).Round(2)
	for i := 0; i < regularCount-1; i++ {
		amounts = append(amounts, regular)
	}
	// Last installment absorbs the remainder so the sum is cent-exact.
	last := scheduledTotal.Sub(regular.Mul(decimal.NewFromInt(int64(regularCount - 1))))
	if !last.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amounts = append(amounts, last)

	return amounts, nil
}

// InstallmentDueDates steps the due dates from the rental start: 7 days per
// step for weekly plans, one calendar month for monthly.
func InstallmentDueDates(start time.Time, planType models.PlanType, count int) []time.Time {
	dates := make([]time.Time, count)
	for i := 0; i < count; i++ {
		if planType == models.PlanTypeWeekly {
			dates[i] = start.AddDate(0, 0, 7*i)
		} else {
			dates[i] = start.AddDate(0, i, 0)
		}
	}
	return dates
}

// PlanBuilder computes and persists an installment plan with its ordered
// installments.
type PlanBuilder struct {
	db *gorm.DB
}

func NewPlanBuilder(db *gorm.DB) *PlanBuilder {
	return &PlanBuilder{db: db}
}

// BuildPlan validates, splits, and persists the plan plus its installments
// in one transaction. The plan starts pending; checkout activates it.
func (b *PlanBuilder) BuildPlan(in BuildPlanInput) (*models.InstallmentPlan, error) {
	switch in.Config.WhatGetsSplit {
	case "":
		in.Config.WhatGetsSplit = models.SplitRentalTotal
	case models.SplitRentalTotal:
	default:
		return nil, ErrUnsupportedSplit
	}

	amounts, err := ComputeInstallmentAmounts(in.TotalInstallable, in.Count, in.FoldFirst, in.FirstAmount)
	if err != nil {
		return nil, err
	}

	dueDates := InstallmentDueDates(in.StartDate, in.PlanType, in.Count)

	// The regular amount shown on the plan is the evenly split one, not the
	// folded first installment.
	regularIdx := 0
	if in.FoldFirst {
		regularIdx = 1
	}

	plan := &models.InstallmentPlan{
		RentalID:             in.RentalID,
		TenantID:             in.TenantID,
		CustomerID:           in.CustomerID,
		PlanType:             in.PlanType,
		NumberOfInstallments: in.Count,
		InstallmentAmount:    amounts[regularIdx],
		UpfrontAmount:        in.UpfrontBase,
		TotalInstallable:     in.TotalInstallable,
		TotalPaid:            decimal.Zero,
		Status:               models.PlanStatusPending,
		Config:               in.Config,
	}
	if in.FoldFirst {
		plan.UpfrontAmount = in.UpfrontBase.Add(in.FirstAmount)
	}

	// First due the scheduler will touch: #2 when #1 is folded into checkout.
	firstScheduled := 0
	if in.FoldFirst && in.Count > 1 {
		firstScheduled = 1
	}
	next := dueDates[firstScheduled]
	plan.NextDueDate = &next

	err = b.db.Transaction(func(tx *gorm.DB) error {
		// The open-plan guard runs inside the same transaction as the
		// insert, so two concurrent builders cannot both pass the check and
		// commit.
		var open int64
		if err := tx.Model(&models.InstallmentPlan{}).
			Where("rental_id = ? AND status IN ?", in.RentalID, nonTerminalPlanStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrPlanExists
		}

		if err := tx.Create(plan).Error; err != nil {
			return err
		}
		for i, amount := range amounts {
			status := models.InstallmentStatusScheduled
			if i == 0 && in.FoldFirst {
				// Charged as part of checkout; the completion webhook marks
				// it paid.
				status = models.InstallmentStatusProcessing
			}
			inst := models.ScheduledInstallment{
				PlanID:            plan.ID,
				RentalID:          in.RentalID,
				CustomerID:        in.CustomerID,
				TenantID:          in.TenantID,
				InstallmentNumber: i + 1,
				Amount:            amount,
				DueDate:           dueDates[i],
				Status:            status,
			}
			if err := tx.Create(&inst).Error; err != nil {
				return fmt.Errorf("failed to create installment %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}
