package services

import (
	"time"

	"gorm.io/gorm"

	"rentbill/internal/models"
)

// MarkInstallmentPaid applies the single idempotent "paid" transition:
// installment status, plan aggregates, and next_due_date move together in
// one transaction. Returns false when the installment was already paid with
// this charge reference, in which case nothing is touched.
func MarkInstallmentPaid(db *gorm.DB, installmentID uint, intentRef, chargeRef string) (bool, error) {
	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var inst models.ScheduledInstallment
		if err := tx.First(&inst, installmentID).Error; err != nil {
			return err
		}
		if inst.Status == models.InstallmentStatusPaid {
			// Re-delivered confirmation for a settled installment.
			return nil
		}

		res := tx.Model(&models.ScheduledInstallment{}).
			Where("id = ? AND status <> ?", installmentID, models.InstallmentStatusPaid).
			Updates(map[string]interface{}{
				"status":                models.InstallmentStatusPaid,
				"processor_payment_ref": intentRef,
				"processor_charge_ref":  chargeRef,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var plan models.InstallmentPlan
		if err := tx.First(&plan, inst.PlanID).Error; err != nil {
			return err
		}

		plan.PaidInstallments++
		plan.TotalPaid = plan.TotalPaid.Add(inst.Amount)

		// Recompute what the scheduler should look at next.
		var open []models.ScheduledInstallment
		if err := tx.Where("plan_id = ? AND status IN ?", plan.ID,
			[]models.InstallmentStatus{models.InstallmentStatusScheduled, models.InstallmentStatusFailed, models.InstallmentStatusProcessing}).
			Where("id <> ?", inst.ID).
			Order("due_date asc").Find(&open).Error; err != nil {
			return err
		}

		if len(open) == 0 {
			plan.Status = models.PlanStatusCompleted
			plan.NextDueDate = nil
		} else {
			next := open[0].DueDate
			plan.NextDueDate = &next
			if plan.Status == models.PlanStatusActive || plan.Status == models.PlanStatusOverdue {
				plan.Status = models.PlanStatusActive
				for _, o := range open {
					if o.Status == models.InstallmentStatusFailed && o.RetriesExhausted(plan.Config) {
						plan.Status = models.PlanStatusOverdue
						break
					}
				}
			}
		}

		return tx.Save(&plan).Error
	})
	return applied, err
}

// MarkInstallmentFailed records a failed charge attempt. When the attempt
// uses up the last allowed retry the plan flips to overdue: a human decides from
// there, nothing auto-retries or auto-cancels.
func MarkInstallmentFailed(db *gorm.DB, installmentID uint, reason string, attemptedAt time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var inst models.ScheduledInstallment
		if err := tx.First(&inst, installmentID).Error; err != nil {
			return err
		}

		inst.FailureCount++
		inst.Status = models.InstallmentStatusFailed
		inst.LastFailureReason = reason
		inst.LastAttemptedAt = &attemptedAt
		if err := tx.Save(&inst).Error; err != nil {
			return err
		}

		var plan models.InstallmentPlan
		if err := tx.First(&plan, inst.PlanID).Error; err != nil {
			return err
		}
		if inst.RetriesExhausted(plan.Config) && plan.Status == models.PlanStatusActive {
			return tx.Model(&plan).Update("status", models.PlanStatusOverdue).Error
		}
		return nil
	})
}

// ClaimInstallment is the single-writer guard: a conditional flip to
// processing executed before any network call. Only the caller that actually
// changed the row proceeds to charge.
func ClaimInstallment(db *gorm.DB, installmentID uint, from []models.InstallmentStatus) (bool, error) {
	res := db.Model(&models.ScheduledInstallment{}).
		Where("id = ? AND status IN ?", installmentID, from).
		Update("status", models.InstallmentStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RevertInstallment undoes a claim when the charge never happened, restoring
// the pre-claim status.
func RevertInstallment(db *gorm.DB, installmentID uint, prior models.InstallmentStatus) error {
	return db.Model(&models.ScheduledInstallment{}).
		Where("id = ? AND status = ?", installmentID, models.InstallmentStatusProcessing).
		Update("status", prior).Error
}
