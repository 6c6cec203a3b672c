package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rentbill/internal/models"
)

// BillingSummary is the cached operator dashboard snapshot
type BillingSummary struct {
	ActivePlans     int64 `json:"active_plans"`
	OverduePlans    int64 `json:"overdue_plans"`
	DueThisWeek     int64 `json:"due_this_week"`
	FailedRetryable int64 `json:"failed_retryable"`
	PendingManual   int64 `json:"pending_manual"`
}

// SummaryService aggregates operator-facing counts, cached briefly in Redis.
type SummaryService struct {
	db    *gorm.DB
	cache *RedisCache
}

func NewSummaryService(db *gorm.DB, cache *RedisCache) *SummaryService {
	return &SummaryService{db: db, cache: cache}
}

const summaryCacheKey = "rentbill:billing-summary"

// Summary returns the dashboard counts, serving from cache when warm.
func (s *SummaryService) Summary(ctx context.Context) (BillingSummary, error) {
	if s.cache == nil {
		return s.compute()
	}
	return GetOrSet(s.cache, ctx, summaryCacheKey, time.Minute, s.compute)
}

func (s *SummaryService) compute() (BillingSummary, error) {
	var out BillingSummary
	now := time.Now()

	if err := s.db.Model(&models.InstallmentPlan{}).
		Where("status = ?", models.PlanStatusActive).Count(&out.ActivePlans).Error; err != nil {
		return out, err
	}
	if err := s.db.Model(&models.InstallmentPlan{}).
		Where("status = ?", models.PlanStatusOverdue).Count(&out.OverduePlans).Error; err != nil {
		return out, err
	}
	if err := s.db.Model(&models.ScheduledInstallment{}).
		Where("status = ? AND due_date BETWEEN ? AND ?", models.InstallmentStatusScheduled, now, now.AddDate(0, 0, 7)).
		Count(&out.DueThisWeek).Error; err != nil {
		return out, err
	}
	if err := s.db.Model(&models.ScheduledInstallment{}).
		Where("status = ?", models.InstallmentStatusFailed).Count(&out.FailedRetryable).Error; err != nil {
		return out, err
	}
	if err := s.db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusPendingManual).Count(&out.PendingManual).Error; err != nil {
		return out, err
	}
	return out, nil
}
