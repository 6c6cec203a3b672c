package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from InstallmentStatus
		to   InstallmentStatus
		want bool
	}{
		{"scheduled to processing", InstallmentStatusScheduled, InstallmentStatusProcessing, true},
		{"scheduled to cancelled", InstallmentStatusScheduled, InstallmentStatusCancelled, true},
		{"scheduled straight to paid", InstallmentStatusScheduled, InstallmentStatusPaid, false},
		{"processing to paid", InstallmentStatusProcessing, InstallmentStatusPaid, true},
		{"processing to failed", InstallmentStatusProcessing, InstallmentStatusFailed, true},
		{"processing back to scheduled", InstallmentStatusProcessing, InstallmentStatusScheduled, true},
		{"failed to processing", InstallmentStatusFailed, InstallmentStatusProcessing, true},
		{"failed to cancelled", InstallmentStatusFailed, InstallmentStatusCancelled, true},
		{"failed straight to paid", InstallmentStatusFailed, InstallmentStatusPaid, false},
		{"paid is terminal", InstallmentStatusPaid, InstallmentStatusScheduled, false},
		{"cancelled is terminal", InstallmentStatusCancelled, InstallmentStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v; want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRetryEligible(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	twoDaysAgo := now.AddDate(0, 0, -2)
	oneHourAgo := now.Add(-time.Hour)
	cfg := PlanConfig{MaxRetryAttempts: 3, RetryIntervalDays: 1}

	tests := []struct {
		name string
		inst ScheduledInstallment
		want bool
	}{
		{
			name: "failed twice, interval elapsed",
			inst: ScheduledInstallment{Status: InstallmentStatusFailed, FailureCount: 2, LastAttemptedAt: &twoDaysAgo},
			want: true,
		},
		{
			name: "attempts exhausted",
			inst: ScheduledInstallment{Status: InstallmentStatusFailed, FailureCount: 3, LastAttemptedAt: &twoDaysAgo},
			want: false,
		},
		{
			name: "interval not yet elapsed",
			inst: ScheduledInstallment{Status: InstallmentStatusFailed, FailureCount: 1, LastAttemptedAt: &oneHourAgo},
			want: false,
		},
		{
			name: "failed with no recorded attempt time",
			inst: ScheduledInstallment{Status: InstallmentStatusFailed, FailureCount: 1},
			want: true,
		},
		{
			name: "not in failed state",
			inst: ScheduledInstallment{Status: InstallmentStatusScheduled, FailureCount: 1, LastAttemptedAt: &twoDaysAgo},
			want: false,
		},
		{
			name: "paid installments never retry",
			inst: ScheduledInstallment{Status: InstallmentStatusPaid, FailureCount: 2, LastAttemptedAt: &twoDaysAgo},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inst.RetryEligible(cfg, now); got != tt.want {
				t.Errorf("RetryEligible() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestRetriesExhausted(t *testing.T) {
	cfg := PlanConfig{MaxRetryAttempts: 3}

	if (ScheduledInstallment{FailureCount: 2}).RetriesExhausted(cfg) {
		t.Error("RetriesExhausted() = true with 2 of 3 attempts used")
	}
	if !(ScheduledInstallment{FailureCount: 3}).RetriesExhausted(cfg) {
		t.Error("RetriesExhausted() = false with all 3 attempts used")
	}
}
