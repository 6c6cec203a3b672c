package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rentbill/internal/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeInstallmentAmounts(t *testing.T) {
	tests := []struct {
		name        string
		total       string
		count       int
		foldFirst   bool
		firstAmount string
		want        []string
		wantErr     error
	}{
		{
			name:  "even split",
			total: "300.00", count: 3,
			want: []string{"100", "100", "100"},
		},
		{
			name:  "last absorbs rounding remainder",
			total: "100.00", count: 3,
			want: []string{"33.33", "33.33", "33.34"},
		},
		{
			name:  "fold first fixes the first amount",
			total: "300.00", count: 3, foldFirst: true, firstAmount: "50.00",
			want: []string{"50", "125", "125"},
		},
		{
			name:  "fold first with uneven remainder",
			total: "500.00", count: 4, foldFirst: true, firstAmount: "100.00",
			want: []string{"100", "133.33", "133.33", "133.34"},
		},
		{
			name:  "count below minimum",
			total: "300.00", count: 1,
			wantErr: ErrInvalidInstallmentCount,
		},
		{
			name:  "count above maximum",
			total: "300.00", count: 13,
			wantErr: ErrInvalidInstallmentCount,
		},
		{
			name:  "zero total",
			total: "0.00", count: 3,
			wantErr: ErrInvalidAmount,
		},
		{
			name:  "folded first swallows the whole total",
			total: "300.00", count: 3, foldFirst: true, firstAmount: "300.00",
			wantErr: ErrInvalidAmount,
		},
		{
			name:  "folded first must be positive",
			total: "300.00", count: 3, foldFirst: true, firstAmount: "0.00",
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := decimal.Zero
			if tt.firstAmount != "" {
				first = d(tt.firstAmount)
			}
			got, err := ComputeInstallmentAmounts(d(tt.total), tt.count, tt.foldFirst, first)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ComputeInstallmentAmounts() error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeInstallmentAmounts() unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d amounts; want %d", len(got), len(tt.want))
			}
			sum := decimal.Zero
			for i, w := range tt.want {
				if !got[i].Equal(d(w)) {
					t.Errorf("amount[%d] = %s; want %s", i, got[i], w)
				}
				sum = sum.Add(got[i])
			}
			if !sum.Equal(d(tt.total)) {
				t.Errorf("amounts sum to %s; want %s", sum, tt.total)
			}
		})
	}
}

func TestInstallmentDueDates(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("monthly steps one calendar month", func(t *testing.T) {
		got := InstallmentDueDates(start, models.PlanTypeMonthly, 3)
		want := []time.Time{
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		}
		for i := range want {
			if !got[i].Equal(want[i]) {
				t.Errorf("due[%d] = %s; want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("weekly steps seven days", func(t *testing.T) {
		got := InstallmentDueDates(start, models.PlanTypeWeekly, 4)
		for i := 1; i < len(got); i++ {
			if got[i].Sub(got[i-1]) != 7*24*time.Hour {
				t.Errorf("gap between due[%d] and due[%d] = %s; want 168h", i-1, i, got[i].Sub(got[i-1]))
			}
		}
		if !got[0].Equal(start) {
			t.Errorf("due[0] = %s; want start date %s", got[0], start)
		}
	})
}

func TestBuildPlanRejectsSecondOpenPlan(t *testing.T) {
	db := newTestDB(t)
	b := NewPlanBuilder(db)
	in := BuildPlanInput{
		RentalID:         7,
		TenantID:         1,
		CustomerID:       1,
		PlanType:         models.PlanTypeMonthly,
		Count:            3,
		TotalInstallable: d("300.00"),
		StartDate:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	first, err := b.BuildPlan(in)
	if err != nil {
		t.Fatalf("BuildPlan() error: %v", err)
	}
	if first.Status != models.PlanStatusPending {
		t.Errorf("plan status = %s; want pending", first.Status)
	}

	if _, err := b.BuildPlan(in); !errors.Is(err, ErrPlanExists) {
		t.Errorf("second BuildPlan() = %v; want ErrPlanExists", err)
	}

	var count int64
	db.Model(&models.InstallmentPlan{}).Where("rental_id = ?", in.RentalID).Count(&count)
	if count != 1 {
		t.Errorf("plans for rental = %d; want 1", count)
	}
}

func TestBuildPlanSplitConfig(t *testing.T) {
	db := newTestDB(t)
	b := NewPlanBuilder(db)
	in := BuildPlanInput{
		RentalID:         8,
		TenantID:         1,
		CustomerID:       1,
		PlanType:         models.PlanTypeWeekly,
		Count:            2,
		TotalInstallable: d("200.00"),
		StartDate:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	plan, err := b.BuildPlan(in)
	if err != nil {
		t.Fatalf("BuildPlan() error: %v", err)
	}
	if plan.Config.WhatGetsSplit != models.SplitRentalTotal {
		t.Errorf("WhatGetsSplit = %q; want %q", plan.Config.WhatGetsSplit, models.SplitRentalTotal)
	}

	in.RentalID = 9
	in.Config.WhatGetsSplit = "usage_based"
	if _, err := b.BuildPlan(in); !errors.Is(err, ErrUnsupportedSplit) {
		t.Errorf("BuildPlan() with unknown split = %v; want ErrUnsupportedSplit", err)
	}
}
