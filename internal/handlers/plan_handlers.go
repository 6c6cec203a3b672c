package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
	"rentbill/internal/services"
)

type PlanHandler struct {
	db      *gorm.DB
	keys    services.ProcessorKeys
	builder *services.PlanBuilder
	vault   *services.VaultService
}

func NewPlanHandler(db *gorm.DB, keys services.ProcessorKeys) *PlanHandler {
	return &PlanHandler{
		db:      db,
		keys:    keys,
		builder: services.NewPlanBuilder(db),
		vault:   services.NewVaultService(db),
	}
}

// CreatePlan sets up an installment plan for a rental
func (h *PlanHandler) CreatePlan(c echo.Context) error {
	var req CreatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	var rental models.Rental
	if err := h.db.First(&rental, req.RentalID).Error; err != nil {
		return httpError(err)
	}

	planType := models.PlanType(req.PlanType)
	if planType != models.PlanTypeWeekly && planType != models.PlanTypeMonthly {
		return echo.NewHTTPError(http.StatusBadRequest, "plan_type must be weekly or monthly")
	}

	firstAmount := decimal.Zero
	if req.FoldFirst {
		var err error
		firstAmount, err = decimal.NewFromString(req.FirstAmount)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid first_amount")
		}
	}

	startDate := time.Now()
	if req.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		}
		startDate = parsed
	}

	cfg := models.PlanConfig{
		ChargeFirstUpfront: req.FoldFirst,
		WhatGetsSplit:      req.WhatGetsSplit,
		GracePeriodDays:    req.GracePeriodDays,
		MaxRetryAttempts:   req.MaxRetryAttempts,
		RetryIntervalDays:  req.RetryIntervalDays,
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.RetryIntervalDays <= 0 {
		cfg.RetryIntervalDays = 1
	}

	plan, err := h.builder.BuildPlan(services.BuildPlanInput{
		RentalID:         rental.ID,
		TenantID:         rental.TenantID,
		CustomerID:       rental.CustomerID,
		PlanType:         planType,
		Count:            req.Count,
		TotalInstallable: rental.RentalTotal,
		UpfrontBase:      rental.UpfrontAmount(),
		FoldFirst:        req.FoldFirst,
		FirstAmount:      firstAmount,
		StartDate:        startDate,
		Config:           cfg,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, plan)
}

// GetPlan returns a plan with its installment schedule
func (h *PlanHandler) GetPlan(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var plan models.InstallmentPlan
	if err := h.db.Preload("Installments", func(db *gorm.DB) *gorm.DB {
		return db.Order("installment_number ASC")
	}).First(&plan, id).Error; err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// ReplacePaymentMethod swaps the stored card token behind a plan
func (h *PlanHandler) ReplacePaymentMethod(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req ReplacePaymentMethodRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.NewTokenRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "new_token_ref is required")
	}

	var plan models.InstallmentPlan
	if err := h.db.First(&plan, id).Error; err != nil {
		return httpError(err)
	}

	tc := services.ResolveTenantContext(h.db, plan.TenantID, h.keys)
	gw, err := services.NewProcessorClient(tc)
	if err != nil {
		return httpError(err)
	}

	scope := services.ScopeSinglePlan
	if req.AllPlans {
		scope = services.ScopeAllOpenPlans
	}
	if err := h.vault.ReplacePaymentMethod(c.Request().Context(), gw, services.ReplacePaymentMethodInput{
		CustomerID:  plan.CustomerID,
		PlanID:      plan.ID,
		NewTokenRef: req.NewTokenRef,
		Scope:       scope,
	}); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"status": "updated"})
}
