package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RentalStatus represents the lifecycle state of a rental
type RentalStatus string

const (
	RentalStatusPending   RentalStatus = "Pending"
	RentalStatusActive    RentalStatus = "Active"
	RentalStatusCompleted RentalStatus = "Completed"
	RentalStatusCancelled RentalStatus = "Cancelled"
)

// VehicleStatus represents the availability of a vehicle
type VehicleStatus string

const (
	VehicleStatusAvailable   VehicleStatus = "Available"
	VehicleStatusRented      VehicleStatus = "Rented"
	VehicleStatusMaintenance VehicleStatus = "Maintenance"
)

// Vehicle is the rented resource. Billing only ever flips its status back
// to Available when a rental is rejected; everything else lives upstream.
type Vehicle struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TenantID uint          `gorm:"index" json:"tenant_id"`
	Label    string        `gorm:"type:varchar(255)" json:"label"`
	Status   VehicleStatus `gorm:"type:varchar(30);default:'Available'" json:"status"`
}

// Rental carries the financial breakdown the plan builder splits up.
type Rental struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TenantID   uint `gorm:"index" json:"tenant_id"`
	CustomerID uint `gorm:"index" json:"customer_id"`
	VehicleID  uint `gorm:"index" json:"vehicle_id"`

	Status    RentalStatus `gorm:"type:varchar(30);default:'Pending'" json:"status"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`

	Deposit     decimal.Decimal `gorm:"type:decimal(15,2)" json:"deposit"`
	Fees        decimal.Decimal `gorm:"type:decimal(15,2)" json:"fees"`
	DeliveryFee decimal.Decimal `gorm:"type:decimal(15,2)" json:"delivery_fee"`
	RentalTotal decimal.Decimal `gorm:"type:decimal(15,2)" json:"rental_total"`

	// Relationships
	Vehicle  Vehicle   `gorm:"foreignKey:VehicleID" json:"vehicle,omitempty"`
	Payments []Payment `gorm:"foreignKey:RentalID" json:"payments,omitempty"`
}

// UpfrontAmount is what checkout charges regardless of any installment plan.
func (r Rental) UpfrontAmount() decimal.Decimal {
	return r.Deposit.Add(r.Fees).Add(r.DeliveryFee)
}
