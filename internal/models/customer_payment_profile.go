package models

import (
	"time"

	"gorm.io/gorm"
)

// CustomerPaymentProfile maps a platform customer to a processor customer
// object. Created lazily on first payment, one per customer, never deleted
// by the billing engine.
type CustomerPaymentProfile struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CustomerID           uint   `gorm:"uniqueIndex" json:"customer_id"`
	Name                 string `gorm:"type:varchar(255)" json:"name"`
	Email                string `gorm:"type:varchar(255)" json:"email"`
	ProcessorCustomerRef string `gorm:"type:varchar(100)" json:"processor_customer_ref"`
}
