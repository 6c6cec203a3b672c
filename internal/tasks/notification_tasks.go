package tasks

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"rentbill/internal/models"
	"rentbill/internal/services"
)

// ReceiptArgs is the payload for a receipt or failure notice task
type ReceiptArgs struct {
	CustomerID uint   `json:"customer_id"`
	RentalID   uint   `json:"rental_id"`
	Amount     string `json:"amount"`
	Reference  string `json:"reference"`
	Reason     string `json:"reason"`
	Email      string `json:"email"`
}

// SendReceiptTaskDef delivers a payment receipt by email. Delivery failures
// only ever fail the task; payment state is settled long before this runs.
type SendReceiptTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendReceiptTaskDef) TaskID() string {
	return services.TaskSendReceipt
}

// HandleExecution sends the receipt email
func (t *SendReceiptTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args ReceiptArgs
	if err := DecodeArgs(task, &args); err != nil {
		return nil, err
	}

	email, err := lookupCustomerEmail(db, args)
	if err != nil {
		// No address on file is a skip, not a failure.
		log.Printf("Receipt for rental %d skipped: %v", args.RentalID, err)
		return map[string]interface{}{"status": "skipped"}, nil
	}

	subject := fmt.Sprintf("Payment received for rental #%d", args.RentalID)
	body := fmt.Sprintf("We received your payment of $%s for rental #%d.\nReference: %s\n",
		args.Amount, args.RentalID, args.Reference)

	if err := services.NewEmailService().SendEmail([]string{email}, subject, body); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "sent", "to": email}, nil
}

// SendReceiptTask is the singleton instance of SendReceiptTaskDef
var SendReceiptTask = &SendReceiptTaskDef{}

// SendPaymentFailureTaskDef tells the customer an installment charge failed
// so they can update their card before retries run out.
type SendPaymentFailureTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendPaymentFailureTaskDef) TaskID() string {
	return services.TaskSendPaymentFailure
}

// HandleExecution sends the failure notice email
func (t *SendPaymentFailureTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	var args ReceiptArgs
	if err := DecodeArgs(task, &args); err != nil {
		return nil, err
	}

	email, err := lookupCustomerEmail(db, args)
	if err != nil {
		log.Printf("Failure notice for rental %d skipped: %v", args.RentalID, err)
		return map[string]interface{}{"status": "skipped"}, nil
	}

	subject := fmt.Sprintf("Payment problem on rental #%d", args.RentalID)
	body := fmt.Sprintf("A scheduled payment of $%s for rental #%d could not be processed: %s.\n"+
		"Please update your payment method to avoid interruption.\n",
		args.Amount, args.RentalID, args.Reason)

	if err := services.NewEmailService().SendEmail([]string{email}, subject, body); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "sent", "to": email}, nil
}

// SendPaymentFailureTask is the singleton instance of SendPaymentFailureTaskDef
var SendPaymentFailureTask = &SendPaymentFailureTaskDef{}

// lookupCustomerEmail resolves the recipient, preferring the address passed
// by the enqueueing flow and falling back to the stored payment profile.
func lookupCustomerEmail(db *gorm.DB, args ReceiptArgs) (string, error) {
	if args.Email != "" {
		return args.Email, nil
	}
	var profile models.CustomerPaymentProfile
	if err := db.Where("customer_id = ?", args.CustomerID).First(&profile).Error; err == nil && profile.Email != "" {
		return profile.Email, nil
	}
	return "", fmt.Errorf("no email on record for customer %d", args.CustomerID)
}
