package services

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbill/internal/models"
)

// EmailService sends plain SMTP mail. Used only by the notification tasks.
type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     os.Getenv("EMAIL_FROM"),
	}
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", to[0], subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, to, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// Task names picked up by the worker's notification task handlers.
const (
	TaskSendReceipt        = "send_receipt"
	TaskSendPaymentFailure = "send_payment_failure"
)

// NotificationService enqueues receipt/failure notices as one-time worker
// tasks. Every method is best-effort: enqueue failures are logged and never
// propagate into payment state.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

func (s *NotificationService) enqueue(taskName string, args map[string]interface{}) {
	task := models.ScheduledTask{
		TaskName:   taskName,
		Arguments:  args,
		Due:        time.Now(),
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: 3,
	}
	if err := s.db.Create(&task).Error; err != nil {
		log.Printf("Failed to enqueue %s notification: %v", taskName, err)
	}
}

// SendReceipt notifies the customer a charge landed
func (s *NotificationService) SendReceipt(customerID uint, rentalID uint, amount decimal.Decimal, reference string) {
	s.enqueue(TaskSendReceipt, map[string]interface{}{
		"customer_id": customerID,
		"rental_id":   rentalID,
		"amount":      amount.StringFixed(2),
		"reference":   reference,
	})
}

// SendPaymentFailure notifies the customer an installment charge failed
func (s *NotificationService) SendPaymentFailure(customerID uint, rentalID uint, amount decimal.Decimal, reason string) {
	s.enqueue(TaskSendPaymentFailure, map[string]interface{}{
		"customer_id": customerID,
		"rental_id":   rentalID,
		"amount":      amount.StringFixed(2),
		"reason":      reason,
	})
}
