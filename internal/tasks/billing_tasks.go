package tasks

import (
	"context"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"rentbill/internal/models"
	"rentbill/internal/services"
)

func redisURL() string {
	return os.Getenv("REDIS_URL")
}

// ProcessDueInstallmentsTaskDef runs the recurring off-session charge pass.
// Scheduled as a daily recurring task; the worker re-arms it from its RRULE.
type ProcessDueInstallmentsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ProcessDueInstallmentsTaskDef) TaskID() string {
	return "process_due_installments"
}

// CreateTask builds the recurring ScheduledTask record for the charge run
func (t *ProcessDueInstallmentsTaskDef) CreateTask(firstRun time.Time, rruleStr string) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), map[string]interface{}{}, firstRun, &rruleStr, models.ScheduledTaskTypeRecurring, 1)
}

// HandleExecution executes one scheduler pass. The services are built fresh
// per run so tenant credentials are never carried across invocations.
func (t *ProcessDueInstallmentsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	keys := services.LoadProcessorKeys()

	var cache *services.RedisCache
	if url := redisURL(); url != "" {
		c, err := services.NewRedisCache(url)
		if err != nil {
			log.Printf("Charge run proceeding without Redis lock: %v", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}

	scheduler := services.NewSchedulerService(db, keys, cache)
	report, err := scheduler.RunDueCharges(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"processed":  report.Processed,
		"successful": report.Successful,
		"failed":     report.Failed,
		"dueCount":   report.DueCount,
		"retryCount": report.RetryCount,
	}, nil
}

// ProcessDueInstallmentsTask is the singleton instance of ProcessDueInstallmentsTaskDef
var ProcessDueInstallmentsTask = &ProcessDueInstallmentsTaskDef{}
