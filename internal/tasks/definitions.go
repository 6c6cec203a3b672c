package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	// Register billing tasks
	RegisterHandler(ProcessDueInstallmentsTask.TaskID(), ProcessDueInstallmentsTask.HandleExecution)

	// Register notification tasks
	RegisterHandler(SendReceiptTask.TaskID(), SendReceiptTask.HandleExecution)
	RegisterHandler(SendPaymentFailureTask.TaskID(), SendPaymentFailureTask.HandleExecution)
}
