package recurrence

import (
	"fmt"
	"strings"

	"cmmsd/internal/maintenance"
)

// NewOrderMessage renders the notice sent when a scheduled instance is created.
func NewOrderMessage(wo maintenance.WorkOrder) (subject, body string) {
	subject = "New Scheduled Work Order: " + wo.Title
	body = "A new scheduled work order has been generated:\n\n" +
		workOrderLines(wo) +
		"\nPlease log into the CMMS system to view the full details."
	return subject, body
}

// ReminderMessage renders the one-shot "due soon" reminder.
func ReminderMessage(r Reminder) (subject, body string) {
	wo := r.WorkOrder
	subject = "Upcoming Work Order Due: " + wo.Title
	var when string
	switch r.DaysLeft {
	case 0:
		when = "today"
	case 1:
		when = "tomorrow"
	default:
		when = fmt.Sprintf("in %d days", r.DaysLeft)
	}
	body = "Reminder: The following work order is due soon:\n\n" +
		workOrderLines(wo) +
		fmt.Sprintf("Due: %s\n", when) +
		"\nPlease ensure this work order is completed on time."
	return subject, body
}

func workOrderLines(wo maintenance.WorkOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", wo.Title)
	if wo.EquipmentID != nil {
		fmt.Fprintf(&b, "Equipment: #%d\n", *wo.EquipmentID)
	} else {
		b.WriteString("Equipment: N/A\n")
	}
	fmt.Fprintf(&b, "Priority: %s\n", wo.Priority)
	fmt.Fprintf(&b, "Due Date: %s\n", wo.DueDate)
	return b.String()
}
