// Package maintenance holds the CMMS domain types shared by the store, the
// recurrence engine and the notification layer: calendar dates, schedules,
// work order templates and generated work orders.
//
// Enumerations (frequency unit, priority, status) are closed string types.
// They are converted from free-form input only through the Parse* helpers.
package maintenance
