// Package notifier is the notification gateway of the maintenance engine.
//
// A notification is a subject and a plain-text body sent to a list of
// recipient addresses. Each address selects its channel by scheme:
//
//	telegram:<chat_id>[/<thread_id>]   Telegram chat or forum topic
//	user@example.com, mailto:...       email over SMTP
//	log:<label>                        written to the log only
//
// # Delivery
//
// Deliveries share one token-bucket rate limiter and are retried with
// jittered exponential backoff. A send succeeds only when every recipient
// was reached; the engine leaves the reminder pending otherwise and the next
// cycle tries again.
//
// # History
//
// The service keeps the last 300 delivery outcomes in memory for /status.
package notifier
