// Package notify delivers crisis alerts to human responders. A Dispatcher
// walks an ordered list of channels and stops at the first provider that
// reports success.
package notify

import "context"

// Payload is an Event rendered for one provider.
type Payload map[string]string

// Payload keys understood by the bundled providers.
const (
	KeyMessage      = "message"
	KeyPhoneNumber  = "phone_number"
	KeyAlertID      = "alert_id"
	KeyUserName     = "user_name"
	KeyLocation     = "location"
	KeyReason       = "reason"
	KeyShortMessage = "short_message"
)

// Provider sends a payload through one external channel. Send reports
// delivery; it must not return errors or panic, failures are logged and
// surface as false.
type Provider interface {
	Name() string
	Send(ctx context.Context, p Payload) bool
}

// Event describes one escalation. It is never persisted.
type Event struct {
	ID           string
	UserName     string
	Reason       string
	Location     string
	ShortMessage string
}
