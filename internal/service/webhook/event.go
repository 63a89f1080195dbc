package webhook

import (
	"errors"
	"time"
)

// Providers whose callbacks we accept.
const (
	ProviderResend = "resend"
	ProviderTwilio = "twilio"
)

// ErrMalformedPayload marks a payload that cannot be parsed into an Event.
// Handlers map it to 400 and the ingestor still writes a failed log row.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is the provider-neutral form of one webhook callback.
type Event struct {
	Provider   string
	EventType  string
	ExternalID string
	// Status is the delivery status the event maps to; empty means the
	// event carries no status transition (opens, clicks, delays).
	Status        string
	OccurredAt    *time.Time
	Recipient     string
	ErrorCode     *string
	ErrorMessage  *string
	BounceType    *string
	BounceSubtype *string
	ComplaintType *string
	// Complaint events keep the delivery in its current status and
	// trigger a follow-up notification instead.
	Complaint bool
}
