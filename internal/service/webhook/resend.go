package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"notifyhub/internal/model"
)

// resendPayload mirrors the Resend-style email callback body.
type resendPayload struct {
	Event string `json:"event"`
	Data  struct {
		EmailID        string     `json:"email_id"`
		To             string     `json:"to"`
		Timestamp      *time.Time `json:"timestamp"`
		BounceType     *string    `json:"bounce_type"`
		BounceSubtype  *string    `json:"bounce_subtype"`
		DiagnosticCode *string    `json:"diagnostic_code"`
		ComplaintType  *string    `json:"complaint_type"`
	} `json:"data"`
}

// resendStatus maps event types to delivery statuses. Events absent from the
// map (opened, clicked, delivery_delayed) are recorded without a transition.
var resendStatus = map[string]string{
	"email.sent":      model.DeliverySent,
	"email.delivered": model.DeliveryDelivered,
	"email.bounced":   model.DeliveryBounced,
	"email.failed":    model.DeliveryFailed,
}

// ParseResend normalizes a Resend-style JSON body into an Event.
func ParseResend(body []byte) (*Event, error) {
	var p resendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	if p.Data.EmailID == "" {
		return nil, fmt.Errorf("%w: missing data.email_id", ErrMalformedPayload)
	}

	ev := &Event{
		Provider:   ProviderResend,
		EventType:  p.Event,
		ExternalID: p.Data.EmailID,
		Status:     resendStatus[p.Event],
		OccurredAt: p.Data.Timestamp,
		Recipient:  p.Data.To,
	}

	switch p.Event {
	case "email.bounced":
		ev.BounceType = p.Data.BounceType
		ev.BounceSubtype = p.Data.BounceSubtype
		ev.ErrorMessage = p.Data.DiagnosticCode
	case "email.complained":
		ev.Complaint = true
		ev.ComplaintType = p.Data.ComplaintType
	}

	return ev, nil
}
