package webhook

import (
	"fmt"
	"net/url"

	"notifyhub/internal/model"
)

// twilioStatus maps MessageStatus values to delivery statuses. Transient
// states map to sent; the webhook log still records the exact event type.
var twilioStatus = map[string]string{
	"queued":      model.DeliverySent,
	"sent":        model.DeliverySent,
	"delivered":   model.DeliveryDelivered,
	"failed":      model.DeliveryFailed,
	"undelivered": model.DeliveryFailed,
}

// ParseTwilio normalizes a Twilio-style form-encoded SMS status callback.
func ParseTwilio(body []byte) (*Event, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	sid := form.Get("MessageSid")
	if sid == "" {
		return nil, fmt.Errorf("%w: missing MessageSid", ErrMalformedPayload)
	}
	status := form.Get("MessageStatus")
	mapped, ok := twilioStatus[status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown MessageStatus %q", ErrMalformedPayload, status)
	}

	ev := &Event{
		Provider:   ProviderTwilio,
		EventType:  "sms." + status,
		ExternalID: sid,
		Status:     mapped,
		Recipient:  form.Get("To"),
	}
	if mapped == model.DeliveryFailed {
		if code := form.Get("ErrorCode"); code != "" {
			ev.ErrorCode = &code
		}
		if msg := form.Get("ErrorMessage"); msg != "" {
			ev.ErrorMessage = &msg
		}
	}
	return ev, nil
}
