package models

import "time"

// Webhook event kinds a subscriber can register for.
const (
	EventClick      = "click_event"
	EventInstall    = "install_event"
	EventConversion = "conversion_event"
)

// Webhook is a user-configured HTTP subscriber. Secret is generated
// server-side on create and never re-exposed after create/rotate.
type Webhook struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id,omitempty"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Secret      string            `json:"-"`
	Events      []string          `json:"events"`
	IsActive    bool              `json:"is_active"`
	MaxAttempts int               `json:"max_attempts"`
	TimeoutMS   int               `json:"timeout_ms"`
	Headers     map[string]string `json:"headers,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Subscribes reports whether the webhook is active and subscribed to event.
func (w *Webhook) Subscribes(event string) bool {
	if !w.IsActive {
		return false
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery is one append-only attempt log row for a (webhook, event)
// delivery, satisfying §4.4's "response capture" requirement.
type WebhookDelivery struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhook_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ResponseStatus int       `json:"response_status,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	Error          string    `json:"error,omitempty"`
	AttemptedAt    time.Time `json:"attempted_at"`
}
