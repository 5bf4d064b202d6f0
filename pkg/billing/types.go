package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/oncoplus/pkg/processor"
)

// SubscriptionResult is the outcome of opening a subscription
type SubscriptionResult struct {
	Success        bool   `json:"success"`
	InitPoint      string `json:"init_point,omitempty"`
	SubscriptionID string `json:"subscription_id_mp,omitempty"`
	TransactionID  string `json:"internal_transaction_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// EventType is the kind of a processor notification
type EventType string

const (
	EventPayment                 EventType = "payment"
	EventSubscriptionPreapproval EventType = "subscription_preapproval"
)

// Event is an inbound processor notification. Only the type and resource id
// are used; the resource itself is always re-fetched.
type Event struct {
	Type   EventType `json:"type"`
	Action string    `json:"action,omitempty"`
	Data   EventData `json:"data"`
}

// EventData carries the notified resource id
type EventData struct {
	ID processor.ID `json:"id"`
}

// Key identifies a delivery for deduplication. The resource status the
// processor reported is part of the key: the same payment id is notified
// again on every state change and each change must be applied.
func (e Event) Key(status string) string {
	return fmt.Sprintf("%s:%s:%s", e.Type, e.Data.ID, status)
}

// ErrMalformedEvent is returned when neither the body nor the query string
// describe a notification
var ErrMalformedEvent = errors.New("malformed webhook notification")

// ParseEvent decodes a notification from the JSON body, falling back to the
// query string forms ?type=&data.id= and ?topic=&id=
func ParseEvent(body []byte, query url.Values) (Event, error) {
	var ev Event
	var bodyErr error
	if len(strings.TrimSpace(string(body))) > 0 {
		bodyErr = json.Unmarshal(body, &ev)
	}

	if ev.Type == "" {
		ev.Type = EventType(firstNonEmpty(query.Get("type"), query.Get("topic")))
	}
	if ev.Data.ID == "" {
		ev.Data.ID = processor.ID(firstNonEmpty(query.Get("data.id"), query.Get("id")))
	}

	if ev.Type == "" {
		if bodyErr != nil {
			return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, bodyErr)
		}
		return ev, ErrMalformedEvent
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Outcome describes what the reconciler did with an event
type Outcome string

const (
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeMissingReference Outcome = "missing_reference"
	OutcomeMiss             Outcome = "miss"
	OutcomeUnknownStatus    Outcome = "unknown_status"
	OutcomeUpdated          Outcome = "updated"
	OutcomeActivated        Outcome = "activated"
	OutcomeLogged           Outcome = "logged"
	OutcomeError            Outcome = "error"
)

// Processor is the subset of the processor client billing depends on
type Processor interface {
	Configured() bool
	CreatePreapproval(ctx context.Context, req *processor.PreapprovalRequest) (*processor.Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (*processor.Preapproval, error)
	GetPayment(ctx context.Context, id string) (*processor.Payment, error)
}

// ActivationNotifier is told when an enrollee's first payment is approved
type ActivationNotifier interface {
	NotifyActivation(ctx context.Context, enrolleeID string) error
}
