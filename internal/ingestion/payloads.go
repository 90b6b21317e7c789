package ingestion

import (
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	apperrors "hookgate/pkg/errors"
)

// Payload is the typed body of a verified webhook. Each sender has exactly
// one variant.
type Payload interface {
	source() string
}

// ParsedEvent is the validated internal view of a webhook body. The raw bytes
// stay with the ledger and DLQ records.
type ParsedEvent struct {
	WebhookID  string
	EventType  string
	OccurredAt *time.Time
	// Email identifies the contact the event belongs to. Empty when the
	// sender did not include one.
	Email   string
	Payload Payload
	// Fields is the decoded top-level JSON object, used by accept rules.
	Fields map[string]interface{}
}

// StripeEvent covers the payment processor's event envelope.
type StripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object StripeObject `json:"object"`
	} `json:"data"`
}

type StripeObject struct {
	ID              string `json:"id"`
	Object          string `json:"object"`
	Amount          int64  `json:"amount"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	ReceiptEmail    string `json:"receipt_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	BillingDetails *struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Address *struct {
			Country string `json:"country"`
		} `json:"address"`
	} `json:"billing_details"`
}

func (StripeEvent) source() string { return SourceStripe }

func (e StripeEvent) email() string {
	o := e.Data.Object
	switch {
	case o.CustomerEmail != "":
		return o.CustomerEmail
	case o.ReceiptEmail != "":
		return o.ReceiptEmail
	case o.CustomerDetails != nil && o.CustomerDetails.Email != "":
		return o.CustomerDetails.Email
	case o.BillingDetails != nil && o.BillingDetails.Email != "":
		return o.BillingDetails.Email
	}
	return ""
}

func (e StripeEvent) country() string {
	o := e.Data.Object
	if o.BillingDetails != nil && o.BillingDetails.Address != nil {
		return o.BillingDetails.Address.Country
	}
	return ""
}

// TicketTailorEvent covers the ticketing platform's order and issued ticket
// notifications.
type TicketTailorEvent struct {
	ID        string            `json:"id"`
	Event     string            `json:"event"`
	CreatedAt int64             `json:"created_at"`
	Payload   TicketTailorOrder `json:"payload"`
}

type TicketTailorOrder struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Status   string `json:"status"`
	Total    int64  `json:"total"`
	Currency *struct {
		Code string `json:"code"`
	} `json:"currency"`
	BuyerDetails *struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Address   *struct {
			Country string `json:"country"`
		} `json:"address"`
	} `json:"buyer_details"`
	EventSummary *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"event_summary"`
}

func (TicketTailorEvent) source() string { return SourceTicketTailor }

func (e TicketTailorEvent) email() string {
	if e.Payload.BuyerDetails != nil {
		return e.Payload.BuyerDetails.Email
	}
	return ""
}

func (e TicketTailorEvent) country() string {
	if b := e.Payload.BuyerDetails; b != nil && b.Address != nil {
		return b.Address.Country
	}
	return ""
}

// ThinkificEvent covers the course platform's resource/action envelope.
type ThinkificEvent struct {
	ID        string `json:"id"`
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	CreatedAt string `json:"created_at"`
	Payload   struct {
		User *struct {
			ID        int64  `json:"id"`
			Email     string `json:"email"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"user"`
		Email  string `json:"email"`
		Course *struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"course"`
		AmountDollars string `json:"amount_dollars"`
	} `json:"payload"`
}

func (ThinkificEvent) source() string { return SourceThinkific }

func (e ThinkificEvent) email() string {
	if e.Payload.User != nil && e.Payload.User.Email != "" {
		return e.Payload.User.Email
	}
	return e.Payload.Email
}

func decode(body []byte, v interface{}) (map[string]interface{}, error) {
	if err := json.Unmarshal(body, v); err != nil {
		return nil, apperrors.ErrInvalidPayload.WithCause(err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apperrors.ErrInvalidPayload.WithCause(err)
	}
	return fields, nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.ErrMissingRequiredField.
			WithDetail("field", name).
			WithMessage("missing required field: " + name)
	}
	return nil
}

// normalizeEmail validates and lowercases an address. An empty address is
// returned as is; the caller decides what a missing contact means.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", apperrors.ErrInvalidEmail.WithDetail("field", "email")
	}
	return strings.ToLower(addr.Address), nil
}

// validateCountry accepts empty or ISO 3166-1 alpha-2 codes.
func validateCountry(code string) error {
	if code == "" {
		return nil
	}
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return apperrors.ErrInvalidCountryCode.WithDetail("country", code)
	}
	return nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func parseStripe(body []byte) (*ParsedEvent, error) {
	var ev StripeEvent
	fields, err := decode(body, &ev)
	if err != nil {
		return nil, err
	}
	if err := requireField("id", ev.ID); err != nil {
		return nil, err
	}
	if err := requireField("type", ev.Type); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(ev.email())
	if err != nil {
		return nil, err
	}
	if err := validateCountry(ev.country()); err != nil {
		return nil, err
	}

	return &ParsedEvent{
		WebhookID:  ev.ID,
		EventType:  ev.Type,
		OccurredAt: unixPtr(ev.Created),
		Email:      email,
		Payload:    ev,
		Fields:     fields,
	}, nil
}

func parseTicketTailor(body []byte) (*ParsedEvent, error) {
	var ev TicketTailorEvent
	fields, err := decode(body, &ev)
	if err != nil {
		return nil, err
	}
	if err := requireField("event", ev.Event); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(ev.email())
	if err != nil {
		return nil, err
	}
	if err := validateCountry(ev.country()); err != nil {
		return nil, err
	}

	return &ParsedEvent{
		WebhookID:  ev.ID,
		EventType:  ev.Event,
		OccurredAt: unixPtr(ev.CreatedAt),
		Email:      email,
		Payload:    ev,
		Fields:     fields,
	}, nil
}

func parseThinkific(body []byte) (*ParsedEvent, error) {
	var ev ThinkificEvent
	fields, err := decode(body, &ev)
	if err != nil {
		return nil, err
	}
	if err := requireField("resource", ev.Resource); err != nil {
		return nil, err
	}
	if err := requireField("action", ev.Action); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(ev.email())
	if err != nil {
		return nil, err
	}

	var occurred *time.Time
	if ev.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.CreatedAt); err == nil {
			t = t.UTC()
			occurred = &t
		}
	}

	return &ParsedEvent{
		WebhookID:  ev.ID,
		EventType:  ev.Resource + "." + ev.Action,
		OccurredAt: occurred,
		Email:      email,
		Payload:    ev,
		Fields:     fields,
	}, nil
}
