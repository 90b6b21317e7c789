package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		body      string
		wantErr   *apperrors.Error
		wantID    string
		wantType  string
		wantEmail string
	}{
		{
			name:      "stripe charge",
			source:    SourceStripe,
			body:      `{"id":"evt_1","type":"charge.succeeded","created":1760000000,"data":{"object":{"billing_details":{"email":"A@B.io","address":{"country":"DE"}}}}}`,
			wantID:    "evt_1",
			wantType:  "charge.succeeded",
			wantEmail: "a@b.io",
		},
		{
			name:    "stripe missing type",
			source:  SourceStripe,
			body:    `{"id":"evt_1"}`,
			wantErr: apperrors.ErrMissingRequiredField,
		},
		{
			name:    "stripe bad country",
			source:  SourceStripe,
			body:    `{"id":"evt_1","type":"charge.succeeded","data":{"object":{"billing_details":{"address":{"country":"Germany"}}}}}`,
			wantErr: apperrors.ErrInvalidCountryCode,
		},
		{
			name:      "tickettailor order",
			source:    SourceTicketTailor,
			body:      `{"id":"wh_9","event":"ORDER.CREATED","payload":{"buyer_details":{"email":"fan@example.com"}}}`,
			wantID:    "wh_9",
			wantType:  "ORDER.CREATED",
			wantEmail: "fan@example.com",
		},
		{
			name:    "tickettailor bad email",
			source:  SourceTicketTailor,
			body:    `{"event":"ORDER.CREATED","payload":{"buyer_details":{"email":"Fan <fan@example.com>"}}}`,
			wantErr: apperrors.ErrInvalidEmail,
		},
		{
			name:      "thinkific enrollment",
			source:    SourceThinkific,
			body:      `{"id":"th_1","resource":"enrollment","action":"created","created_at":"2026-05-01T08:00:00Z","payload":{"user":{"email":"learner@example.com"}}}`,
			wantID:    "th_1",
			wantType:  "enrollment.created",
			wantEmail: "learner@example.com",
		},
		{
			name:    "thinkific missing action",
			source:  SourceThinkific,
			body:    `{"resource":"order"}`,
			wantErr: apperrors.ErrMissingRequiredField,
		},
		{
			name:    "not json",
			source:  SourceThinkific,
			body:    `<xml/>`,
			wantErr: apperrors.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := LookupSource(tt.source)
			require.NoError(t, err)

			ev, err := src.Parse([]byte(tt.body))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ev.WebhookID)
			assert.Equal(t, tt.wantType, ev.EventType)
			assert.Equal(t, tt.wantEmail, ev.Email)
			assert.NotNil(t, ev.Fields)
			assert.Equal(t, tt.source, ev.Payload.source())
		})
	}
}

func TestLookupSource_Unknown(t *testing.T) {
	_, err := LookupSource("paypal")
	assert.Error(t, err)
	assert.Equal(t, []string{SourceStripe, SourceThinkific, SourceTicketTailor}, SourceNames())
}

func TestAcceptRules(t *testing.T) {
	rules, err := NewAcceptRules(map[string]string{
		SourceStripe:    `event_type in ["charge.succeeded", "checkout.session.completed"]`,
		SourceThinkific: `payload.resource == "order"`,
	})
	require.NoError(t, err)

	ctx := context.Background()

	ok, err := rules.Accepts(ctx, SourceStripe, &ParsedEvent{EventType: "charge.succeeded"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rules.Accepts(ctx, SourceStripe, &ParsedEvent{EventType: "customer.updated"})
	require.NoError(t, err)
	assert.False(t, ok)

	// No rule for the source.
	ok, err = rules.Accepts(ctx, SourceTicketTailor, &ParsedEvent{EventType: "anything"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rules.Accepts(ctx, SourceThinkific, &ParsedEvent{Fields: map[string]interface{}{"resource": "order"}})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewAcceptRules(map[string]string{SourceStripe: `event_type + 1`})
	assert.Error(t, err)
}

type panickingApplier struct{}

func (panickingApplier) Apply(context.Context, *Delivery) (ledger.Outcome, error) {
	panic("nil map write")
}

func TestProcessor_RecoversApplierPanic(t *testing.T) {
	p := NewProcessor(nil, panickingApplier{}, logger.NopLogger())
	parsed, err := parseStripe(stripeBody("evt_p", "charge.succeeded", "buyer@example.com"))
	require.NoError(t, err)

	res := p.Process(context.Background(), &Delivery{Source: SourceStripe, Event: parsed})

	assert.Equal(t, ledger.StatusFailed, res.Status)
	require.Error(t, res.Err)
	info, stack := deadletter.Classify(res.Err)
	assert.Equal(t, apperrors.ErrInternal.Code, info.Code)
	assert.False(t, info.Retryable)
	assert.NotEmpty(t, stack)
}

func TestLogApplier(t *testing.T) {
	parsed, err := parseStripe(stripeBody("evt_l", "charge.succeeded", "buyer@example.com"))
	require.NoError(t, err)

	p := NewProcessor(nil, NewLogApplier(logger.NopLogger()), logger.NopLogger())
	res := p.Process(context.Background(), &Delivery{Source: SourceStripe, Event: parsed})

	assert.Equal(t, ledger.StatusSuccess, res.Status)
	assert.Equal(t, "logged", res.Outcome["applied"])
}
