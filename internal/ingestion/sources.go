package ingestion

import (
	"fmt"
	"net/http"
	"sort"

	"hookgate/internal/security"
)

const (
	SourceStripe       = "stripe"
	SourceTicketTailor = "tickettailor"
	SourceThinkific    = "thinkific"
)

// Source describes one sending platform: where it puts its signature, how
// it signs and how its body is parsed.
type Source struct {
	Name            string
	SignatureHeader string
	Scheme          security.Scheme
	Parse           func(body []byte) (*ParsedEvent, error)
}

var sources = map[string]Source{
	SourceStripe: {
		Name:            SourceStripe,
		SignatureHeader: "Stripe-Signature",
		Scheme:          security.SchemeStripe,
		Parse:           parseStripe,
	},
	SourceTicketTailor: {
		Name:            SourceTicketTailor,
		SignatureHeader: "Tickettailor-Webhook-Signature",
		Scheme:          security.SchemeTimestamped,
		Parse:           parseTicketTailor,
	},
	SourceThinkific: {
		Name:            SourceThinkific,
		SignatureHeader: "X-Thinkific-Hmac-Sha256",
		Scheme:          security.SchemeHex,
		Parse:           parseThinkific,
	},
}

func LookupSource(name string) (Source, error) {
	src, ok := sources[name]
	if !ok {
		return Source{}, fmt.Errorf("unknown webhook source %q", name)
	}
	return src, nil
}

// SourceNames lists the supported senders in a stable order.
func SourceNames() []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signature reads the source's signature header.
func (s Source) Signature(h http.Header) string {
	return h.Get(s.SignatureHeader)
}
