package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

// Scheme describes how a sender encodes its signature header and which bytes
// the HMAC covers.
type Scheme int

const (
	// SchemeHex is a bare hex HMAC-SHA256 of the raw body, optionally prefixed
	// with "sha256=".
	SchemeHex Scheme = iota
	// SchemeTimestamped is "t=<unix>,s=<hex>" (or v1=) over timestamp+body.
	SchemeTimestamped
	// SchemeStripe is "t=<unix>,v1=<hex>[,v1=<hex>]" over timestamp+"."+body.
	SchemeStripe
)

func (s Scheme) String() string {
	switch s {
	case SchemeHex:
		return "hex"
	case SchemeTimestamped:
		return "timestamped"
	case SchemeStripe:
		return "stripe"
	default:
		return "unknown"
	}
}

// Header is a parsed signature header.
type Header struct {
	Timestamp  string
	Signatures [][]byte
}

// ParseHeader splits a raw header value according to the scheme. Signature
// values that are not valid hex are dropped, so a header with none left
// yields no candidates and fails verification.
func (s Scheme) ParseHeader(raw string) Header {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Header{}
	}

	if s == SchemeHex {
		raw = strings.TrimPrefix(raw, "sha256=")
		if sig, err := hex.DecodeString(raw); err == nil {
			return Header{Signatures: [][]byte{sig}}
		}
		return Header{}
	}

	var h Header
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			h.Timestamp = value
		case "v1", "s":
			if sig, err := hex.DecodeString(value); err == nil {
				h.Signatures = append(h.Signatures, sig)
			}
		}
	}
	return h
}

// SignedPayload returns the exact bytes the sender signed.
func (s Scheme) SignedPayload(timestamp string, body []byte) []byte {
	switch s {
	case SchemeTimestamped:
		out := make([]byte, 0, len(timestamp)+len(body))
		out = append(out, timestamp...)
		return append(out, body...)
	case SchemeStripe:
		out := make([]byte, 0, len(timestamp)+1+len(body))
		out = append(out, timestamp...)
		out = append(out, '.')
		return append(out, body...)
	default:
		return body
	}
}

// Sign produces a header value for body, as the sender would. Used by tests
// and the replay tooling.
func (s Scheme) Sign(body []byte, secret, timestamp string) string {
	sig := hex.EncodeToString(computeMAC([]byte(secret), s.SignedPayload(timestamp, body)))
	switch s {
	case SchemeTimestamped:
		return "t=" + timestamp + ",v1=" + sig
	case SchemeStripe:
		return "t=" + timestamp + ",v1=" + sig
	default:
		return sig
	}
}

func computeMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// Result is the outcome of Verify. MatchedKeyIndex is -1 unless Valid.
type Result struct {
	Valid           bool
	MatchedKeyIndex int
	Timestamp       string
}

// Verify checks header against the raw body using each secret in order.
// It fails closed: no secrets, no header or no decodable signature is
// invalid. Digests are compared as bytes with hmac.Equal.
func Verify(scheme Scheme, rawBody []byte, header string, secrets []string) Result {
	res := Result{MatchedKeyIndex: -1}
	if len(secrets) == 0 {
		return res
	}

	h := scheme.ParseHeader(header)
	res.Timestamp = h.Timestamp
	if len(h.Signatures) == 0 {
		return res
	}
	if scheme != SchemeHex && h.Timestamp == "" {
		return res
	}

	message := scheme.SignedPayload(h.Timestamp, rawBody)
	for i, secret := range secrets {
		if secret == "" {
			continue
		}
		expected := computeMAC([]byte(secret), message)
		for _, sig := range h.Signatures {
			if hmac.Equal(expected, sig) && !res.Valid {
				res.Valid = true
				res.MatchedKeyIndex = i
			}
		}
	}
	return res
}

// Verifier binds a scheme and secret list to one source.
type Verifier struct {
	source  string
	scheme  Scheme
	secrets []string
	logger  logger.Logger
}

func NewVerifier(source string, scheme Scheme, secrets []string, log logger.Logger) *Verifier {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Verifier{
		source:  source,
		scheme:  scheme,
		secrets: secrets,
		logger:  log,
	}
}

func (v *Verifier) Scheme() Scheme {
	return v.scheme
}

// Verify returns the verification result or one of ErrSignatureMisconfigured,
// ErrMissingSignature and ErrInvalidSignature.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, header string) (Result, error) {
	if len(v.secrets) == 0 {
		metrics.IncSignatureVerification(v.source, "misconfigured")
		v.logger.ErrorwCtx(ctx, "No webhook secret configured, rejecting request", "source", v.source)
		return Result{MatchedKeyIndex: -1}, apperrors.ErrSignatureMisconfigured
	}

	if strings.TrimSpace(header) == "" {
		metrics.IncSignatureVerification(v.source, "missing")
		return Result{MatchedKeyIndex: -1}, apperrors.ErrMissingSignature
	}

	res := Verify(v.scheme, rawBody, header, v.secrets)
	if !res.Valid {
		metrics.IncSignatureVerification(v.source, "invalid")
		return res, apperrors.ErrInvalidSignature
	}

	metrics.IncSignatureVerification(v.source, "valid")
	if res.MatchedKeyIndex > 0 {
		metrics.IncRotationKeyUsed(v.source, res.MatchedKeyIndex)
		v.logger.WarnwCtx(ctx, "Webhook verified with non-primary secret, rotation in progress",
			"source", v.source,
			"key_index", res.MatchedKeyIndex,
		)
	}
	return res, nil
}
