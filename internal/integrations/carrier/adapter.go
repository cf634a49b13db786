package carrier

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/FreightBox/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedCarrier = errors.New("unsupported carrier")
	ErrSignatureInvalid   = errors.New("webhook signature invalid")
	ErrAPIRequest         = errors.New("carrier api request failed")
)

// Code identifies a carrier implementation. Only the constants below are valid.
type Code string

const (
	CodeMaersk Code = "MAERSK"
	CodeMSC    Code = "MSC"
	CodeCMACGM Code = "CMACGM"
	CodeHapag  Code = "HAPAG"
)

// ParseCode upper-cases s and resolves it to a known carrier code.
func ParseCode(s string) (Code, error) {
	switch c := Code(strings.ToUpper(strings.TrimSpace(s))); c {
	case CodeMaersk, CodeMSC, CodeCMACGM, CodeHapag:
		return c, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedCarrier, "carrier %q", s)
	}
}

// CanonicalUpdate is the vendor-neutral shape every adapter normalizes into.
type CanonicalUpdate struct {
	ContainerNumber string
	Status          string
	Location        *string
	Timestamp       time.Time
	Vessel          *string
	ETA             *time.Time
	RawPayload      []byte
}

// Adapter is the capability set of one carrier integration.
//
// FetchContainerData and FetchBulkUpdates never fail: request errors are logged
// inside the adapter and surface as nil / empty results.
type Adapter interface {
	Code() Code
	FetchContainerData(ctx context.Context, containerNumber string) *CanonicalUpdate
	FetchBulkUpdates(ctx context.Context, since *time.Time) []CanonicalUpdate
	ValidateWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) ([]CanonicalUpdate, error)
	BuildCarrierUpdate(integrationID uint64, u CanonicalUpdate) models.CarrierUpdateInput
}

// Settings carries what every adapter constructor needs.
type Settings struct {
	Endpoint          string
	APIKey            string
	WebhookSecret     string
	RequestsPerSecond int
	Timeout           time.Duration
}

type updateRule struct {
	needles []string
	t       models.UpdateType
}

// Order matters: the first matching rule wins.
var updateRules = []updateRule{
	{needles: []string{"loaded", "departed"}, t: models.UpdateTypeDeparture},
	{needles: []string{"arrived", "discharged"}, t: models.UpdateTypeArrival},
	{needles: []string{"gate"}, t: models.UpdateTypeGate},
	{needles: []string{"customs"}, t: models.UpdateTypeCustoms},
}

func DetermineUpdateType(status string) models.UpdateType {
	low := strings.ToLower(status)
	for _, r := range updateRules {
		for _, n := range r.needles {
			if strings.Contains(low, n) {
				return r.t
			}
		}
	}
	return models.UpdateTypeStatusUpdate
}

// Base holds the parts shared by all carrier adapters. Concrete adapters embed it.
type Base struct {
	code          Code
	webhookSecret string
	apiKey        string
	Req           *Requester
}

func NewBase(code Code, s Settings) Base {
	return Base{
		code:          code,
		webhookSecret: s.WebhookSecret,
		apiKey:        s.APIKey,
		Req:           NewRequester(s),
	}
}

func (b Base) Code() Code { return b.code }

// ValidateWebhook checks a hex HMAC-SHA256 of the raw payload. The webhook
// secret is used when configured, otherwise the API key.
func (b Base) ValidateWebhook(payload []byte, signature string) bool {
	secret := b.webhookSecret
	if secret == "" {
		secret = b.apiKey
	}
	if secret == "" {
		return false
	}
	return VerifyHMAC(secret, payload, signature)
}

func (b Base) BuildCarrierUpdate(integrationID uint64, u CanonicalUpdate) models.CarrierUpdateInput {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var raw *string
	if len(u.RawPayload) > 0 {
		s := string(u.RawPayload)
		raw = &s
	}
	return models.CarrierUpdateInput{
		IntegrationID:   integrationID,
		ContainerNumber: strings.ToUpper(strings.TrimSpace(u.ContainerNumber)),
		Carrier:         string(b.code),
		UpdateType:      DetermineUpdateType(u.Status),
		Status:          u.Status,
		Location:        u.Location,
		Timestamp:       ts.UTC(),
		RawPayload:      raw,
	}
}

// StrPtr returns nil for empty strings.
func StrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ParseTime tries each layout in turn and falls back to now.
func ParseTime(v string, layouts ...string) time.Time {
	if v != "" {
		for _, l := range layouts {
			if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Now().UTC()
}

// ParseTimePtr is ParseTime without the fallback.
func ParseTimePtr(v string, layouts ...string) *time.Time {
	if v == "" {
		return nil
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
