package shipping

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
)

var ErrInvalidSignature = errors.New("invalid shipment webhook signature")

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Shipping-Signature"

type TrackingStatus struct {
	Status        string `json:"status"`
	StatusDetails string `json:"status_details"`
	StatusDate    string `json:"status_date"`
}

type TrackingEvent struct {
	Event           string           `json:"event"`
	Carrier         string           `json:"carrier"`
	TrackingNumber  string           `json:"tracking_number"`
	TrackingStatus  TrackingStatus   `json:"tracking_status"`
	TrackingHistory []TrackingStatus `json:"tracking_history"`
}

type webhookEnvelope struct {
	TrackingEvent
	Test bool           `json:"test"`
	Data *TrackingEvent `json:"data"`
}

// ParseTrackingWebhook accepts both the enveloped form ({"event", "data": {...}})
// and the flat form with tracking fields at the top level.
func ParseTrackingWebhook(body []byte) (*TrackingEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode tracking webhook: %w", err)
	}

	ev := env.TrackingEvent
	if env.Data != nil && env.Data.TrackingNumber != "" {
		ev = *env.Data
		if ev.Event == "" {
			ev.Event = env.Event
		}
	}
	if ev.TrackingNumber == "" {
		return nil, fmt.Errorf("tracking webhook without tracking_number")
	}
	return &ev, nil
}

var carrierStatuses = map[string]string{
	"TRANSIT":   models.ShipmentStatusInTransit,
	"DELIVERED": models.ShipmentStatusDelivered,
	"RETURNED":  models.ShipmentStatusReturned,
	"FAILURE":   models.ShipmentStatusFailed,
}

// MapStatus translates the provider vocabulary. PRE_TRANSIT, UNKNOWN and
// anything unrecognised map to no transition.
func MapStatus(carrierStatus string) (string, bool) {
	s, ok := carrierStatuses[strings.ToUpper(strings.TrimSpace(carrierStatus))]
	return s, ok
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify accepts either a body HMAC in SignatureHeader or the shared secret
// passed as a token query parameter. Without a configured secret every
// delivery is rejected.
func (v *Verifier) Verify(body []byte, signature, token string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	if signature != "" {
		got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
		if err != nil {
			return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
		}
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(body)
		if !hmac.Equal(got, mac.Sum(nil)) {
			return ErrInvalidSignature
		}
		return nil
	}

	if token != "" && subtle.ConstantTimeCompare([]byte(token), v.secret) == 1 {
		return nil
	}
	return ErrInvalidSignature
}

// Sign returns the hex body signature the verifier expects.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
