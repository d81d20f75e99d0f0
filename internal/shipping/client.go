// Package shipping is a client for the carrier-label aggregator: rate
// quotes, label purchase, label refunds and tracking lookups.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/tokencache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrRejected wraps 4xx responses.
	ErrRejected = errors.New("label provider rejected request")
	// ErrPurchaseFailed is returned when the provider answers a label
	// purchase with a non-success status.
	ErrPurchaseFailed = errors.New("label purchase failed")
	ErrNoRates        = errors.New("no rates available")
)

// Label purchase and refund statuses reported by the provider.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
	StatusQueued  = "QUEUED"
)

type Config struct {
	BaseURL           string
	Token             string
	OAuthURL          string
	OAuthClientID     string
	OAuthClientSecret string
	Timeout           time.Duration
}

// Client talks to the label provider's REST API. Authentication is either a
// static API token or a client-credentials token cached per host.
type Client struct {
	cfg        Config
	host       string
	tokens     tokencache.Cache
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg Config, tokens tokencache.Cache, log *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	host := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		host:       host,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type Rate struct {
	ObjectID      string          `json:"object_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider"`
	EstimatedDays int             `json:"estimated_days"`
	ServiceLevel  struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	} `json:"servicelevel"`
}

type RateQuote struct {
	ShipmentID string `json:"object_id"`
	Status     string `json:"status"`
	Rates      []Rate `json:"rates"`
}

type Message struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Text   string `json:"text"`
}

type Label struct {
	ObjectID       string    `json:"object_id"`
	Status         string    `json:"status"`
	RateID         string    `json:"rate"`
	TrackingNumber string    `json:"tracking_number"`
	TrackingURL    string    `json:"tracking_url_provider"`
	LabelURL       string    `json:"label_url"`
	Messages       []Message `json:"messages"`
}

type Refund struct {
	ObjectID string `json:"object_id"`
	Status   string `json:"status"`
	LabelID  string `json:"transaction"`
}

// CheapestRate picks the lowest amount. On ties the first rate wins since
// providers already return rates in a deterministic order.
func CheapestRate(rates []Rate) (Rate, bool) {
	if len(rates) == 0 {
		return Rate{}, false
	}
	best := rates[0]
	for _, r := range rates[1:] {
		if r.Amount.LessThan(best.Amount) {
			best = r
		}
	}
	return best, true
}

// CreateShipment asks the provider for rates between two addresses.
func (c *Client) CreateShipment(ctx context.Context, from, to models.Address, parcel models.Parcel) (*RateQuote, error) {
	body := map[string]any{
		"address_from": from,
		"address_to":   to,
		"parcels":      []models.Parcel{parcel},
		"async":        false,
	}
	var quote RateQuote
	if err := c.do(ctx, http.MethodPost, "/shipments/", body, &quote); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}
	return &quote, nil
}

// GetRate fetches one quoted rate by id.
func (c *Client) GetRate(ctx context.Context, rateID string) (*Rate, error) {
	var r Rate
	if err := c.do(ctx, http.MethodGet, "/rates/"+url.PathEscape(rateID), nil, &r); err != nil {
		return nil, fmt.Errorf("get rate: %w", err)
	}
	return &r, nil
}

// BuyLabel purchases the label for a rate. A response with any status
// other than SUCCESS is reported as ErrPurchaseFailed.
func (c *Client) BuyLabel(ctx context.Context, rateID string) (*Label, error) {
	body := map[string]any{
		"rate":            rateID,
		"label_file_type": "PDF",
		"async":           false,
	}
	var label Label
	if err := c.do(ctx, http.MethodPost, "/transactions/", body, &label); err != nil {
		return nil, fmt.Errorf("buy label: %w", err)
	}
	if label.Status != StatusSuccess {
		texts := make([]string, 0, len(label.Messages))
		for _, m := range label.Messages {
			texts = append(texts, m.Text)
		}
		return &label, fmt.Errorf("%w: status %s: %s", ErrPurchaseFailed, label.Status, strings.Join(texts, "; "))
	}
	return &label, nil
}

// FindLabelForRate looks up a successful purchase of rateID. It returns
// nil, nil when the provider has none.
func (c *Client) FindLabelForRate(ctx context.Context, rateID string) (*Label, error) {
	var page struct {
		Results []Label `json:"results"`
	}
	path := "/transactions/?rate=" + url.QueryEscape(rateID)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("find label: %w", err)
	}
	for i := range page.Results {
		if page.Results[i].Status == StatusSuccess {
			return &page.Results[i], nil
		}
	}
	return nil, nil
}

// RefundLabel requests a refund for an unused label.
func (c *Client) RefundLabel(ctx context.Context, labelID string) (*Refund, error) {
	body := map[string]any{
		"transaction": labelID,
		"async":       false,
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/refunds/", body, &refund); err != nil {
		return nil, fmt.Errorf("refund label: %w", err)
	}
	if refund.Status == StatusError {
		return &refund, fmt.Errorf("%w: refund status %s", ErrRejected, refund.Status)
	}
	return &refund, nil
}

// GetTracking fetches the current tracking state of a label.
func (c *Client) GetTracking(ctx context.Context, carrier, trackingNumber string) (*TrackingEvent, error) {
	path := fmt.Sprintf("/tracks/%s/%s", url.PathEscape(carrier), url.PathEscape(trackingNumber))
	var ev TrackingEvent
	if err := c.do(ctx, http.MethodGet, path, nil, &ev); err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return &ev, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth, err := c.authorization(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("label provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("label provider returned %d: %s", resp.StatusCode, string(b))
		}
		return fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorization(ctx context.Context) (string, error) {
	if c.cfg.Token != "" {
		return "ShippoToken " + c.cfg.Token, nil
	}
	if c.cfg.OAuthURL == "" {
		return "", fmt.Errorf("label provider credentials not configured")
	}
	tok, err := tokencache.Fetch(ctx, c.tokens, c.host, c.fetchToken)
	if err != nil {
		return "", fmt.Errorf("label provider token: %w", err)
	}
	return "Bearer " + tok, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.OAuthClientID},
		"client_secret": {c.cfg.OAuthClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token endpoint unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, err
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty token")
	}
	c.log.Debug("fetched label provider token", zap.String("host", c.host), zap.Int("expires_in", tr.ExpiresIn))
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
