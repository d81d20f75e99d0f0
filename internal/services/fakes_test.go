package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// In-memory stores mirroring the guarded SQL of the pgx repositories.

type memTransactions struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Transaction
	shipments *memShipments

	// subStatusFailures makes the next n sub-status writes fail
	subStatusFailures int
}

func newMemTransactions(sh *memShipments) *memTransactions {
	return &memTransactions{rows: map[uuid.UUID]*models.Transaction{}, shipments: sh}
}

func cloneTx(t *models.Transaction) *models.Transaction {
	c := *t
	if t.RentalSubStatus != nil {
		s := *t.RentalSubStatus
		c.RentalSubStatus = &s
	}
	if t.DepositHoldID != nil {
		h := *t.DepositHoldID
		c.DepositHoldID = &h
	}
	return &c
}

func (m *memTransactions) InsertIfAbsent(_ context.Context, t *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.FeeHoldID == t.FeeHoldID {
			return false, nil
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.rows[t.ID] = cloneTx(t)
	return true, nil
}

func (m *memTransactions) GetByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return cloneTx(r), nil
	}
	return nil, repositories.ErrNotFound
}

func (m *memTransactions) find(match func(*models.Transaction) bool) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if match(r) {
			return cloneTx(r), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memTransactions) GetByFeeHold(_ context.Context, holdID string) (*models.Transaction, error) {
	return m.find(func(t *models.Transaction) bool { return t.FeeHoldID == holdID })
}

func (m *memTransactions) GetByDepositHold(_ context.Context, holdID string) (*models.Transaction, error) {
	return m.find(func(t *models.Transaction) bool { return t.DepositHoldID != nil && *t.DepositHoldID == holdID })
}

func (m *memTransactions) TransitionStatus(_ context.Context, id uuid.UUID, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || !models.IsValidTransactionTransition(r.Status, to) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *memTransactions) TransitionSubStatus(_ context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subStatusFailures > 0 {
		m.subStatusFailures--
		return false, errors.New("write sub status: connection reset")
	}
	r, ok := m.rows[id]
	if !ok || r.RentalSubStatus == nil || !slices.Contains(from, *r.RentalSubStatus) {
		return false, nil
	}
	s := to
	r.RentalSubStatus = &s
	r.UpdatedAt = time.Now()
	if models.IsTerminalDeposit(to) {
		now := time.Now()
		r.DepositResolvedAt = &now
	}
	return true, nil
}

func (m *memTransactions) ListOverdueDeposits(_ context.Context, graceDays int, now time.Time, limit int) ([]repositories.OverdueDeposit, error) {
	m.mu.Lock()
	var active []*models.Transaction
	for _, r := range m.rows {
		if r.Kind == models.TransactionKindRental && r.SubStatus() == models.RentalSubStatusActive && r.DepositHoldID != nil {
			active = append(active, cloneTx(r))
		}
	}
	m.mu.Unlock()

	var out []repositories.OverdueDeposit
	for _, t := range active {
		o := m.shipments.outboundFor(t.ID)
		if o == nil || o.Status != models.ShipmentStatusDelivered || o.DeliveredAt == nil {
			continue
		}
		if o.PairedShipmentID != nil {
			ret := m.shipments.get(*o.PairedShipmentID)
			if ret != nil && (ret.Status == models.ShipmentStatusDelivered || ret.Status == models.ShipmentStatusCancelled) {
				continue
			}
		}
		if !o.DeliveredAt.AddDate(0, 0, t.RentalDurationDays+graceDays).Before(now) {
			continue
		}
		out = append(out, repositories.OverdueDeposit{Transaction: *t, OutboundShipmentID: o.ID, OutboundDeliveredAt: *o.DeliveredAt})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memTransactions) ListStuckReleases(_ context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	var rentals []*models.Transaction
	for _, r := range m.rows {
		if r.Kind == models.TransactionKindRental {
			rentals = append(rentals, cloneTx(r))
		}
	}
	m.mu.Unlock()

	var out []models.Transaction
	for _, t := range rentals {
		switch t.SubStatus() {
		case models.RentalSubStatusReturned:
			if !t.UpdatedAt.Before(olderThan) {
				continue
			}
		case models.RentalSubStatusActive:
			if !m.shipments.returnDeliveredBefore(t.ID, olderThan) {
				continue
			}
		default:
			continue
		}
		out = append(out, *t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// set overwrites a stored row; tests use it to age rows or seed state.
func (m *memTransactions) set(t *models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.ID] = cloneTx(t)
}

type memShipments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Shipment
}

func newMemShipments() *memShipments {
	return &memShipments{rows: map[uuid.UUID]*models.Shipment{}}
}

func (m *memShipments) get(id uuid.UUID) *models.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		c := *r
		return &c
	}
	return nil
}

func (m *memShipments) outboundFor(txID uuid.UUID) *models.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TransactionID != nil && *r.TransactionID == txID && r.ShipmentType != models.ShipmentTypeRentalReturn {
			c := *r
			return &c
		}
	}
	return nil
}

func (m *memShipments) returnDeliveredBefore(txID uuid.UUID, before time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TransactionID != nil && *r.TransactionID == txID && r.ShipmentType == models.ShipmentTypeRentalReturn &&
			r.Status == models.ShipmentStatusDelivered && r.UpdatedAt.Before(before) {
			return true
		}
	}
	return false
}

func (m *memShipments) Create(_ context.Context, s *models.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	c := *s
	m.rows[s.ID] = &c
	return nil
}

func (m *memShipments) CreateReturnPair(_ context.Context, outboundID uuid.UUID, ret *models.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[outboundID]
	if !ok {
		return repositories.ErrNotFound
	}
	if o.PairedShipmentID != nil {
		return repositories.ErrAlreadyPaired
	}
	ret.ID = uuid.New()
	oid := outboundID
	ret.PairedShipmentID = &oid
	c := *ret
	m.rows[ret.ID] = &c
	rid := ret.ID
	o.PairedShipmentID = &rid
	return nil
}

func (m *memShipments) GetByID(_ context.Context, id uuid.UUID) (*models.Shipment, error) {
	if s := m.get(id); s != nil {
		return s, nil
	}
	return nil, repositories.ErrNotFound
}

func (m *memShipments) GetByTrackingNumber(_ context.Context, carrier, number string) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Carrier == carrier && r.TrackingNumber == number {
			c := *r
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memShipments) GetOutboundForTransaction(_ context.Context, txID uuid.UUID) (*models.Shipment, error) {
	if s := m.outboundFor(txID); s != nil {
		return s, nil
	}
	return nil, repositories.ErrNotFound
}

func (m *memShipments) ListByTransaction(_ context.Context, txID uuid.UUID) ([]models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Shipment
	for _, r := range m.rows {
		if r.TransactionID != nil && *r.TransactionID == txID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memShipments) UpdateTrackingStatus(_ context.Context, id uuid.UUID, to string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || !models.IsValidShipmentTransition(r.Status, to) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	if to == models.ShipmentStatusInTransit && r.ShippedAt == nil {
		r.ShippedAt = &at
	}
	if (to == models.ShipmentStatusDelivered || to == models.ShipmentStatusReturned) && r.DeliveredAt == nil {
		r.DeliveredAt = &at
	}
	return true, nil
}

func (m *memShipments) MarkCancelled(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.ShipmentType != models.ShipmentTypeRentalReturn || r.Status != models.ShipmentStatusLabelCreated {
		return false, nil
	}
	r.Status = models.ShipmentStatusCancelled
	return true, nil
}

func (m *memShipments) SetRefundStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.RefundStatus = &status
	}
	return nil
}

func (m *memShipments) ListInFlight(_ context.Context, after uuid.UUID, limit int) ([]models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Shipment
	for _, r := range m.rows {
		switch r.Status {
		case models.ShipmentStatusLabelCreated, models.ShipmentStatusInTransit, models.ShipmentStatusFailed:
		default:
			continue
		}
		if r.TrackingNumber == "" || r.Carrier == "" || r.ID.String() <= after.String() {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memShipments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memListings struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Listing
}

func (m *memListings) GetByID(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, repositories.ErrNotFound
}

func (m *memListings) MarkSold(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != models.ListingStatusActive {
		return false, nil
	}
	r.Status = models.ListingStatusSold
	return true, nil
}

type memSellers map[uuid.UUID]*models.Seller

func (m memSellers) GetSeller(_ context.Context, id uuid.UUID) (*models.Seller, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return nil, repositories.ErrNotFound
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) Log(_ context.Context, e models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) ListForEntities(_ context.Context, ids []uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, e := range m.entries {
		if e.EntityID != nil && slices.Contains(ids, *e.EntityID) {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memPublisher) Publish(_ context.Context, _ string, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memPublisher) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// fakeProcessor enforces the processor's rule that an authorized hold is
// either canceled or captured, never both.
type fakeProcessor struct {
	mu          sync.Mutex
	seq         int
	requests    []payments.HoldRequest
	status      map[string]string
	links       map[string]map[string]string
	cancelCalls int
	captureCall int
	cancelErr   error
	createErr   map[string]error // by hold type
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{status: map[string]string{}, links: map[string]map[string]string{}, createErr: map[string]error{}}
}

func (p *fakeProcessor) CreateHold(_ context.Context, req payments.HoldRequest) (*payments.Hold, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.createErr[req.Metadata.HoldType]; err != nil {
		return nil, err
	}
	p.seq++
	id := fmt.Sprintf("pi_%d", p.seq)
	p.requests = append(p.requests, req)
	p.status[id] = "requires_capture"
	if !req.ManualCapture {
		p.status[id] = "requires_payment_method"
	}
	return &payments.Hold{ID: id, ClientSecret: id + "_secret", Status: p.status[id], AmountCents: req.AmountCents}, nil
}

func (p *fakeProcessor) LinkHold(_ context.Context, id string, md map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links[id] = md
	return nil
}

func (p *fakeProcessor) authorize(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[id] = "requires_capture"
}

func (p *fakeProcessor) CancelHold(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	if p.cancelErr != nil {
		return p.cancelErr
	}
	switch p.status[id] {
	case "succeeded":
		return payments.ErrHoldCaptured
	case "canceled":
		return nil
	}
	p.status[id] = "canceled"
	return nil
}

func (p *fakeProcessor) CaptureHold(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captureCall++
	switch p.status[id] {
	case "canceled":
		return payments.ErrHoldCanceled
	case "succeeded":
		return nil
	}
	p.status[id] = "succeeded"
	return nil
}

func (p *fakeProcessor) captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captureCall
}

type fakeParser struct {
	event payments.Event
}

func (f *fakeParser) ParseWebhook(_ []byte, sig string) (payments.Event, error) {
	if sig != "valid" {
		return nil, payments.ErrInvalidSignature
	}
	return f.event, nil
}

type fakeLabels struct {
	mu          sync.Mutex
	seq         int
	rates       []shipping.Rate
	buyErr      map[string]error
	refundErr   error
	buys        []string
	refunds     []string
	rateQueries int
	amounts     map[string]decimal.Decimal
	sold        map[string]*shipping.Label
	// lostReplies[rate] purchases commit upstream but answer with a timeout
	lostReplies map[string]int
	finds       int
}

func (f *fakeLabels) CreateShipment(_ context.Context, _, _ models.Address, _ models.Parcel) (*shipping.RateQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateQueries++
	return &shipping.RateQuote{ShipmentID: "shp_return", Status: "SUCCESS", Rates: f.rates}, nil
}

func (f *fakeLabels) GetRate(_ context.Context, rateID string) (*shipping.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount, ok := f.amounts[rateID]; ok {
		return &shipping.Rate{ObjectID: rateID, Amount: amount, Currency: "USD"}, nil
	}
	for _, r := range f.rates {
		if r.ObjectID == rateID {
			c := r
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: 404: rate %s not found", shipping.ErrRejected, rateID)
}

func (f *fakeLabels) BuyLabel(_ context.Context, rateID string) (*shipping.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, rateID)
	if err := f.buyErr[rateID]; err != nil {
		return nil, err
	}
	if _, ok := f.sold[rateID]; ok {
		return nil, fmt.Errorf("%w: 400: rate already purchased", shipping.ErrRejected)
	}
	f.seq++
	label := &shipping.Label{
		ObjectID:       fmt.Sprintf("lbl_%d", f.seq),
		Status:         shipping.StatusSuccess,
		RateID:         rateID,
		TrackingNumber: fmt.Sprintf("TRK%d", f.seq),
		TrackingURL:    fmt.Sprintf("https://track.example/TRK%d", f.seq),
		LabelURL:       fmt.Sprintf("https://labels.example/%d.pdf", f.seq),
	}
	if f.sold == nil {
		f.sold = map[string]*shipping.Label{}
	}
	f.sold[rateID] = label
	if f.lostReplies[rateID] > 0 {
		f.lostReplies[rateID]--
		return nil, errors.New("read tcp: i/o timeout")
	}
	c := *label
	return &c, nil
}

func (f *fakeLabels) FindLabelForRate(_ context.Context, rateID string) (*shipping.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if l, ok := f.sold[rateID]; ok {
		c := *l
		return &c, nil
	}
	return nil, nil
}

func (f *fakeLabels) RefundLabel(_ context.Context, labelID string) (*shipping.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, labelID)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &shipping.Refund{ObjectID: "rf_1", Status: "QUEUED", LabelID: labelID}, nil
}

// harness wires every service over the in-memory stores.
type harness struct {
	txs       *memTransactions
	shipments *memShipments
	listings  *memListings
	sellers   memSellers
	audit     *memAudit
	pub       *memPublisher
	proc      *fakeProcessor
	parser    *fakeParser
	labels    *fakeLabels
	verifier  *shipping.Verifier
	cfg       *config.Config

	intents  *IntentService
	deposits *DepositService
	labelSvc *LabelService
	webhooks *WebhookService
	reads    *TransactionService
}

const testWebhookSecret = "whsec_test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine, err := pricing.NewEngine(decimal.RequireFromString("0.12"), decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	log := zap.NewNop()
	policy := retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	cfg := &config.Config{ReturnGraceDays: 3, DefaultCurrency: "usd"}
	labels := &fakeLabels{buyErr: map[string]error{}, amounts: map[string]decimal.Decimal{
		"rate_out":  decimal.RequireFromString("18.40"),
		"rate_sale": decimal.RequireFromString("18.40"),
	}}

	h := &harness{
		shipments: newMemShipments(),
		listings:  &memListings{rows: map[uuid.UUID]*models.Listing{}},
		sellers:   memSellers{},
		audit:     &memAudit{},
		pub:       &memPublisher{},
		proc:      newFakeProcessor(),
		parser:    &fakeParser{},
		labels:    labels,
		verifier:  shipping.NewVerifier(testWebhookSecret),
		cfg:       cfg,
	}
	h.txs = newMemTransactions(h.shipments)

	h.intents = NewIntentService(h.listings, h.sellers, h.proc, engine, policy, cfg, log)
	h.deposits = NewDepositService(h.txs, h.audit, h.proc, h.pub, policy, cfg, log)
	h.labelSvc = NewLabelService(h.txs, h.shipments, h.audit, h.labels, engine, h.pub, policy, log)
	h.webhooks = NewWebhookService(h.txs, h.shipments, h.listings, h.audit, h.parser, h.verifier, h.deposits, h.pub, log)
	h.reads = NewTransactionService(h.txs, h.shipments, h.audit)
	return h
}

func (h *harness) addSeller(payouts bool) uuid.UUID {
	id := uuid.New()
	acct := "acct_" + id.String()[:8]
	h.sellers[id] = &models.Seller{ID: id, PayoutAccountID: &acct, PayoutsEnabled: payouts}
	return id
}

func (h *harness) addRentalListing(sellerID uuid.UUID, feeCents, depositCents int64, days int) *models.Listing {
	l := &models.Listing{
		ID:                 uuid.New(),
		SellerID:           sellerID,
		Title:              "Canon R5 body",
		Kind:               models.TransactionKindRental,
		Status:             models.ListingStatusActive,
		RentalFeeCents:     &feeCents,
		DepositCents:       &depositCents,
		RentalDurationDays: &days,
		Currency:           "USD",
	}
	h.listings.rows[l.ID] = l
	return l
}

func (h *harness) addSaleListing(sellerID uuid.UUID, priceCents int64) *models.Listing {
	l := &models.Listing{
		ID:         uuid.New(),
		SellerID:   sellerID,
		Title:      "Fuji X100V",
		Kind:       models.TransactionKindSale,
		Status:     models.ListingStatusActive,
		PriceCents: &priceCents,
		Currency:   "usd",
	}
	h.listings.rows[l.ID] = l
	return l
}

// payRental runs checkout for a rental and delivers the fee capture webhook.
func (h *harness) payRental(t *testing.T, feeCents, depositCents int64, days int) *models.Transaction {
	t.Helper()
	seller := h.addSeller(true)
	listing := h.addRentalListing(seller, feeCents, depositCents, days)
	buyer := uuid.New()

	intent, err := h.intents.Build(context.Background(), IntentRequest{ListingID: listing.ID, BuyerID: buyer, Kind: models.TransactionKindRental})
	require.NoError(t, err)

	h.proc.authorize(intent.FeeHold.ID)
	h.deliverFeeCaptured(t, intent)

	tx, err := h.txs.GetByFeeHold(context.Background(), intent.FeeHold.ID)
	require.NoError(t, err)
	return tx
}

func (h *harness) deliverFeeCaptured(t *testing.T, intent *IntentResult) {
	t.Helper()
	var feeReq payments.HoldRequest
	for _, r := range h.proc.requests {
		if r.Metadata.HoldType == payments.HoldTypeFee {
			feeReq = r
		}
	}
	h.parser.event = payments.FeeCaptured{
		ID:          "evt_" + intent.FeeHold.ID,
		HoldID:      intent.FeeHold.ID,
		AmountCents: intent.GrossCents,
		Currency:    intent.Currency,
		Meta:        feeReq.Metadata,
	}
	require.NoError(t, h.webhooks.HandlePayment(context.Background(), []byte(`{}`), "valid"))
}

var (
	testFrom = models.Address{Name: "Seller", Street1: "1 Market St", City: "San Francisco", State: "CA", Zip: "94105", Country: "US"}
	testTo   = models.Address{Name: "Renter", Street1: "9 Main St", City: "Austin", State: "TX", Zip: "73301", Country: "US"}
	testBox  = models.Parcel{Length: "10", Width: "8", Height: "6", DistanceUnit: "in", Weight: "3", MassUnit: "lb"}
)

// shipRental buys an outbound label with a paired return for tx.
func (h *harness) shipRental(t *testing.T, tx *models.Transaction) *LabelResult {
	t.Helper()
	h.labels.rates = []shipping.Rate{
		{ObjectID: "rate_ret_ground", Amount: decimal.RequireFromString("9.10"), Currency: "USD", Provider: "USPS"},
		{ObjectID: "rate_ret_air", Amount: decimal.RequireFromString("21.00"), Currency: "USD", Provider: "UPS"},
	}
	txID := tx.ID
	res, err := h.labelSvc.Purchase(context.Background(), Actor{UserID: tx.SellerID}, LabelRequest{
		ShipmentType:        models.ShipmentTypeRentalOutbound,
		TransactionID:       &txID,
		RateID:              "rate_out",
		ExternalShipmentID:  "shp_out",
		CarrierCost:         decimal.RequireFromString("18.40"),
		Carrier:             "USPS",
		SenderID:            tx.SellerID,
		RecipientID:         tx.BuyerID,
		From:                testFrom,
		To:                  testTo,
		Parcel:              testBox,
		GenerateReturnLabel: true,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) track(t *testing.T, trackingNumber, status, date string) {
	t.Helper()
	body := fmt.Sprintf(`{"event":"track_updated","data":{"carrier":"usps","tracking_number":%q,"tracking_status":{"status":%q,"status_date":%q}}}`,
		trackingNumber, status, date)
	require.NoError(t, h.webhooks.HandleTracking(context.Background(), []byte(body), h.verifier.Sign([]byte(body)), ""))
}
