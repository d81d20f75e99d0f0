package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

// StripeProcessor implements Processor and WebhookParser. It is built once
// in main and passed to the services that need it.
type StripeProcessor struct {
	sc            *client.API
	webhookSecret string
	log           *zap.Logger
}

func NewStripeProcessor(secretKey, webhookSecret string, timeout time.Duration, log *zap.Logger) *StripeProcessor {
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})
	return &StripeProcessor{
		sc:            client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (p *StripeProcessor) CreateHold(ctx context.Context, req HoldRequest) (*Hold, error) {
	captureMethod := stripe.PaymentIntentCaptureMethodAutomatic
	if req.ManualCapture {
		captureMethod = stripe.PaymentIntentCaptureMethodManual
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(captureMethod)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Destination),
		},
	}
	if req.ApplicationFeeCents > 0 {
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata.Encode() {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := p.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("create hold", err)
	}
	return &Hold{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
	}, nil
}

func (p *StripeProcessor) LinkHold(ctx context.Context, holdID string, md map[string]string) error {
	params := &stripe.PaymentIntentParams{}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	if _, err := p.sc.PaymentIntents.Update(holdID, params); err != nil {
		return classify("link hold", err)
	}
	return nil
}

// CancelHold is idempotent: cancelling an already-cancelled hold succeeds.
func (p *StripeProcessor) CancelHold(ctx context.Context, holdID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	_, err := p.sc.PaymentIntents.Cancel(holdID, params)
	if err == nil {
		return nil
	}
	if !isUnexpectedState(err) {
		return classify("cancel hold", err)
	}

	switch status, gerr := p.status(ctx, holdID); {
	case gerr != nil:
		return classify("cancel hold", gerr)
	case status == stripe.PaymentIntentStatusCanceled:
		return nil
	case status == stripe.PaymentIntentStatusSucceeded:
		return ErrHoldCaptured
	}
	return classify("cancel hold", err)
}

// CaptureHold is idempotent: capturing an already-captured hold succeeds.
func (p *StripeProcessor) CaptureHold(ctx context.Context, holdID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	_, err := p.sc.PaymentIntents.Capture(holdID, params)
	if err == nil {
		return nil
	}
	if !isUnexpectedState(err) {
		return classify("capture hold", err)
	}

	switch status, gerr := p.status(ctx, holdID); {
	case gerr != nil:
		return classify("capture hold", gerr)
	case status == stripe.PaymentIntentStatusSucceeded:
		return nil
	case status == stripe.PaymentIntentStatusCanceled:
		return ErrHoldCanceled
	}
	return classify("capture hold", err)
}

func (p *StripeProcessor) ParseWebhook(payload []byte, signatureHeader string) (Event, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return DecodeEvent(ev)
}

func (p *StripeProcessor) status(ctx context.Context, holdID string) (stripe.PaymentIntentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.sc.PaymentIntents.Get(holdID, params)
	if err != nil {
		return "", err
	}
	return pi.Status, nil
}

func isUnexpectedState(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState
}

// classify keeps 429/5xx and transport errors retryable and marks every
// other processor error as rejected.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
