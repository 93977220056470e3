package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paysa/internal/models"
	"paysa/internal/money"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// Stripe object prefixes, used to route QueryStatus.
const (
	payoutPrefix = "po_"
	intentPrefix = "pi_"
)

type payoutAPI interface {
	New(params *stripe.PayoutParams) (*stripe.Payout, error)
	Get(id string, params *stripe.PayoutParams) (*stripe.Payout, error)
}

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConnector settles cash-outs as Stripe payouts and cash-ins as
// confirmed payment intents. The transaction ID is the Stripe idempotency key.
type StripeConnector struct {
	payouts payoutAPI
	intents intentAPI
}

// NewStripeConnector builds a connector with its own API client, so no global key is set.
func NewStripeConnector(secretKey string) *StripeConnector {
	api := client.New(secretKey, nil)
	return &StripeConnector{payouts: api.Payouts, intents: api.PaymentIntents}
}

func (c *StripeConnector) Submit(ctx context.Context, tx *models.Transaction) (Result, error) {
	amount := money.ToMinor(tx.NetAmount, tx.DestinationCurrency)
	currency := strings.ToLower(tx.DestinationCurrency)

	switch tx.Kind {
	case models.KindCashOut:
		params := &stripe.PayoutParams{
			Amount:      stripe.Int64(amount),
			Currency:    stripe.String(currency),
			Description: stripe.String("wallet cash-out " + tx.ID),
		}
		if dest, ok := tx.MethodDetails["destination"].(string); ok && dest != "" {
			params.Destination = stripe.String(dest)
		}
		params.Context = ctx
		params.SetIdempotencyKey(tx.ID)
		params.AddMetadata("transaction_id", tx.ID)

		p, err := c.payouts.New(params)
		if err != nil {
			return Result{}, classify(err)
		}
		return payoutResult(p), nil

	case models.KindCashIn:
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(amount),
			Currency: stripe.String(currency),
			Confirm:  stripe.Bool(true),
		}
		if pm, ok := tx.MethodDetails["payment_method"].(string); ok && pm != "" {
			params.PaymentMethod = stripe.String(pm)
		}
		if cust, ok := tx.MethodDetails["customer"].(string); ok && cust != "" {
			params.Customer = stripe.String(cust)
		}
		params.Context = ctx
		params.SetIdempotencyKey(tx.ID)
		params.AddMetadata("transaction_id", tx.ID)

		pi, err := c.intents.New(params)
		if err != nil {
			return Result{}, classify(err)
		}
		return intentResult(pi, tx.DestinationCurrency), nil
	}
	return Result{}, fmt.Errorf("%w: stripe cannot settle %s", ErrRejected, tx.Kind)
}

func (c *StripeConnector) QueryStatus(ctx context.Context, externalRef string) (Result, error) {
	switch {
	case strings.HasPrefix(externalRef, payoutPrefix):
		params := &stripe.PayoutParams{}
		params.Context = ctx
		p, err := c.payouts.Get(externalRef, params)
		if err != nil {
			return Result{}, classifyQuery(err, externalRef)
		}
		return payoutResult(p), nil
	case strings.HasPrefix(externalRef, intentPrefix):
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := c.intents.Get(externalRef, params)
		if err != nil {
			return Result{}, classifyQuery(err, externalRef)
		}
		return intentResult(pi, string(pi.Currency)), nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnknownReference, externalRef)
}

func payoutResult(p *stripe.Payout) Result {
	currency := strings.ToUpper(string(p.Currency))
	res := Result{
		ExternalRef: p.ID,
		Amount:      money.FromMinor(p.Amount, currency),
		Currency:    currency,
		Detail:      p.FailureMessage,
	}
	switch p.Status {
	case stripe.PayoutStatusPaid:
		res.Status = StatusSuccess
	case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
		res.Status = StatusFailed
	default:
		res.Status = StatusPending
	}
	return res
}

func intentResult(pi *stripe.PaymentIntent, currency string) Result {
	currency = strings.ToUpper(currency)
	res := Result{
		ExternalRef: pi.ID,
		Amount:      money.FromMinor(pi.Amount, currency),
		Currency:    currency,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Status = StatusSuccess
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		res.Status = StatusFailed
		if pi.LastPaymentError != nil {
			res.Detail = pi.LastPaymentError.Msg
		}
	default:
		res.Status = StatusPending
	}
	return res
}

// classify turns card and request errors into definitive rejections. Anything
// else, including network failures and 5xx, stays ambiguous.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%w: %s", ErrRejected, se.Msg)
		}
	}
	return fmt.Errorf("stripe request failed: %w", err)
}

func classifyQuery(err error, ref string) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == 404 {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	return fmt.Errorf("stripe status query failed: %w", err)
}
