package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/usagerecord"
)

// ErrBillingDisabled is returned by Report when no Stripe key is configured.
var ErrBillingDisabled = errors.New("stripe billing is not configured")

// usageRecords is the subset of the Stripe usage record API we call.
type usageRecords interface {
	New(params *stripe.UsageRecordParams) (*stripe.UsageRecord, error)
}

// StripeReporter reports consumed tokens as metered usage on a Stripe
// subscription item.
type StripeReporter struct {
	records usageRecords
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewStripeReporter creates a reporter for apiKey. An empty key yields a
// disabled reporter.
func NewStripeReporter(apiKey string, log logrus.FieldLogger) *StripeReporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &StripeReporter{now: time.Now, log: log}
	if apiKey != "" {
		r.records = &usagerecord.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey}
	}
	return r
}

// Enabled reports whether usage is sent to Stripe.
func (r *StripeReporter) Enabled() bool {
	return r != nil && r.records != nil
}

// Report increments the usage of subscriptionItem by tokens.
func (r *StripeReporter) Report(ctx context.Context, subscriptionItem string, tokens int64) error {
	if !r.Enabled() {
		return ErrBillingDisabled
	}
	if subscriptionItem == "" {
		return fmt.Errorf("report usage: subscription item is required")
	}
	if tokens <= 0 {
		return nil
	}

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(subscriptionItem),
		Quantity:         stripe.Int64(tokens),
		Timestamp:        stripe.Int64(r.now().Unix()),
		Action:           stripe.String("increment"),
	}
	params.Context = ctx

	record, err := r.records.New(params)
	if err != nil {
		return fmt.Errorf("report usage to stripe: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"subscription_item": subscriptionItem,
		"quantity":          tokens,
		"record_id":         record.ID,
	}).Debug("reported usage to stripe")
	return nil
}
