// Package billing holds the domain records persisted by the ledger:
// accounts, credit transactions, and usage events. Records are plain data
// with invariants enforced by their factories; all monetary amounts are
// signed 64-bit integer cents (1 credit = 1 cent).
package billing

import (
	"time"

	"github.com/cypher-asi/z-billing/internal/ids"
)

// Account is the per-user root record holding the credit balance and
// lifetime counters. Mutated only through ledger operations.
type Account struct {
	UserID ids.UserID `json:"user_id" cbor:"1,keyasint"`

	// BalanceCents is the current credit balance. Non-negative outside a
	// ledger operation.
	BalanceCents int64 `json:"balance_cents" cbor:"2,keyasint"`

	// Lifetime counters are monotonically non-decreasing.
	LifetimePurchasedCents int64 `json:"lifetime_purchased_cents" cbor:"3,keyasint"`
	LifetimeGrantedCents   int64 `json:"lifetime_granted_cents" cbor:"4,keyasint"`
	LifetimeUsedCents      int64 `json:"lifetime_used_cents" cbor:"5,keyasint"`

	Subscription *Subscription `json:"subscription,omitempty" cbor:"6,keyasint,omitempty"`
	AutoRefill   *AutoRefill   `json:"auto_refill,omitempty" cbor:"7,keyasint,omitempty"`

	// External customer references for the payment and analytics
	// providers, when linked.
	PaymentCustomerID   string `json:"payment_customer_id,omitempty" cbor:"8,keyasint,omitempty"`
	AnalyticsCustomerID string `json:"analytics_customer_id,omitempty" cbor:"9,keyasint,omitempty"`

	CreatedAt time.Time `json:"created_at" cbor:"10,keyasint"`
	UpdatedAt time.Time `json:"updated_at" cbor:"11,keyasint"`

	// Email is optional contact metadata captured at account creation.
	Email string `json:"email,omitempty" cbor:"12,keyasint,omitempty"`
}

// NewAccount returns a fresh account with zero balance and counters.
func NewAccount(userID ids.UserID, now time.Time) Account {
	return Account{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasSufficientCredits reports whether the balance covers amountCents.
func (a *Account) HasSufficientCredits(amountCents int64) bool {
	return a.BalanceCents >= amountCents
}

// CurrentPlan returns the subscribed plan, or PlanFree without one.
func (a *Account) CurrentPlan() Plan {
	if a.Subscription == nil {
		return PlanFree
	}
	return a.Subscription.Plan
}

// HasActiveSubscription reports whether a subscription exists and is
// currently active.
func (a *Account) HasActiveSubscription() bool {
	return a.Subscription != nil && a.Subscription.Status == SubscriptionActive
}

// Subscription is embedded in Account while the user is subscribed.
type Subscription struct {
	Plan               Plan               `json:"plan" cbor:"1,keyasint"`
	Status             SubscriptionStatus `json:"status" cbor:"2,keyasint"`
	CurrentPeriodStart time.Time          `json:"current_period_start" cbor:"3,keyasint"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" cbor:"4,keyasint"`

	// ExternalID is the subscription id at the billing provider.
	ExternalID string `json:"external_id,omitempty" cbor:"5,keyasint,omitempty"`

	CreatedAt time.Time `json:"created_at" cbor:"6,keyasint"`
}

// SubscriptionStatus enumerates the subscription state machine states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// Plan is the closed set of billing plans.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStandard   Plan = "standard"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan maps a plan code to a Plan, rejecting unknown codes.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(s) {
	case PlanFree, PlanStandard, PlanPro, PlanEnterprise:
		return Plan(s), true
	}
	return "", false
}

// MonthlyCredits returns the monthly credit allowance. Free grants none;
// Enterprise allowances are negotiated and set out of band.
func (p Plan) MonthlyCredits() int64 {
	switch p {
	case PlanStandard:
		return 2500
	case PlanPro:
		return 6000
	default:
		return 0
	}
}

// PurchaseDiscountPercent returns the discount applied to one-time
// purchases for subscribers on this plan.
func (p Plan) PurchaseDiscountPercent() int64 {
	switch p {
	case PlanStandard:
		return 10
	case PlanPro:
		return 20
	default:
		return 0
	}
}

// MonthlyPriceCents returns the subscription price in cents.
func (p Plan) MonthlyPriceCents() int64 {
	switch p {
	case PlanStandard:
		return 2000
	case PlanPro:
		return 5000
	default:
		return 0
	}
}

// AutoRefill configures automatic credit purchases when the balance drops
// below a threshold.
type AutoRefill struct {
	Enabled bool `json:"enabled" cbor:"1,keyasint"`

	// TriggerBelowCents must be at least 100 ($1).
	TriggerBelowCents int64 `json:"trigger_below_cents" cbor:"2,keyasint"`

	// RefillAmountCents must be at least 500 ($5).
	RefillAmountCents int64 `json:"refill_amount_cents" cbor:"3,keyasint"`
}

// DefaultAutoRefill returns the disabled default configuration.
func DefaultAutoRefill() AutoRefill {
	return AutoRefill{
		Enabled:           false,
		TriggerBelowCents: 500,
		RefillAmountCents: 2500,
	}
}
