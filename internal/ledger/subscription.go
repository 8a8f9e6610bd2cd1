package ledger

import (
	"context"
	"time"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
)

// SubscriptionEventType enumerates the normalized subscription events the
// webhook adapter delivers.
type SubscriptionEventType string

const (
	SubscriptionStarted          SubscriptionEventType = "subscribed"
	SubscriptionRenewed          SubscriptionEventType = "renewed"
	SubscriptionCancelledEvent   SubscriptionEventType = "cancelled"
	SubscriptionPaymentFailed    SubscriptionEventType = "payment_failed"
	SubscriptionPaymentSucceeded SubscriptionEventType = "payment_succeeded"
	SubscriptionResubscribed     SubscriptionEventType = "resubscribed"
	SubscriptionTerminated       SubscriptionEventType = "terminated"
)

// SubscriptionEvent is a normalized subscription lifecycle event.
type SubscriptionEvent struct {
	Type        SubscriptionEventType
	UserID      ids.UserID
	Plan        billing.Plan
	PeriodStart time.Time
	PeriodEnd   time.Time
	ExternalID  string
}

// ApplySubscriptionEvent drives the subscription state machine:
//
//	absent    -> Active   on subscribed (grants monthly credits)
//	Active    -> Active   on renewed (new period, grants again)
//	Active    -> Cancelled on cancelled (remains until period end)
//	Active    -> PastDue  on payment_failed
//	Cancelled -> Active   on resubscribed
//	PastDue   -> Active   on payment_succeeded
//	any       -> absent   on terminated
//
// Per-period grants are idempotent, so replayed webhooks are safe.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, ev SubscriptionEvent) error {
	switch ev.Type {
	case SubscriptionStarted, SubscriptionRenewed, SubscriptionResubscribed:
		now := time.Now().UTC()
		_, err := s.store.UpdateAccount(ev.UserID, func(a *billing.Account) error {
			sub := a.Subscription
			if sub == nil {
				sub = &billing.Subscription{CreatedAt: now}
			}
			if ev.Plan != "" {
				sub.Plan = ev.Plan
			}
			sub.Status = billing.SubscriptionActive
			if !ev.PeriodStart.IsZero() {
				sub.CurrentPeriodStart = ev.PeriodStart
			}
			if !ev.PeriodEnd.IsZero() {
				sub.CurrentPeriodEnd = ev.PeriodEnd
			}
			if ev.ExternalID != "" {
				sub.ExternalID = ev.ExternalID
			}
			a.Subscription = sub
			return nil
		})
		if err != nil {
			return err
		}
		plan := ev.Plan
		if plan == "" {
			account, err := s.store.GetAccount(ev.UserID)
			if err != nil {
				return err
			}
			plan = account.CurrentPlan()
		}
		_, err = s.GrantSubscriptionCredits(ctx, ev.UserID, plan)
		return err

	case SubscriptionCancelledEvent:
		return s.transitionStatus(ev.UserID, billing.SubscriptionActive, billing.SubscriptionCancelled)

	case SubscriptionPaymentFailed:
		return s.transitionStatus(ev.UserID, billing.SubscriptionActive, billing.SubscriptionPastDue)

	case SubscriptionPaymentSucceeded:
		return s.transitionStatus(ev.UserID, billing.SubscriptionPastDue, billing.SubscriptionActive)

	case SubscriptionTerminated:
		_, err := s.store.UpdateAccount(ev.UserID, func(a *billing.Account) error {
			a.Subscription = nil
			return nil
		})
		return err

	default:
		return invalidRequest("type", "unknown subscription event "+string(ev.Type))
	}
}

func (s *Service) transitionStatus(userID ids.UserID, from, to billing.SubscriptionStatus) error {
	_, err := s.store.UpdateAccount(userID, func(a *billing.Account) error {
		if a.Subscription == nil || a.Subscription.Status != from {
			// Out-of-order webhook delivery; leave the record alone.
			return nil
		}
		a.Subscription.Status = to
		return nil
	})
	return err
}

// SweepSubscriptions removes subscriptions that ran out: cancelled ones
// past their period end, and past-due ones past the grace period.
func (s *Service) SweepSubscriptions(ctx context.Context, now time.Time) error {
	var expired []ids.UserID
	err := s.store.ForEachAccount(func(a billing.Account) bool {
		sub := a.Subscription
		if sub == nil {
			return true
		}
		switch sub.Status {
		case billing.SubscriptionCancelled:
			if now.After(sub.CurrentPeriodEnd) {
				expired = append(expired, a.UserID)
			}
		case billing.SubscriptionPastDue:
			if now.After(sub.CurrentPeriodEnd.Add(s.pastDueGrace)) {
				expired = append(expired, a.UserID)
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, userID := range expired {
		_, err := s.store.UpdateAccount(userID, func(a *billing.Account) error {
			a.Subscription = nil
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("subscription expired", "user_id", userID.String())
	}
	return nil
}

// RunSubscriptionSweeper sweeps on a fixed interval until ctx ends.
func (s *Service) RunSubscriptionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepSubscriptions(ctx, time.Now().UTC()); err != nil {
				s.logger.Warn("subscription sweep failed", "error", err)
			}
		}
	}
}
