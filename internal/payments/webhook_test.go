package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/ledger"
	"github.com/cypher-asi/z-billing/internal/store"
)

func newLedger(t *testing.T) *ledger.Service {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return ledger.New(ledger.Options{Store: st})
}

func newUser(t *testing.T, svc *ledger.Service) ids.UserID {
	t.Helper()
	userID := ids.NewUserID()
	_, err := svc.CreateAccount(context.Background(), userID, "")
	require.NoError(t, err)
	return userID
}

func checkoutBody(t *testing.T, userID ids.UserID, sessionID string, amountTotal int64, credits string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": "checkout.session.completed",
		"id":   "evt_" + sessionID,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  sessionID,
				"client_reference_id": userID.String(),
				"payment_status":      "paid",
				"amount_total":        amountTotal,
				"metadata":            map[string]any{"credits_amount": credits},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestCheckoutCompletedCreditsAccount(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewPaymentWebhookAdapter(svc, "", nil)

	body := checkoutBody(t, userID, "sess_1", 4500, "5000")
	require.NoError(t, adapter.HandleEvent(context.Background(), body, ""))

	account, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	// Credits come from metadata (discounted cash, full credits).
	assert.Equal(t, int64(5000), account.BalanceCents)
	assert.Equal(t, int64(5000), account.LifetimePurchasedCents)
}

func TestCheckoutCompletedReplaySafe(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewPaymentWebhookAdapter(svc, "", nil)

	body := checkoutBody(t, userID, "sess_2", 5000, "")
	require.NoError(t, adapter.HandleEvent(context.Background(), body, ""))
	require.NoError(t, adapter.HandleEvent(context.Background(), body, ""))

	account, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.BalanceCents)
}

func TestCheckoutUnpaidSkipped(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewPaymentWebhookAdapter(svc, "", nil)

	body, err := json.Marshal(map[string]any{
		"type": "checkout.session.completed",
		"id":   "evt_x",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "sess_unpaid",
				"client_reference_id": userID.String(),
				"payment_status":      "unpaid",
				"amount_total":        5000,
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.HandleEvent(context.Background(), body, ""))

	account, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, account.BalanceCents)
}

func TestSignatureVerification(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewPaymentWebhookAdapter(svc, "whsec_test", nil)

	body := checkoutBody(t, userID, "sess_3", 1000, "")

	err := adapter.HandleEvent(context.Background(), body, "bad-signature")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	require.NoError(t, adapter.HandleEvent(context.Background(), body, Sign("whsec_test", body)))
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	svc := newLedger(t)
	adapter := NewPaymentWebhookAdapter(svc, "", nil)

	body := []byte(`{"type":"customer.created","id":"evt_y","data":{"object":{}}}`)
	assert.NoError(t, adapter.HandleEvent(context.Background(), body, ""))
}

// The payment provider's settlement and subscription-copy events are
// acknowledged without touching ledger state; credits land via checkout
// completion, and the subscription lifecycle is driven by the
// subscription provider's webhook.
func TestAcknowledgedOnlyEvents(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewPaymentWebhookAdapter(svc, "", nil)

	for _, body := range [][]byte{
		[]byte(`{"type":"payment_intent.succeeded","id":"evt_pi","data":{"object":{"id":"pi_1","status":"succeeded"}}}`),
		[]byte(`{"type":"customer.subscription.created","id":"evt_s1","data":{"object":{"id":"sub_1","status":"active"}}}`),
		[]byte(`{"type":"customer.subscription.updated","id":"evt_s2","data":{"object":{"id":"sub_1","status":"active"}}}`),
		[]byte(`{"type":"customer.subscription.deleted","id":"evt_s3","data":{"object":{"id":"sub_1"}}}`),
	} {
		require.NoError(t, adapter.HandleEvent(context.Background(), body, ""))
	}

	account, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, account.BalanceCents)
	assert.Nil(t, account.Subscription)
}

func TestSubscriptionWebhookLifecycle(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewSubscriptionWebhookAdapter(svc, "", nil)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	started, err := json.Marshal(map[string]any{
		"webhook_type": "subscription.started",
		"subscription": map[string]any{
			"external_customer_id":     userID.String(),
			"external_subscription_id": "sub_1",
			"plan_code":                "standard",
			"current_period_start":     start,
			"current_period_end":       end,
		},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.HandleEvent(context.Background(), started, ""))

	account, err := svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, account.Subscription)
	assert.Equal(t, billing.PlanStandard, account.Subscription.Plan)
	assert.Equal(t, int64(2500), account.BalanceCents)

	// Replay grants nothing extra.
	require.NoError(t, adapter.HandleEvent(context.Background(), started, ""))
	account, err = svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), account.BalanceCents)

	cancelled, err := json.Marshal(map[string]any{
		"webhook_type": "subscription.cancelled",
		"subscription": map[string]any{"external_customer_id": userID.String()},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.HandleEvent(context.Background(), cancelled, ""))

	account, err = svc.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionCancelled, account.Subscription.Status)
}

func TestSubscriptionWebhookRejectsUnknownPlan(t *testing.T) {
	svc := newLedger(t)
	userID := newUser(t, svc)
	adapter := NewSubscriptionWebhookAdapter(svc, "", nil)

	body, err := json.Marshal(map[string]any{
		"webhook_type": "subscription.started",
		"subscription": map[string]any{
			"external_customer_id": userID.String(),
			"plan_code":            "platinum",
		},
	})
	require.NoError(t, err)
	assert.Error(t, adapter.HandleEvent(context.Background(), body, ""))
}

func TestHTTPProviderCharge(t *testing.T) {
	userID := ids.NewUserID()
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(ProviderOptions{URL: srv.URL, APIKey: "key"})
	require.NoError(t, provider.Charge(context.Background(), userID, 2500))

	payload := <-received
	assert.Equal(t, userID.String(), payload["user_id"])
	assert.Equal(t, float64(2500), payload["amount_cents"])
}
