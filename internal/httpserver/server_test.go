package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypher-asi/z-billing/internal/app"
	"github.com/cypher-asi/z-billing/internal/config"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/payments"
	"github.com/cypher-asi/z-billing/internal/store"
)

const testAPIKey = "test-service-key"

func newTestServer(t *testing.T) (*Server, *app.Container) {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":0"
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Server.RequestTimeoutSeconds = 5
	cfg.Auth.ServiceAPIKey = testAPIKey
	cfg.Analytics.QueueSize = 8
	cfg.Analytics.Timeout = time.Second
	cfg.Payments.WebhookSecret = "whsec_test"
	cfg.Subscriptions.PastDueGraceDays = 14

	container, err := app.NewContainer(context.Background(), cfg, st, nil)
	require.NoError(t, err)

	server, err := New(container)
	require.NoError(t, err)
	return server, container
}

func doJSON(t *testing.T, server *Server, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createAccountHTTP(t *testing.T, server *Server) ids.UserID {
	t.Helper()
	userID := ids.NewUserID()
	resp := doJSON(t, server, http.MethodPost, "/v1/accounts", map[string]any{"user_id": userID.String()}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	return userID
}

func fundAccount(t *testing.T, server *Server, userID ids.UserID, cents int64) {
	t.Helper()
	resp := doJSON(t, server, http.MethodPost, "/v1/admin/credits", map[string]any{
		"user_id":      userID.String(),
		"amount_cents": cents,
		"reason":       "test funding",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func llmUsageBody(userID ids.UserID, eventID string) map[string]any {
	return map[string]any{
		"event_id": eventID,
		"user_id":  userID.String(),
		"metric": map[string]any{
			"type":          "llm_tokens",
			"provider":      "anthropic",
			"model":         "claude-3-5-sonnet",
			"input_tokens":  500,
			"output_tokens": 1000,
		},
	}
}

func TestAuthRequired(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/usage", nil)
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp, err = server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReportUsageEndToEnd(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 5000)

	resp := doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(userID, "e1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(4999), body["balance_cents"])
	assert.Equal(t, float64(1), body["cost_cents"])
	assert.Len(t, body["transaction_id"], 26)
}

func TestReportUsageDuplicateReturns409(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 5000)

	resp := doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(userID, "e1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(userID, "e1"), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "duplicate_event", errObj["code"])
	assert.Equal(t, "e1", errObj["details"].(map[string]any)["event_id"])
}

func TestReportUsageInsufficientReturns402(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 10)

	body := llmUsageBody(userID, "big")
	body["cost_cents"] = 100

	resp := doJSON(t, server, http.MethodPost, "/v1/usage", body, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	decoded := decodeBody(t, resp)
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "insufficient_credits", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, float64(10), details["balance_cents"])
	assert.Equal(t, float64(100), details["required_cents"])
}

func TestReportUsageUnknownUserReturns404(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, server, http.MethodPost, "/v1/usage", llmUsageBody(ids.NewUserID(), "ghost"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportUsageMalformedUserID(t *testing.T) {
	server, _ := newTestServer(t)
	body := llmUsageBody(ids.NewUserID(), "bad")
	body["user_id"] = "not-a-uuid"
	resp := doJSON(t, server, http.MethodPost, "/v1/usage", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportUsageBatchPartialFailure(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 2)

	events := []map[string]any{
		func() map[string]any { b := llmUsageBody(userID, "b1"); b["cost_cents"] = 1; return b }(),
		func() map[string]any { b := llmUsageBody(userID, "b1"); b["cost_cents"] = 1; return b }(),
		func() map[string]any { b := llmUsageBody(userID, "b2"); b["cost_cents"] = 100; return b }(),
		func() map[string]any { b := llmUsageBody(userID, "b3"); b["cost_cents"] = 1; return b }(),
	}
	resp := doJSON(t, server, http.MethodPost, "/v1/usage/batch", map[string]any{"events": events}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, float64(2), body["failed"])

	results := body["results"].([]any)
	require.Len(t, results, 4)
	second := results[1].(map[string]any)
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "duplicate_event", second["code"])
	third := results[2].(map[string]any)
	assert.Equal(t, "insufficient_credits", third["code"])
}

func TestCheckBalanceEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 1000)

	resp := doJSON(t, server, http.MethodPost, "/v1/usage/check-balance", map[string]any{
		"user_id":        userID.String(),
		"required_cents": 500,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["sufficient"])
	assert.Equal(t, float64(1000), body["balance_cents"])
	assert.Equal(t, float64(500), body["required_cents"])
}

func TestCreateAccountConflict(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)

	resp := doJSON(t, server, http.MethodPost, "/v1/accounts", map[string]any{"user_id": userID.String()}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "conflict", body["error"].(map[string]any)["code"])
}

func TestBalanceAndTransactionsEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	fundAccount(t, server, userID, 5000)

	headers := map[string]string{"X-Authenticated-User": userID.String()}

	resp := doJSON(t, server, http.MethodGet, "/v1/credits/balance", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(5000), body["balance_cents"])
	assert.Equal(t, "$50.00", body["balance_formatted"])
	assert.Equal(t, "free", body["plan"])

	// Three usage debits; listing returns newest first.
	for i := 1; i <= 3; i++ {
		usage := llmUsageBody(userID, fmt.Sprintf("t%d", i))
		usage["cost_cents"] = i
		resp := doJSON(t, server, http.MethodPost, "/v1/usage", usage, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		time.Sleep(2 * time.Millisecond)
	}

	resp = doJSON(t, server, http.MethodGet, "/v1/credits/transactions?limit=10", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	transactions := body["transactions"].([]any)
	require.Len(t, transactions, 4) // funding bonus + 3 debits
	newest := transactions[0].(map[string]any)
	assert.Equal(t, float64(-3), newest["amount_cents"])
	assert.Equal(t, "usage", newest["transaction_type"])
	assert.Equal(t, false, body["has_more"])

	// Missing identity header is rejected.
	resp = doJSON(t, server, http.MethodGet, "/v1/credits/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConfigureAutoRefillEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)
	headers := map[string]string{"X-Authenticated-User": userID.String()}

	resp := doJSON(t, server, http.MethodPut, "/v1/credits/auto-refill", map[string]any{
		"enabled":             true,
		"trigger_below_cents": 1000,
		"refill_amount_cents": 2500,
	}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	refill := body["auto_refill"].(map[string]any)
	assert.Equal(t, true, refill["enabled"])
	assert.Equal(t, float64(1000), refill["trigger_below_cents"])

	// Below-minimum threshold is a 400.
	resp = doJSON(t, server, http.MethodPut, "/v1/credits/auto-refill", map[string]any{
		"enabled":             true,
		"trigger_below_cents": 10,
	}, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentWebhookEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	userID := createAccountHTTP(t, server)

	payload, err := json.Marshal(map[string]any{
		"type": "checkout.session.completed",
		"id":   "evt_1",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "sess_1",
				"client_reference_id": userID.String(),
				"payment_status":      "paid",
				"amount_total":        5000,
			},
		},
	})
	require.NoError(t, err)

	// Wrong signature rejected.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment-Signature", "nope")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid signature credits the account.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment-Signature", payments.Sign("whsec_test", payload))
	resp, err = server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["received"])

	check := doJSON(t, server, http.MethodPost, "/v1/usage/check-balance", map[string]any{
		"user_id":        userID.String(),
		"required_cents": 5000,
	}, nil)
	require.Equal(t, http.StatusOK, check.StatusCode)
	assert.Equal(t, true, decodeBody(t, check)["sufficient"])
}

func TestHealthAndUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	resp, err = server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
