// Package ledger implements the public billing operations on top of the
// store: usage deduction, credit addition, balance queries, idempotent
// webhook effects, and the subscription state machine. Outbound calls to
// the analytics and payment services are best-effort and never affect
// ledger state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cypher-asi/z-billing/internal/billing"
	"github.com/cypher-asi/z-billing/internal/forward"
	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/pricing"
	"github.com/cypher-asi/z-billing/internal/store"
)

// Charger requests a payment from the payment provider. Implementations
// are expected to complete the credit asynchronously by calling
// PurchaseCompleted once the charge settles.
type Charger interface {
	Charge(ctx context.Context, userID ids.UserID, amountCents int64) error
}

// Options wires the service dependencies.
type Options struct {
	Store     store.Store
	Pricing   *pricing.Config
	Forwarder *forward.Forwarder
	Payments  Charger
	Logger    *slog.Logger

	// PastDueGrace bounds how long a past-due subscription survives past
	// its period end before the sweeper removes it.
	PastDueGrace time.Duration
}

// Service is the ledger's public contract to the HTTP handlers and
// webhook adapters.
type Service struct {
	store     store.Store
	pricing   *pricing.Config
	forwarder *forward.Forwarder
	payments  Charger
	logger    *slog.Logger

	pastDueGrace time.Duration

	// refillMu guards the set of users with an auto-refill charge in
	// flight, so a burst of debits below the threshold requests one
	// charge, not one per debit.
	refillMu       sync.Mutex
	refillInFlight map[ids.UserID]struct{}
}

const defaultPastDueGrace = 14 * 24 * time.Hour

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Pricing
	if cfg == nil {
		cfg = pricing.Default()
	}
	grace := opts.PastDueGrace
	if grace <= 0 {
		grace = defaultPastDueGrace
	}
	return &Service{
		store:          opts.Store,
		pricing:        cfg,
		forwarder:      opts.Forwarder,
		payments:       opts.Payments,
		logger:         logger,
		pastDueGrace:   grace,
		refillInFlight: make(map[ids.UserID]struct{}),
	}
}

// Pricing exposes the read-only pricing table.
func (s *Service) Pricing() *pricing.Config { return s.pricing }

// Account operations

// CreateAccount registers a new account with zero balance.
func (s *Service) CreateAccount(ctx context.Context, userID ids.UserID, email string) (*billing.Account, error) {
	account := billing.NewAccount(userID, time.Now().UTC())
	account.Email = email
	if err := s.store.CreateAccount(&account); err != nil {
		return nil, err
	}
	s.logger.Info("account created", "user_id", userID.String())
	return &account, nil
}

// DeleteAccount removes the account row and index; transactions and
// usage events remain for audit.
func (s *Service) DeleteAccount(ctx context.Context, userID ids.UserID) error {
	if err := s.store.DeleteAccount(userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", "user_id", userID.String())
	return nil
}

// GetAccount returns a snapshot of the account.
func (s *Service) GetAccount(ctx context.Context, userID ids.UserID) (*billing.Account, error) {
	return s.store.GetAccount(userID)
}

// CheckBalance answers whether the balance covers requiredCents.
func (s *Service) CheckBalance(ctx context.Context, userID ids.UserID, requiredCents int64) (*BalanceCheck, error) {
	account, err := s.store.GetAccount(userID)
	if err != nil {
		return nil, err
	}
	return &BalanceCheck{
		Sufficient:    account.BalanceCents >= requiredCents,
		BalanceCents:  account.BalanceCents,
		RequiredCents: requiredCents,
	}, nil
}

// ListTransactions returns up to limit transactions newest first and
// whether more remain past the requested page.
func (s *Service) ListTransactions(ctx context.Context, userID ids.UserID, limit, offset int) ([]billing.CreditTransaction, bool, error) {
	if _, err := s.store.GetAccount(userID); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	// One extra row answers has_more.
	transactions, err := s.store.ListTransactionsByUser(userID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(transactions) > limit
	if hasMore {
		transactions = transactions[:limit]
	}
	return transactions, hasMore, nil
}

// Usage operations

// ReportUsage prices the event if needed, deducts the cost atomically,
// and queues a best-effort analytics forward after commit.
func (s *Service) ReportUsage(ctx context.Context, req UsageRequest) (*UsageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.EventID == "" {
		return nil, invalidRequest("event_id", "must not be empty")
	}
	if req.UserID.IsZero() {
		return nil, invalidRequest("user_id", "must not be empty")
	}
	req.Metric.Normalize()

	cost := int64(0)
	if req.CostCents != nil {
		cost = *req.CostCents
		if cost < 0 {
			return nil, invalidRequest("cost_cents", "must not be negative")
		}
	} else {
		computed, err := s.computeCost(req.Metric)
		if err != nil {
			return nil, err
		}
		cost = computed
	}

	source := req.Source
	if source == "" {
		source = "unknown"
	}

	event := &billing.UsageEvent{
		EventID:   req.EventID,
		UserID:    req.UserID,
		AgentID:   req.AgentID,
		Source:    source,
		Metric:    metricRecord(req.Metric),
		Quantity:  metricQuantity(req.Metric),
		CostCents: cost,
		Timestamp: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	tx := billing.NewUsage(req.UserID, cost, usageDescription(req.Metric, source), req.Metadata)

	balance, err := s.store.ProcessUsage(event, &tx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("usage processed",
		"event_id", req.EventID,
		"user_id", req.UserID.String(),
		"cost_cents", cost,
		"new_balance", balance,
	)

	s.forwarder.Enqueue(event)
	s.maybeAutoRefill(req.UserID, balance)

	return &UsageResult{
		BalanceCents:  balance,
		CostCents:     cost,
		TransactionID: tx.ID,
	}, nil
}

// ReportUsageBatch processes events sequentially in the supplied order.
// A failed event never aborts the batch.
func (s *Service) ReportUsageBatch(ctx context.Context, reqs []UsageRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		result, err := s.ReportUsage(ctx, req)
		if err != nil {
			results = append(results, BatchResult{EventID: req.EventID, Err: err})
			continue
		}
		results = append(results, BatchResult{
			EventID:   req.EventID,
			Success:   true,
			CostCents: result.CostCents,
		})
	}
	return results
}

// Credit operations

// PurchaseCompleted credits a settled payment. Idempotent on the
// provider reference: a replayed webhook returns the original balance
// without a second credit. txType is Purchase for checkout settlements
// and AutoRefill for settled refill charges.
func (s *Service) PurchaseCompleted(ctx context.Context, userID ids.UserID, amountCents int64, providerRef string, txType billing.TransactionType, description string) (int64, error) {
	if amountCents <= 0 {
		return 0, invalidRequest("amount_cents", "must be positive")
	}
	if providerRef == "" {
		return 0, invalidRequest("provider_reference", "must not be empty")
	}
	if txType != billing.TransactionPurchase && txType != billing.TransactionAutoRefill {
		return 0, invalidRequest("transaction_type", "must be purchase or auto_refill")
	}

	if txType == billing.TransactionAutoRefill {
		s.clearRefillInFlight(userID)
	}

	tx := billing.CreditTransaction{
		ID:          ids.NewTransactionID(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        txType,
		Description: description,
		Metadata:    map[string]any{"provider_reference": providerRef},
		CreatedAt:   time.Now().UTC(),
	}

	balance, duplicate, err := s.store.AddCreditsMarked(userID, amountCents, &tx, purchaseMarker(providerRef))
	if err != nil {
		return 0, err
	}
	if duplicate {
		s.logger.Info("purchase replayed, already credited",
			"user_id", userID.String(),
			"provider_reference", providerRef,
		)
		return balance, nil
	}

	s.logger.Info("purchase credited",
		"user_id", userID.String(),
		"amount_cents", amountCents,
		"provider_reference", providerRef,
		"new_balance", balance,
	)
	return balance, nil
}

// GrantSubscriptionCredits applies the plan's monthly allowance once per
// billing period.
func (s *Service) GrantSubscriptionCredits(ctx context.Context, userID ids.UserID, plan billing.Plan) (int64, error) {
	account, err := s.store.GetAccount(userID)
	if err != nil {
		return 0, err
	}
	if account.Subscription == nil {
		return 0, invalidRequest("subscription", "no subscription on account")
	}

	amount := plan.MonthlyCredits()
	if amount == 0 {
		return account.BalanceCents, nil
	}

	tx := billing.NewSubscriptionGrant(userID, amount, plan)
	marker := grantMarker(userID, account.Subscription.CurrentPeriodStart)
	balance, duplicate, err := s.store.AddCreditsMarked(userID, amount, &tx, marker)
	if err != nil {
		return 0, err
	}
	if duplicate {
		return balance, nil
	}

	s.logger.Info("subscription credits granted",
		"user_id", userID.String(),
		"plan", string(plan),
		"amount_cents", amount,
		"new_balance", balance,
	)
	return balance, nil
}

// AddBonus credits promotional credits outside the purchase flow.
func (s *Service) AddBonus(ctx context.Context, userID ids.UserID, amountCents int64, reason string) (int64, ids.TransactionID, error) {
	if amountCents <= 0 {
		return 0, ids.TransactionID{}, invalidRequest("amount_cents", "must be positive")
	}
	tx := billing.NewBonus(userID, amountCents, reason)
	balance, err := s.store.AddCredits(userID, amountCents, &tx)
	if err != nil {
		return 0, ids.TransactionID{}, err
	}
	return balance, tx.ID, nil
}

// AddRefund credits a refund issued by support.
func (s *Service) AddRefund(ctx context.Context, userID ids.UserID, amountCents int64, reason string) (int64, ids.TransactionID, error) {
	if amountCents <= 0 {
		return 0, ids.TransactionID{}, invalidRequest("amount_cents", "must be positive")
	}
	tx := billing.NewRefund(userID, amountCents, reason)
	balance, err := s.store.AddCredits(userID, amountCents, &tx)
	if err != nil {
		return 0, ids.TransactionID{}, err
	}
	return balance, tx.ID, nil
}

// PurchaseQuote prices a one-time credit purchase before checkout. The
// subscriber discount reduces the cash charged; the credits granted stay
// 1:1 with the requested dollar amount.
type PurchaseQuote struct {
	AmountUSD       float64
	ChargeCents     int64
	CreditsCents    int64
	DiscountPercent int64
}

const (
	minPurchaseUSD = 5.0
	maxPurchaseUSD = 1000.0
)

// PreparePurchase validates the amount and applies the caller's plan
// discount. The returned quote is handed to the payment provider's
// checkout; settlement arrives later through PurchaseCompleted.
func (s *Service) PreparePurchase(ctx context.Context, userID ids.UserID, amountUSD float64) (*PurchaseQuote, error) {
	if amountUSD < minPurchaseUSD {
		return nil, invalidRequest("amount_usd", fmt.Sprintf("minimum purchase is $%.0f", minPurchaseUSD))
	}
	if amountUSD > maxPurchaseUSD {
		return nil, invalidRequest("amount_usd", fmt.Sprintf("maximum purchase is $%.0f", maxPurchaseUSD))
	}

	account, err := s.store.GetAccount(userID)
	if err != nil {
		return nil, err
	}

	discount := account.CurrentPlan().PurchaseDiscountPercent()
	credits := s.pricing.USDToCredits(amountUSD)
	charge := credits * (100 - discount) / 100

	return &PurchaseQuote{
		AmountUSD:       amountUSD,
		ChargeCents:     charge,
		CreditsCents:    credits,
		DiscountPercent: discount,
	}, nil
}

// Auto-refill

// ConfigureAutoRefill validates and stores the auto-refill settings.
func (s *Service) ConfigureAutoRefill(ctx context.Context, userID ids.UserID, cfg billing.AutoRefill) (*billing.Account, error) {
	if cfg.TriggerBelowCents < 100 {
		return nil, invalidRequest("trigger_below_cents", "must be at least 100")
	}
	if cfg.RefillAmountCents < 500 {
		return nil, invalidRequest("refill_amount_cents", "must be at least 500")
	}
	return s.store.UpdateAccount(userID, func(a *billing.Account) error {
		a.AutoRefill = &cfg
		return nil
	})
}

// maybeAutoRefill asks the payment provider for a refill charge when the
// post-debit balance fell below the configured threshold. Best-effort:
// failures are logged and never surface to the usage caller.
func (s *Service) maybeAutoRefill(userID ids.UserID, balance int64) {
	if s.payments == nil {
		return
	}
	account, err := s.store.GetAccount(userID)
	if err != nil || account.AutoRefill == nil || !account.AutoRefill.Enabled {
		return
	}
	cfg := *account.AutoRefill
	if balance >= cfg.TriggerBelowCents {
		return
	}

	s.refillMu.Lock()
	if _, pending := s.refillInFlight[userID]; pending {
		s.refillMu.Unlock()
		return
	}
	s.refillInFlight[userID] = struct{}{}
	s.refillMu.Unlock()

	go func() {
		chargeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.payments.Charge(chargeCtx, userID, cfg.RefillAmountCents); err != nil {
			s.logger.Warn("auto-refill charge failed",
				"user_id", userID.String(),
				"amount_cents", cfg.RefillAmountCents,
				"error", err,
			)
			s.clearRefillInFlight(userID)
			return
		}
		s.logger.Info("auto-refill charge requested",
			"user_id", userID.String(),
			"amount_cents", cfg.RefillAmountCents,
		)
	}()
}

func (s *Service) clearRefillInFlight(userID ids.UserID) {
	s.refillMu.Lock()
	delete(s.refillInFlight, userID)
	s.refillMu.Unlock()
}

// Cost computation

func (s *Service) computeCost(m MetricRequest) (int64, error) {
	switch m.Type {
	case billing.MetricLLMTokens:
		return s.pricing.CalculateLLMCost(m.Provider, m.Model, m.InputTokens, m.OutputTokens), nil
	case billing.MetricCompute:
		return s.pricing.CalculateComputeCost(m.CPUHours, m.MemoryGBHours), nil
	case billing.MetricAPICalls:
		return s.pricing.CalculateAPICallsCost(m.Count), nil
	case billing.MetricStorage:
		cost, err := s.pricing.CalculateStorageCost(m.GBHours)
		if err != nil {
			if errors.Is(err, pricing.ErrStorageUnpriced) {
				return 0, invalidRequest("metric", "storage pricing not configured")
			}
			return 0, err
		}
		return cost, nil
	default:
		return 0, invalidRequest("metric.type", fmt.Sprintf("unknown metric type %q", m.Type))
	}
}

func metricRecord(m MetricRequest) billing.UsageMetric {
	record := billing.UsageMetric{Type: m.Type}
	switch m.Type {
	case billing.MetricLLMTokens:
		record.Provider = m.Provider
		record.Model = m.Model
		if m.OutputTokens > m.InputTokens {
			record.Direction = billing.TokenOutput
		} else {
			record.Direction = billing.TokenInput
		}
	case billing.MetricCompute:
		record.CPUHours = m.CPUHours
		record.MemoryGBHours = m.MemoryGBHours
	case billing.MetricAPICalls:
		record.Endpoint = m.Endpoint
	case billing.MetricStorage:
		record.GBHours = m.GBHours
	}
	return record
}

func metricQuantity(m MetricRequest) float64 {
	switch m.Type {
	case billing.MetricLLMTokens:
		return float64(m.InputTokens + m.OutputTokens)
	case billing.MetricCompute:
		return m.CPUHours
	case billing.MetricAPICalls:
		return float64(m.Count)
	case billing.MetricStorage:
		return m.GBHours
	default:
		return 0
	}
}

func usageDescription(m MetricRequest, source string) string {
	switch m.Type {
	case billing.MetricLLMTokens:
		return fmt.Sprintf("LLM usage: %s %s (%d input, %d output tokens) via %s",
			m.Provider, m.Model, m.InputTokens, m.OutputTokens, source)
	case billing.MetricCompute:
		return fmt.Sprintf("Compute usage: %.2f CPU-hours, %.2f GB-hours via %s",
			m.CPUHours, m.MemoryGBHours, source)
	case billing.MetricAPICalls:
		return fmt.Sprintf("API calls: %d calls to %s via %s", m.Count, m.Endpoint, source)
	case billing.MetricStorage:
		return fmt.Sprintf("Storage usage: %.2f GB-hours via %s", m.GBHours, source)
	default:
		return "Usage via " + source
	}
}

// Idempotency markers live in the usage_events family under reserved
// prefixes that cannot collide with caller event ids in practice.

func purchaseMarker(providerRef string) string {
	return "purchase:" + providerRef
}

func grantMarker(userID ids.UserID, periodStart time.Time) string {
	return fmt.Sprintf("grant:%s:%d", userID.String(), periodStart.UTC().Unix())
}
