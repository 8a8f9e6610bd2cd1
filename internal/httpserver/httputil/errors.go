// Package httputil standardizes the JSON error envelope and the mapping
// from ledger errors to HTTP status codes.
package httputil

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/cypher-asi/z-billing/internal/ids"
	"github.com/cypher-asi/z-billing/internal/ledger"
	"github.com/cypher-asi/z-billing/internal/store"
)

// Error codes carried in the response envelope.
const (
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeBadRequest           = "bad_request"
	CodeConflict             = "conflict"
	CodeDuplicateEvent       = "duplicate_event"
	CodeInsufficientCredits  = "insufficient_credits"
	CodeInternalError        = "internal_error"
	CodeExternalServiceError = "external_service_error"
)

// WriteError emits the error envelope:
//
//	{"error": {"code": ..., "message": ..., "details": {...}}}
func WriteError(c *fiber.Ctx, status int, code, msg string, details map[string]any) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	body := fiber.Map{
		"code":    code,
		"message": msg,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}

// WriteLedgerError maps a ledger or store error onto the stable code and
// status table.
func WriteLedgerError(c *fiber.Ctx, err error) error {
	var (
		insufficient *store.InsufficientCreditsError
		duplicate    *store.DuplicateEventError
		invalid      *ledger.InvalidRequestError
	)

	switch {
	case errors.As(err, &duplicate):
		return WriteError(c, fiber.StatusConflict, CodeDuplicateEvent, err.Error(), map[string]any{
			"event_id": duplicate.EventID,
		})
	case errors.As(err, &insufficient):
		return WriteError(c, fiber.StatusPaymentRequired, CodeInsufficientCredits, err.Error(), map[string]any{
			"balance_cents":  insufficient.BalanceCents,
			"required_cents": insufficient.RequiredCents,
		})
	case errors.As(err, &invalid):
		return WriteError(c, fiber.StatusBadRequest, CodeBadRequest, err.Error(), map[string]any{
			"field":  invalid.Field,
			"reason": invalid.Reason,
		})
	case errors.Is(err, store.ErrNotFound):
		return WriteError(c, fiber.StatusNotFound, CodeNotFound, "account not found", nil)
	case errors.Is(err, store.ErrAlreadyExists):
		return WriteError(c, fiber.StatusConflict, CodeConflict, "account already exists", nil)
	case errors.Is(err, ids.ErrInvalidUserID),
		errors.Is(err, ids.ErrInvalidAgentID),
		errors.Is(err, ids.ErrInvalidTransactionID):
		return WriteError(c, fiber.StatusBadRequest, CodeBadRequest, err.Error(), nil)
	default:
		return WriteError(c, fiber.StatusInternalServerError, CodeInternalError, "internal error", nil)
	}
}

// ErrorCode returns the envelope code a ledger error maps to. Shared with
// the batch endpoint, which reports per-event codes in a 200 body.
func ErrorCode(err error) string {
	var (
		insufficient *store.InsufficientCreditsError
		duplicate    *store.DuplicateEventError
		invalid      *ledger.InvalidRequestError
	)
	switch {
	case errors.As(err, &duplicate):
		return CodeDuplicateEvent
	case errors.As(err, &insufficient):
		return CodeInsufficientCredits
	case errors.As(err, &invalid):
		return CodeBadRequest
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return CodeConflict
	case errors.Is(err, ids.ErrInvalidUserID),
		errors.Is(err, ids.ErrInvalidAgentID),
		errors.Is(err, ids.ErrInvalidTransactionID):
		return CodeBadRequest
	default:
		return CodeInternalError
	}
}
