package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/payout-reconciler/internal/api/middleware"
	"github.com/ayo6706/payout-reconciler/internal/api/problem"
	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxBodyBytes     = 1 << 20
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// respondServiceError maps errors returned by the services to problem responses.
// Unrecognized errors are logged and reported as 500 with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	switch {
	case errors.Is(err, domain.ErrPayoutNotFound):
		RespondError(w, r, http.StatusNotFound, "payout/not-found", "Payout not found")
	case errors.Is(err, domain.ErrPayoutNotPending):
		RespondError(w, r, http.StatusConflict, "payout/not-pending", err.Error())
	case errors.Is(err, domain.ErrPayoutNotClaimable), errors.Is(err, domain.ErrClaimLost):
		RespondError(w, r, http.StatusConflict, "payout/in-flight", "Payout is being processed")
	case errors.Is(err, domain.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "ledger/insufficient-funds", err.Error())
	case errors.Is(err, service.ErrInvalidRequest) && hasFieldErrors(err):
		respondValidationError(w, r, err)
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidGuardrail),
		errors.Is(err, domain.ErrUnknownStatus), errors.Is(err, service.ErrInvalidRequest):
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	case errors.Is(err, domain.ErrLedgerNotFound):
		zap.L().Error(operation+" failed", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "ledger/unavailable", "Ledger is not initialized")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(operation+" failed", zap.Error(err),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "Failed to "+operation)
	}
}

func hasFieldErrors(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

// respondValidationError lists every rejected field in the invalid_params member.
func respondValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	errors.As(err, &verrs)

	d := problem.New(r, http.StatusBadRequest, problem.Type("request/validation-failed"), "", "Request validation failed")
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		_, name, _ := strings.Cut(fe.Namespace(), ".")
		d.InvalidParams = append(d.InvalidParams, problem.InvalidParam{Name: name, Reason: reason})
	}
	problem.Send(w, d)
}

// decodeJSON decodes a bounded request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func requestAdmin(r *http.Request) *uuid.UUID {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		return nil
	}
	return &adminID
}

func pathPayoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-payout-id", "Invalid payout ID")
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int32, ok bool) {
	limit = defaultPageLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(min(parsed, 1000))
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusUnprocessableEntity, "db/check-violation", "request violates ledger constraints", true
	case "40001": // serialization_failure
		return http.StatusConflict, "db/serialization-failure", "concurrent update, retry the request", true
	default:
		return 0, "", "", false
	}
}
