package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rickgao/kabu-market/internal/exchange"
	"github.com/rickgao/kabu-market/internal/market"
	"github.com/rickgao/kabu-market/internal/pricing"
	"github.com/rickgao/kabu-market/internal/store"
)

// Error codes returned in the error body.
const (
	codeBadRequest           = "bad_request"
	codeInvalidPlayer        = "invalid_player"
	codeInvalidAmount        = "invalid_amount"
	codeInsufficientFunds    = "insufficient_funds"
	codeInsufficientHoldings = "insufficient_holdings"
	codeContention           = "contention"
	codeInconsistent         = "inconsistent"
	codeUnauthorized         = "unauthorized"
	codeRateLimited          = "rate_limited"
	codeNotFound             = "not_found"
	codeMethodNotAllowed     = "method_not_allowed"
	codeTimeout              = "timeout"
	codeInternal             = "internal"
)

const maxBodyBytes = 4 << 10

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

// decodeBody reads a small JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// errorStatus maps a domain error to a status and code.
func errorStatus(err error) (int, string) {
	var ierr *exchange.InconsistencyError
	switch {
	case errors.As(err, &ierr):
		return http.StatusInternalServerError, codeInconsistent
	case errors.Is(err, exchange.ErrInvalidAmount):
		return http.StatusBadRequest, codeInvalidAmount
	case errors.Is(err, exchange.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, codeInsufficientFunds
	case errors.Is(err, exchange.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity, codeInsufficientHoldings
	case errors.Is(err, exchange.ErrContention), errors.Is(err, store.ErrRaceLost):
		return http.StatusConflict, codeContention
	case errors.Is(err, pricing.ErrInvalidDay),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, market.ErrInvalidQuantity):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	if code == codeContention {
		w.Header().Set("Retry-After", "1")
	}
	message := err.Error()
	if code == codeInternal {
		message = "internal error"
	}
	writeError(w, status, code, message)
}
