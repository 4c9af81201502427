// Package api holds the HTTP conventions shared by the exchange and
// portfolio handlers: JSON encoding, the error taxonomy and its status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ssa-exchange/settlement-engine/internal/accounting"
	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
	"github.com/ssa-exchange/settlement-engine/internal/store"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

var (
	ErrInvalidRequest      = errors.New("missing required fields")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSettlementFailed    = errors.New("settlement failed")
	ErrPositionNotFound    = errors.New("position not found")
	ErrCurrencyMismatch    = errors.New("currency does not match account base currency")
)

// StatusFor maps an error onto the HTTP status reported to the caller.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, fixedpoint.ErrOverflow),
		errors.Is(err, symbol.ErrUnknownSymbol),
		errors.Is(err, symbol.ErrUnknownCurrency),
		errors.Is(err, symbol.ErrWrongMarket),
		errors.Is(err, oracle.ErrUnsupportedCurrency),
		errors.Is(err, sizing.ErrInvalidAmount),
		errors.Is(err, sizing.ErrInvalidQuantity),
		errors.Is(err, sizing.ErrAmountTooLow),
		errors.Is(err, accounting.ErrInsufficientPosition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"success": false, "error": ...} with the mapped status.
func WriteError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"success": false,
		"error":   err.Error(),
	}
	var tooLow *sizing.AmountTooLowError
	if errors.As(err, &tooLow) {
		body["minimumAmount"] = tooLow.Minimum
		body["providedAmount"] = tooLow.Provided
		body["currency"] = tooLow.Currency
	}
	WriteJSON(w, StatusFor(err), body)
}

// Decode reads a JSON request body into dst.
func Decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(ErrInvalidRequest, errors.New("invalid request body"))
	}
	return nil
}
