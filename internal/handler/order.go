package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bundle-pricing/internal/domain/money"
	"github.com/xenking/bundle-pricing/internal/domain/order"
	"github.com/xenking/bundle-pricing/internal/wire"
)

// Quote materializes the posted cart without saving it.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.MarshalOrder(o))
}

// IdempotencyKeyHeader names the header that makes order placement
// repeatable.
const IdempotencyKeyHeader = "Idempotency-Key"

// PlaceOrder materializes and persists the posted cart. A request that
// repeats an earlier Idempotency-Key with the same cart gets the earlier
// order with 200.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, status, wire.MarshalOrder(res.Order))
}

// GetOrder returns a persisted order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.MarshalOrder(o))
}

func decodeRequest(r *http.Request) (order.QuoteRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return order.QuoteRequest{}, errors.Wrap(err, "read body")
	}
	return wire.DecodeQuoteRequest(body)
}

// mapError converts domain errors to an HTTP status and client message.
// Unrecognized errors become 500 without leaking their text.
func mapError(err error) (int, string) {
	var (
		mbErr  *http.MaxBytesError
		decErr *wire.DecodeError
		ucErr  *money.UnknownCurrencyError
		iiErr  *order.InvalidItemError
	)
	switch {
	case errors.As(err, &mbErr):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbErr.Limit)
	case errors.As(err, &decErr):
		return http.StatusBadRequest, decErr.Error()
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrInvalidID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, order.ErrRequestInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, order.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &ucErr):
		return http.StatusUnprocessableEntity, ucErr.Error()
	case errors.As(err, &iiErr):
		return http.StatusUnprocessableEntity, iiErr.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)

	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	var e jx.Encoder
	wire.EncodeError(&e, status, msg)
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
