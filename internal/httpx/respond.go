package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ariefcatur/go-sales-orders/internal/logging"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	ProductID string `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Kind: orders.KindValidation.String()})
}

// writeError maps the order error taxonomy onto HTTP. Internal details are
// logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := orders.KindOf(err)
	resp := errorResp{Error: err.Error(), Kind: kind.String()}
	code := http.StatusInternalServerError

	switch kind {
	case orders.KindNotFound:
		code = http.StatusNotFound
	case orders.KindValidation:
		code = http.StatusBadRequest
	case orders.KindConflict:
		code = http.StatusConflict
	case orders.KindInsufficientStock:
		code = http.StatusConflict
		var is *orders.InsufficientStockError
		if errors.As(err, &is) {
			resp.ProductID = is.ProductID
			resp.Available = &is.Available
			resp.Requested = &is.Requested
		}
	default:
		logging.FromCtx(r.Context(), log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Error = "internal error"
	}
	writeJSON(w, code, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, fmt.Sprintf("invalid json: %v", err))
		return false
	}
	return true
}
