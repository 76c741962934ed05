package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// StockHandler handles lot ledger endpoints
type StockHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.StockService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// Receive books a goods receipt into a lot
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req service.ReceiveLotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lot, err := h.service.ReceiveLot(r.Context(), req)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, lot)
}

// Adjust sets a lot to a counted quantity
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req service.AdjustLotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.LotID = chi.URLParam(r, "id")

	lot, err := h.service.AdjustLot(r.Context(), req)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// ListLots lists a product's lots in FEFO order
func (h *StockHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ListLots(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("warehouse_id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// PreviewAllocation shows which lots a dispense of ?quantity= would draw from
func (h *StockHandler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quantity, err := decimal.NewFromString(q.Get("quantity"))
	if err != nil {
		httputil.ErrorLocalized(w, r, errors.Validation(map[string]string{"quantity": "must be a decimal number"}))
		return
	}

	plan, err := h.service.PreviewAllocation(r.Context(), chi.URLParam(r, "id"), q.Get("warehouse_id"), quantity)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

// ListMovements pages through the stock movement log
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMovementFilter(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, page.Movements, &httputil.Meta{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  page.Total,
	})
}

func parseMovementFilter(r *http.Request) (domain.MovementFilter, error) {
	q := r.URL.Query()
	var filter domain.MovementFilter
	details := map[string]string{}

	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	filter.ProductID = optional("product_id")
	filter.WarehouseID = optional("warehouse_id")
	filter.LotID = optional("lot_id")
	filter.Reference = optional("reference")

	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				details[key] = "must be an RFC 3339 timestamp"
				continue
			}
			*dst = &t
		}
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				details[key] = "must be a non-negative integer"
				continue
			}
			*dst = n
		}
	}

	if len(details) > 0 {
		return filter, errors.Validation(details)
	}
	return filter, nil
}
