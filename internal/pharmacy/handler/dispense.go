package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// DispenseHandler handles dispensing endpoints
type DispenseHandler struct {
	service *service.DispenseService
	retries int
	logger  *logger.Logger
}

// NewDispenseHandler creates a new dispense handler. Version conflicts are
// retried up to retries times before they reach the client.
func NewDispenseHandler(svc *service.DispenseService, retries int, log *logger.Logger) *DispenseHandler {
	return &DispenseHandler{
		service: svc,
		retries: retries,
		logger:  log,
	}
}

type lineOverrideRequest struct {
	Quantity            *decimal.Decimal `json:"quantity"`
	SubstituteProductID *string          `json:"substitute_product_id" validate:"omitempty,uuid"`
}

type dispenseRequest struct {
	Overrides map[string]lineOverrideRequest `json:"overrides" validate:"omitempty,dive"`
	Note      *string                        `json:"note" validate:"omitempty,max=500"`
}

func (r dispenseRequest) toService(prescriptionID string) service.DispenseRequest {
	req := service.DispenseRequest{PrescriptionID: prescriptionID, Note: r.Note}
	if len(r.Overrides) > 0 {
		req.Overrides = make(domain.LineOverrides, len(r.Overrides))
		for lineID, ov := range r.Overrides {
			req.Overrides[lineID] = domain.LineOverride{
				Quantity:            ov.Quantity,
				SubstituteProductID: ov.SubstituteProductID,
			}
		}
	}
	return req
}

type saleRequest struct {
	dispenseRequest
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=cash card mobile cheque"`
	AmountTendered decimal.Decimal `json:"amount_tendered" validate:"gte=0"`
}

// Charge dispenses a prescription and bills the encounter's open account
func (h *DispenseHandler) Charge(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}

	var result *service.DispenseResult
	err := service.RetryOnConflict(r.Context(), h.retries, func() error {
		var err error
		result, err = h.service.ChargeOnly(r.Context(), req.toService(chi.URLParam(r, "id")))
		return err
	})
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, result)
}

// Sale dispenses a prescription at the counter and records the payment
func (h *DispenseHandler) Sale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var result *service.DispenseResult
	err := service.RetryOnConflict(r.Context(), h.retries, func() error {
		var err error
		result, err = h.service.DispenseAndCollectPayment(r.Context(),
			req.toService(chi.URLParam(r, "id")),
			domain.PaymentMethod(req.PaymentMethod),
			req.AmountTendered,
		)
		return err
	})
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, result)
}

// Get returns a dispense record
func (h *DispenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetDispense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return false
	}
	if err := httputil.Validate(v); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return false
	}
	return true
}
