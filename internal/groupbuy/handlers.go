package groupbuy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-groupbuy/internal/common"
	"github.com/noah-isme/backend-groupbuy/internal/pricing"
	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

// Handler exposes group-buy endpoints.
type Handler struct {
	Svc *Service
}

type registerRequest struct {
	ProductID    string        `json:"product_id"`
	RegularPrice pricing.Money `json:"regular_price"`
	Tiers        []tier.Tier   `json:"tiers"`
	MOQ          int           `json:"moq"`
	BulkPrice    pricing.Money `json:"bulk_price"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type finalizeRequest struct {
	BatchID string `json:"batch_id"`
}

// Register handles POST /api/v1/group-buys/products.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	in := tier.Input{ProductID: req.ProductID, RegularPrice: req.RegularPrice, Tiers: req.Tiers}
	if len(req.Tiers) == 0 && req.MOQ > 0 {
		in = tier.FromMOQ(req.ProductID, req.RegularPrice, req.BulkPrice, req.MOQ)
	}
	sched, err := h.Svc.RegisterSchedule(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"product_id":    sched.ProductID(),
		"regular_price": sched.RegularPrice(),
		"tiers":         sched.Tiers(),
	}})
}

// SeedBaseline handles PUT /api/v1/group-buys/products/{productID}/baseline.
func (h *Handler) SeedBaseline(w http.ResponseWriter, r *http.Request) {
	qty, err := decodeQuantity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.Svc.SeedBaseline(r.Context(), productID, qty); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Svc.Status(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SetContribution handles PUT /api/v1/group-buys/products/{productID}/contribution.
func (h *Handler) SetContribution(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(contributorID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "contributor identity required", nil)
		return
	}
	qty, err := decodeQuantity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.upsert(w, r, contributorID, qty)
}

// RemoveContribution handles DELETE /api/v1/group-buys/products/{productID}/contribution.
func (h *Handler) RemoveContribution(w http.ResponseWriter, r *http.Request) {
	contributorID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(contributorID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "contributor identity required", nil)
		return
	}
	h.upsert(w, r, contributorID, 0)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request, contributorID string, qty int) {
	productID := chi.URLParam(r, "productID")
	res, err := h.Svc.SetQuantity(r.Context(), contributorID, productID, qty)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Svc.Status(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"contribution": res,
		"status":       view,
	}})
}

// Status handles GET /api/v1/group-buys/products/{productID}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Status(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// TopContributor handles GET /api/v1/group-buys/products/{productID}/top-contributor.
func (h *Handler) TopContributor(w http.ResponseWriter, r *http.Request) {
	top, err := h.Svc.TopContributor(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": top})
}

// Finalize handles POST /api/v1/group-buys/products/{productID}/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	settled, err := h.Svc.Finalize(r.Context(), chi.URLParam(r, "productID"), strings.TrimSpace(req.BatchID))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": settled})
}

// History handles GET /api/v1/group-buys/products/{productID}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	items, err := h.Svc.History(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []Settlement{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return common.NewAppError("BAD_REQUEST", "invalid request body", http.StatusBadRequest, err)
	}
	return nil
}

func decodeQuantity(r *http.Request) (int, error) {
	var req quantityRequest
	if err := decodeJSON(r, &req, false); err != nil {
		return 0, err
	}
	if req.Quantity == nil {
		return 0, common.NewAppError("BAD_REQUEST", "quantity is required", http.StatusBadRequest, nil)
	}
	return *req.Quantity, nil
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		appErr = toAppError(err)
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	code := appErr.Code
	if code == "" {
		code = "INTERNAL"
	}
	message := appErr.Message
	if message == "" {
		message = "internal error"
	}
	var details any
	if appErr.Details != nil {
		details = appErr.Details
	}
	if appErr.Err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(appErr.Err, &syntaxErr) {
			details = map[string]any{"offset": syntaxErr.Offset}
		}
	}
	common.JSONError(w, status, code, message, details)
}

func toAppError(err error) *common.AppError {
	code := ErrorCode(err)
	switch code {
	case "UNKNOWN_PRODUCT":
		return common.NewAppError(code, "product is not registered for group buying", http.StatusNotFound, err)
	case "BATCH_CLOSED":
		return common.NewAppError(code, "batch already finalized, refresh and retry", http.StatusConflict, err)
	case "SCHEDULE_EXISTS":
		return common.NewAppError(code, "schedule already registered", http.StatusConflict, err)
	case "INVALID_QUANTITY":
		return common.NewAppError(code, "quantity out of range", http.StatusBadRequest, err)
	case "QUANTITY_LIMIT":
		return common.NewAppError(code, "batch quantity limit reached", http.StatusUnprocessableEntity, err)
	case "INVALID_SCHEDULE":
		app := common.NewAppError(code, "invalid tier schedule", http.StatusUnprocessableEntity, err)
		app.Details = map[string]any{"reason": err.Error()}
		return app
	case "NO_OPEN_BATCH":
		return common.NewAppError(code, "no open batch", http.StatusInternalServerError, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
