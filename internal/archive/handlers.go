package archive

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-groupbuy/internal/common"
)

// Lister reads archived batches.
type Lister interface {
	ListBatches(ctx context.Context, productID string, limit, offset int) ([]BatchRecord, int, error)
}

// Handler serves archived batches over HTTP.
type Handler struct {
	Store  Lister
	Logger zerolog.Logger
}

// List handles GET /api/v1/group-buys/products/{productID}/archive.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusNotImplemented, "ARCHIVE_DISABLED", "archive storage is not configured", nil)
		return
	}
	productID := chi.URLParam(r, "productID")
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	items, total, err := h.Store.ListBatches(r.Context(), productID, perPage, (page-1)*perPage)
	if err != nil {
		h.Logger.Error().Err(err).Str("product_id", productID).Msg("list archived batches")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list archived batches", nil)
		return
	}
	if items == nil {
		items = []BatchRecord{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}
