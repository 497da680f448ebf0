package groupbuy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-groupbuy/internal/common"
	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
)

func newHandler(t *testing.T) *groupbuy.Handler {
	t.Helper()
	return &groupbuy.Handler{Svc: &groupbuy.Service{Engine: newEngine(t), Logger: zerolog.Nop()}}
}

func withProductParam(r *http.Request, productID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("productID", productID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asUser(r *http.Request, id string) *http.Request {
	return r.WithContext(common.WithUserID(r.Context(), id))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return errBody["code"].(string)
}

func TestHandlerSetContributionAndStatus(t *testing.T) {
	h := newHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/group-buys/products/"+product+"/contribution", strings.NewReader(`{"quantity":12}`))
	req = asUser(withProductParam(req, product), "userA")
	rec := httptest.NewRecorder()
	h.SetContribution(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeBody(t, rec)["data"].(map[string]any)
	status := data["status"].(map[string]any)
	require.EqualValues(t, 90, status["current_unit_price"])
	require.EqualValues(t, 12, status["total_quantity"])
	top := status["top_contributor"].(map[string]any)
	require.Equal(t, "userA", top["contributor_id"])

	req = withProductParam(httptest.NewRequest(http.MethodGet, "/", nil), product)
	rec = httptest.NewRecorder()
	h.Status(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, 1, view["active_contributor_count"])
}

func TestHandlerContributionRequiresIdentity(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":1}`))
	req = withProductParam(req, product)
	rec := httptest.NewRecorder()
	h.SetContribution(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestHandlerRejectsNegativeQuantity(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":-2}`))
	req = asUser(withProductParam(req, product), "userA")
	rec := httptest.NewRecorder()
	h.SetContribution(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_QUANTITY", errorCode(t, rec))
}

func TestHandlerRejectsOversizedQuantity(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":9223372036854775807}`))
	req = asUser(withProductParam(req, product), "guest:g1")
	rec := httptest.NewRecorder()
	h.SetContribution(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_QUANTITY", errorCode(t, rec))

	view, err := h.Svc.Status(context.Background(), product)
	require.NoError(t, err)
	require.Zero(t, view.TotalQuantity)
	require.Nil(t, view.TopContributor)
}

func TestHandlerFinalizeWithoutContributions(t *testing.T) {
	h := newHandler(t)
	rec := httptest.NewRecorder()
	h.Finalize(rec, withProductParam(httptest.NewRequest(http.MethodPost, "/", nil), product))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, 100, settled["settled_unit_price"])
	require.Equal(t, false, settled["got_discount"])
	require.Empty(t, settled["contributions"])
}

func TestHandlerMissingQuantity(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`))
	req = asUser(withProductParam(req, product), "userA")
	rec := httptest.NewRecorder()
	h.SetContribution(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", errorCode(t, rec))
}

func TestHandlerUnknownProduct(t *testing.T) {
	h := newHandler(t)
	req := withProductParam(httptest.NewRequest(http.MethodGet, "/", nil), "nope")
	rec := httptest.NewRecorder()
	h.Status(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "UNKNOWN_PRODUCT", errorCode(t, rec))
}

func TestHandlerRemoveContribution(t *testing.T) {
	h := newHandler(t)
	_, err := h.Svc.SetQuantity(context.Background(), "userA", product, 5)
	require.NoError(t, err)

	req := asUser(withProductParam(httptest.NewRequest(http.MethodDelete, "/", nil), product), "userA")
	rec := httptest.NewRecorder()
	h.RemoveContribution(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)["data"].(map[string]any)["status"].(map[string]any)
	require.EqualValues(t, 0, status["total_quantity"])
	require.Nil(t, status["top_contributor"])
}

func TestHandlerFinalizeAndHistory(t *testing.T) {
	h := newHandler(t)
	_, err := h.Svc.SetQuantity(context.Background(), "userA", product, 20)
	require.NoError(t, err)

	req := withProductParam(httptest.NewRequest(http.MethodPost, "/", nil), product)
	rec := httptest.NewRecorder()
	h.Finalize(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, 80, settled["settled_unit_price"])
	batchID := settled["batch_id"].(string)

	req = withProductParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"batch_id":"`+batchID+`"}`)), product)
	rec = httptest.NewRecorder()
	h.Finalize(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "BATCH_CLOSED", errorCode(t, rec))

	req = withProductParam(httptest.NewRequest(http.MethodGet, "/", nil), product)
	rec = httptest.NewRecorder()
	h.History(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["data"].([]any)
	require.Len(t, items, 1)
}

func TestHandlerRegisterFromMOQ(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product_id":"mask-n95","regular_price":1000,"moq":50,"bulk_price":800}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	tiers := data["tiers"].([]any)
	require.Len(t, tiers, 3)
	first := tiers[0].(map[string]any)
	require.EqualValues(t, 50, first["threshold"])
	require.EqualValues(t, 800, first["unit_price"])

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product_id":"mask-n95","regular_price":1000}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "SCHEDULE_EXISTS", errorCode(t, rec))
}

func TestHandlerRegisterInvalidSchedule(t *testing.T) {
	h := newHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product_id":"x","regular_price":100,"tiers":[{"threshold":5,"unit_price":90},{"threshold":5,"unit_price":80}]}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_SCHEDULE", errorCode(t, rec))
}

func TestHandlerSeedBaseline(t *testing.T) {
	h := newHandler(t)
	req := withProductParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":15}`)), product)
	rec := httptest.NewRecorder()
	h.SeedBaseline(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody(t, rec)["data"].(map[string]any)
	require.EqualValues(t, 15, view["baseline_quantity"])
	require.EqualValues(t, 15, view["total_quantity"])
	require.NotEqual(t, groupbuy.NoBatchID, view["batch_id"])
}
