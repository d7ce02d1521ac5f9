package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"restaurant_ops/pkg/auth"
	"restaurant_ops/pkg/idempotency"
	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/metrics"
	"restaurant_ops/pkg/recipe"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/sheet"
	"restaurant_ops/pkg/sheet/sheettest"
)

func setupHandler(t *testing.T, gw sheet.Gateway) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	locks := lock.NewMemory()
	h := New(Services{
		Reservations: reservation.NewManager(gw, locks, idempotency.NewMemory(), zap.NewNop()),
		Inventory:    inventory.NewLedger(gw, locks, zap.NewNop()),
		Recipes:      recipe.NewStore(gw, locks, zap.NewNop()),
		Metrics:      metrics.New(),
		Logger:       zap.NewNop(),
	})
	h.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, jsonBody(t, body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestCreateReservation(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/reservations", jsonBody(t, map[string]interface{}{
		"date": "05/01/2026", "time": "19:00", "name": "Ana", "guests": 4,
	}))
	c.Request.Header.Set("Content-Type", "application/json")

	h.createReservation(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var response map[string]interface{}
	decode(t, w, &response)
	assert.NotEmpty(t, response["id"])
	assert.Equal(t, "pending", response["status"])
	assert.Equal(t, "manual", response["source"])
}

func TestCreateReservationValidation(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/reservations", jsonBody(t, map[string]interface{}{
		"date": "05/01/2026", "time": "19:00", "guests": 4,
	}))

	h.createReservation(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]interface{}
	decode(t, w, &response)
	assert.Contains(t, response["error"], "required")
}

func TestCreateReservationIdempotencyKey(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	body := map[string]interface{}{"date": "05/01/2026", "time": "19:00", "name": "Ana", "guests": 2}

	first := do(t, r, "POST", "/api/reservations", body, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(t, r, "POST", "/api/reservations", body, IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	var a, b map[string]interface{}
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a["id"], b["id"])

	list := do(t, r, "GET", "/api/reservations", nil)
	var items []map[string]interface{}
	decode(t, list, &items)
	assert.Len(t, items, 1)
}

func TestListReservationsFilters(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	for _, in := range []map[string]interface{}{
		{"date": "04/20/2026", "time": "19:00", "name": "Old", "guests": 2},
		{"date": "05/01/2026", "time": "20:00", "name": "Friday", "guests": 6},
		{"date": "05/03/2026", "time": "12:00", "name": "Sunday", "guests": 3, "status": "waitlist"},
	} {
		require.Equal(t, http.StatusCreated, do(t, r, "POST", "/api/reservations", in).Code)
	}

	var items []map[string]interface{}
	decode(t, do(t, r, "GET", "/api/reservations?when=upcoming&sort=guests", nil), &items)
	require.Len(t, items, 2)
	assert.Equal(t, "Friday", items[0]["name"])
	assert.Equal(t, true, items[0]["couscousDay"])

	decode(t, do(t, r, "GET", "/api/reservations?status=waitlist", nil), &items)
	require.Len(t, items, 1)
	assert.Equal(t, "Sunday", items[0]["name"])

	assert.Equal(t, http.StatusBadRequest, do(t, r, "GET", "/api/reservations?when=someday", nil).Code)
}

func TestUpdateReservation(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	var created map[string]interface{}
	decode(t, do(t, r, "POST", "/api/reservations", map[string]interface{}{
		"date": "05/01/2026", "time": "19:00", "name": "Ana", "guests": 2, "email": "ana@example.com",
	}), &created)
	id := created["id"].(string)

	w := do(t, r, "PATCH", "/api/reservations/"+id, map[string]interface{}{"status": "confirmed", "table": "5", "checkedIn": true})
	require.Equal(t, http.StatusOK, w.Code)
	var updated map[string]interface{}
	decode(t, w, &updated)
	assert.Equal(t, "confirmed", updated["status"])
	assert.Equal(t, "5", updated["table"])
	assert.Equal(t, "yes", updated["checkedIn"])
	assert.Equal(t, "queued", updated["emailQueue"])

	assert.Equal(t, http.StatusNotFound, do(t, r, "PATCH", "/api/reservations/missing", map[string]interface{}{"table": "2"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, "PATCH", "/api/reservations/"+id, map[string]interface{}{"status": "seated"}).Code)
}

func TestDeleteReservation(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	var created map[string]interface{}
	decode(t, do(t, r, "POST", "/api/reservations", map[string]interface{}{
		"date": "05/01/2026", "time": "19:00", "name": "Ana", "guests": 2,
	}), &created)
	id := created["id"].(string)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("DELETE", "/api/reservations/"+id, nil)
	c.Params = gin.Params{{Key: "id", Value: id}}
	h.deleteReservation(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, http.StatusNotFound, do(t, r, "DELETE", "/api/reservations/"+id, nil).Code)
}

func TestReservationConflicts(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	var ids []string
	for _, name := range []string{"Ana", "Ben"} {
		var created map[string]interface{}
		decode(t, do(t, r, "POST", "/api/reservations", map[string]interface{}{
			"date": "05/01/2026", "time": "19:00", "name": name, "guests": 2,
		}), &created)
		id := created["id"].(string)
		ids = append(ids, id)
		require.Equal(t, http.StatusOK, do(t, r, "PATCH", "/api/reservations/"+id, map[string]interface{}{"table": "5"}).Code)
	}

	var conflicts []reservation.Conflict
	decode(t, do(t, r, "GET", "/api/reservations/conflicts?date=05/01/2026", nil), &conflicts)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "5", conflicts[0].Table)
	assert.ElementsMatch(t, ids, conflicts[0].ReservationIDs)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "GET", "/api/reservations/conflicts", nil).Code)
}

func TestInventoryMovementFlow(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()

	w := do(t, r, "POST", "/api/inventory", map[string]interface{}{
		"name": "Saffron", "category": "Spices", "subcategory": "Threads", "unit": "g", "storageLocation": "Dry store", "minThreshold": 8,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var item map[string]interface{}
	decode(t, w, &item)
	id := item["id"].(string)

	for _, mv := range []map[string]interface{}{
		{"itemId": id, "type": "IN", "quantity": 10},
		{"itemId": id, "type": "OUT", "quantity": 3},
	} {
		require.Equal(t, http.StatusCreated, do(t, r, "POST", "/api/inventory-movements", mv).Code)
	}

	w = do(t, r, "POST", "/api/inventory-movements", map[string]interface{}{"itemId": id, "type": "OUT", "quantity": 20})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var rejected map[string]interface{}
	decode(t, w, &rejected)
	assert.Equal(t, "Insufficient stock", rejected["error"])

	var view map[string]interface{}
	decode(t, do(t, r, "GET", "/api/inventory?id="+id, nil), &view)
	assert.Equal(t, 7.0, view["quantity"])
	assert.Equal(t, true, view["lowStock"])
	assert.Equal(t, "no-expiry", view["expiryStatus"])

	var movements []map[string]interface{}
	decode(t, do(t, r, "GET", "/api/inventory-movements?itemId="+id, nil), &movements)
	require.Len(t, movements, 2)
	assert.Equal(t, "OUT", movements[0]["type"])

	var low []map[string]interface{}
	decode(t, do(t, r, "GET", "/api/inventory?lowStock=true", nil), &low)
	assert.Len(t, low, 1)
	assert.Equal(t, http.StatusBadRequest, do(t, r, "GET", "/api/inventory?lowStock=maybe", nil).Code)
}

func TestInventoryUpdateAndDelete(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	input := map[string]interface{}{
		"name": "Mint", "category": "Herbs", "subcategory": "Fresh", "unit": "bunch", "storageLocation": "Walk-in fridge",
	}
	var item map[string]interface{}
	decode(t, do(t, r, "POST", "/api/inventory", input), &item)
	id := item["id"].(string)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "PATCH", "/api/inventory", input).Code, "id is required")

	input["quantity"] = 12
	w := do(t, r, "PATCH", "/api/inventory?id="+id, input)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &item)
	assert.Equal(t, 12.0, item["quantity"])

	assert.Equal(t, http.StatusNoContent, do(t, r, "DELETE", "/api/inventory?id="+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "DELETE", "/api/inventory?id="+id, nil).Code)
}

func TestRecipeEndpoints(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	draft := map[string]interface{}{
		"name":     "Couscous royal",
		"servings": 2,
		"ingredients": []map[string]interface{}{
			{"name": "semolina", "quantity": 2, "costPerUnit": 5},
			{"name": "merguez", "quantity": 1, "costPerUnit": 3},
		},
		"laborCost":    10,
		"overheadCost": 5,
		"profitMargin": 50,
	}

	var priced map[string]interface{}
	decode(t, do(t, r, "POST", "/api/recipes/cost", draft), &priced)
	summary := priced["summary"].(map[string]interface{})
	assert.Equal(t, 13.0, summary["ingredientTotal"])
	assert.Equal(t, 28.0, summary["recipeTotal"])
	assert.Equal(t, 14.0, summary["costPerServing"])
	assert.Equal(t, 28.0, summary["sellingPrice"])

	w := do(t, r, "POST", "/api/recipes", draft)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]interface{}
	decode(t, w, &created)
	id := created["id"].(string)

	draft["profitMargin"] = 100
	w = do(t, r, "PUT", "/api/recipes?id="+id, draft)
	require.Equal(t, http.StatusOK, w.Code)
	var updated map[string]interface{}
	decode(t, w, &updated)
	summary = updated["summary"].(map[string]interface{})
	assert.Nil(t, summary["sellingPrice"])
	assert.NotEmpty(t, summary["warning"])

	var detail map[string]interface{}
	decode(t, do(t, r, "GET", "/api/recipes?id="+id, nil), &detail)
	assert.Equal(t, "Couscous royal", detail["name"])

	var list []map[string]interface{}
	decode(t, do(t, r, "GET", "/api/recipes", nil), &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, do(t, r, "DELETE", "/api/recipes?id="+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, "GET", "/api/recipes?id="+id, nil).Code)
}

func TestDistributeTips(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/tips/distribution", jsonBody(t, map[string]interface{}{
		"totalTips": 300,
		"roles": []map[string]interface{}{
			{"role": "server", "count": 2, "hours": 8},
			{"role": "cook", "count": 1, "hours": 8},
		},
		"toggle": []string{"cook"},
	}))
	h.distributeTips(c)

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Shares []struct {
			Role         string  `json:"role"`
			Share        float64 `json:"share"`
			PerPerson    float64 `json:"perPerson"`
			TipsReceived bool    `json:"tipsReceived"`
		} `json:"shares"`
		History []map[string]interface{} `json:"history"`
	}
	decode(t, w, &response)
	require.Len(t, response.Shares, 2)
	assert.Equal(t, 200.0, response.Shares[0].Share)
	assert.Equal(t, 100.0, response.Shares[0].PerPerson)
	assert.True(t, response.Shares[1].TipsReceived)
	require.Len(t, response.History, 1)
	assert.Equal(t, "cook", response.History[0]["role"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/tips/distribution", jsonBody(t, map[string]interface{}{"totalTips": -1}))
	h.distributeTips(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpstreamErrors(t *testing.T) {
	gw := &sheettest.Failing{Gateway: sheettest.NewStore(t), Err: errors.New("quota exceeded"), FailOn: map[string]bool{"get": true}}

	h := setupHandler(t, gw)
	var body map[string]interface{}
	w := do(t, h.Router(), "GET", "/api/reservations", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	decode(t, w, &body)
	assert.Contains(t, body["error"], "quota exceeded")

	h.Production = true
	w = do(t, h.Router(), "GET", "/api/inventory", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	decode(t, w, &body)
	assert.Equal(t, "internal server error", body["error"])
}

func TestHealthCheck(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	w := do(t, h.Router(), "GET", "/manage/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	h.Health = func(context.Context) error { return errors.New("connection refused") }
	w = do(t, h.Router(), "GET", "/manage/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "DOWN", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	r := h.Router()
	do(t, r, "GET", "/api/reservations", nil)

	w := do(t, r, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/reservations"`)
}

func TestAuthRequired(t *testing.T) {
	h := setupHandler(t, sheettest.NewStore(t))
	h.Auth = auth.New(auth.Config{
		Enabled:    true,
		CookieName: "restaurant_token",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
	}, auth.NewGoogleOAuth("client", "secret", "http://localhost:8080/api/auth/callback"), zap.NewNop())
	r := h.Router()

	w := do(t, r, "GET", "/api/reservations", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, auth.LoginPath, body["loginUrl"])

	assert.Equal(t, http.StatusFound, do(t, r, "GET", auth.LoginPath, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, "GET", "/manage/health", nil).Code)
}
