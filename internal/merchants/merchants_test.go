package merchants

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"coffee", CategoryCoffee, false},
		{" Electronics ", CategoryElectronics, false},
		{"", CategoryOther, false},
		{"OTHER", CategoryOther, false},
		{"casino", "", true},
	}
	for _, tc := range tests {
		got, err := ParseCategory(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidCategory, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRiskLevel(t *testing.T) {
	got, err := ParseRiskLevel("")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, got)

	got, err = ParseRiskLevel("high")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, got)

	_, err = ParseRiskLevel("extreme")
	assert.ErrorIs(t, err, ErrInvalidRiskLevel)
}

func TestCategoriesOrder(t *testing.T) {
	assert.Len(t, Categories, 10)
	assert.Equal(t, CategoryCoffee, Categories[0])
	assert.Equal(t, CategoryOther, Categories[len(Categories)-1])
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := &Merchant{ID: "m1", Name: "Corner Cafe", Category: CategoryCoffee, RiskLevel: RiskLow}
	require.NoError(t, s.Create(ctx, m))
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Corner Cafe", got.Name)

	// Returned value is a copy.
	got.Name = "mutated"
	again, _ := s.Get(ctx, "m1")
	assert.Equal(t, "Corner Cafe", again.Name)

	assert.ErrorIs(t, s.Create(ctx, &Merchant{ID: "m1"}), ErrMerchantExists)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMerchantNotFound)
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"m3", "m1", "m2"} {
		require.NoError(t, s.Create(ctx, &Merchant{ID: id, Name: id}))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m1", all[0].ID)

	two, _ := s.List(ctx, 2)
	assert.Len(t, two, 2)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func setupRouter() (*gin.Engine, *MemoryStore) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/v1"))
	return r, store
}

func TestHandler_CreateMerchant_201(t *testing.T) {
	router, store := setupRouter()

	body, _ := json.Marshal(map[string]any{
		"id": "m1", "name": "Gadget Hub", "category": "electronics", "riskLevel": "high",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/merchants", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	m, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, CategoryElectronics, m.Category)
	assert.Equal(t, RiskHigh, m.RiskLevel)
}

func TestHandler_CreateMerchant_400(t *testing.T) {
	router, _ := setupRouter()

	cases := []string{
		`{"name":"no id"}`,
		`{"id":"m1","name":"x","category":"casino"}`,
		`{"id":"m1","name":"x","riskLevel":"extreme"}`,
		`{"id":"bad id","name":"x"}`,
		`{"id":"m1","name":"x","latitude":120}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/merchants", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandler_CreateMerchant_409(t *testing.T) {
	router, store := setupRouter()
	require.NoError(t, store.Create(context.Background(), &Merchant{ID: "m1", Name: "x"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/merchants", bytes.NewReader([]byte(`{"id":"m1","name":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_GetMerchant(t *testing.T) {
	router, store := setupRouter()
	require.NoError(t, store.Create(context.Background(), &Merchant{ID: "m1", Name: "Shop", Category: CategoryRetail}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/m1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Merchant Merchant `json:"merchant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CategoryRetail, resp.Merchant.Category)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
