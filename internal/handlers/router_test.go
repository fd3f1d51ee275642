package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/catalog"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/middleware"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckout struct {
	createSession func(userID string, req checkout.CreateSessionRequest) (*checkout.SessionResult, error)
	finalize      func(sessionID string) (*checkout.FinalizeResult, error)
	finalized     []string
}

func (f *fakeCheckout) CreateSession(_ context.Context, userID string, req checkout.CreateSessionRequest) (*checkout.SessionResult, error) {
	return f.createSession(userID, req)
}

func (f *fakeCheckout) FinalizeSession(_ context.Context, sessionID string) (*checkout.FinalizeResult, error) {
	f.finalized = append(f.finalized, sessionID)
	return f.finalize(sessionID)
}

// FinalizeOwnSession treats every known session as belonging to user-1.
func (f *fakeCheckout) FinalizeOwnSession(ctx context.Context, userID, sessionID string) (*checkout.FinalizeResult, error) {
	if userID != "user-1" {
		return nil, apperr.NotFound("checkout.FinalizeOwnSession", "Checkout session not found", nil)
	}
	return f.FinalizeSession(ctx, sessionID)
}

func (f *fakeCheckout) ActiveCoupon(_ context.Context, userID string) (*models.Coupon, error) {
	if userID == "with-coupon" {
		return &models.Coupon{Code: "GIFTAAAAAA", DiscountPercentage: 10, UserID: userID, IsActive: true}, nil
	}
	return nil, apperr.NotFound("test", "No active coupon found", nil)
}

func (f *fakeCheckout) ValidateCoupon(_ context.Context, userID, code string) (*models.Coupon, error) {
	if code == "GIFTAAAAAA" {
		return &models.Coupon{Code: code, DiscountPercentage: 10, UserID: userID, IsActive: true}, nil
	}
	return nil, apperr.NotFound("test", "Coupon not found", nil)
}

type fakeCatalog struct {
	products []models.Product
	toggled  []int64
}

func (f *fakeCatalog) FeaturedProducts(context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		if p.IsFeatured {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ToggleFeatured(_ context.Context, id int64) (*models.Product, error) {
	f.toggled = append(f.toggled, id)
	for i := range f.products {
		if f.products[i].ID == id {
			f.products[i].IsFeatured = !f.products[i].IsFeatured
			p := f.products[i]
			return &p, nil
		}
	}
	return nil, apperr.NotFound("test", "Product not found", database.ErrProductNotFound)
}

func (f *fakeCatalog) CreateProduct(_ context.Context, in catalog.CreateProductInput) (*models.Product, error) {
	if in.Name == "" {
		return nil, apperr.Validation("test", "Product name is required")
	}
	return &models.Product{ID: 99, Name: in.Name, Price: in.Price, Category: in.Category}, nil
}

func (f *fakeCatalog) DeleteProduct(context.Context, int64) error { return nil }

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("test", "Product not found", database.ErrProductNotFound)
}

func (f *fakeCatalog) ListProducts(context.Context) ([]models.Product, error) { return f.products, nil }

func (f *fakeCatalog) ProductsByCategory(context.Context, string) ([]models.Product, error) {
	return nil, nil
}

func (f *fakeCatalog) RecommendedProducts(context.Context) ([]models.Product, error) {
	return f.products, nil
}

type fakeOrders struct {
	orders map[int64]*models.Order
}

func (f *fakeOrders) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) ListOrdersCursor(_ context.Context, userID, cursor string, limit int) (*store.CursorPage, error) {
	if cursor == "garbage" {
		return nil, store.ErrInvalidCursor
	}
	page := &store.CursorPage{}
	for _, o := range f.orders {
		if o.UserID == userID && len(page.Items) < limit {
			page.Items = append(page.Items, *o)
		}
	}
	return page, nil
}

type fakeVerifier struct {
	event payment.WebhookEvent
}

func (f fakeVerifier) Verify(_ []byte, signature string) (payment.WebhookEvent, error) {
	if signature != "good" {
		return payment.WebhookEvent{}, payment.ErrInvalidSignature
	}
	return f.event, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	handler  http.Handler
	checkout *fakeCheckout
	catalog  *fakeCatalog
}

func newTestServer(t *testing.T, mutate func(*Services, *RouterConfig)) *testServer {
	t.Helper()

	co := &fakeCheckout{
		createSession: func(userID string, req checkout.CreateSessionRequest) (*checkout.SessionResult, error) {
			if len(req.Products) == 0 {
				return nil, apperr.Validation("checkout.CreateSession", "Invalid or empty products array")
			}
			return &checkout.SessionResult{
				ID:          "cs_test_1",
				URL:         "https://checkout.example/cs_test_1",
				TotalAmount: decimal.New(checkout.TotalMinor(req.Products), -2),
			}, nil
		},
		finalize: func(sessionID string) (*checkout.FinalizeResult, error) {
			switch sessionID {
			case "cs_paid":
				return &checkout.FinalizeResult{Success: true, OrderID: 42, Message: "ok"}, nil
			case "cs_unpaid":
				return &checkout.FinalizeResult{Success: false, Message: "Payment not completed"}, nil
			default:
				return nil, apperr.Gateway("payment.RetrieveSession", "No such checkout.session", errors.New("stripe 404"))
			}
		},
	}
	cat := &fakeCatalog{products: []models.Product{
		{ID: 1, Name: "Mug", Price: decimal.RequireFromString("12.50"), Category: "kitchen", IsFeatured: true},
		{ID: 2, Name: "Tee", Price: decimal.RequireFromString("20"), Category: "apparel"},
	}}

	svc := Services{
		Checkout: co,
		Catalog:  cat,
		Orders: &fakeOrders{orders: map[int64]*models.Order{
			1: {ID: 1, OrderNumber: "ORD-1", UserID: "user-1", TotalAmount: decimal.NewFromInt(10)},
			2: {ID: 2, OrderNumber: "ORD-2", UserID: "user-2", TotalAmount: decimal.NewFromInt(20)},
		}},
		Webhooks: fakeVerifier{event: payment.WebhookEvent{ID: "evt_1", Type: payment.EventCheckoutCompleted, SessionID: "cs_paid"}},
		DB:       fakePinger{},
	}
	cfg := RouterConfig{AllowedOrigins: []string{"http://localhost:5173"}, ShowErrorDetails: true}
	if mutate != nil {
		mutate(&svc, &cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testServer{handler: NewRouter(svc, cfg, log), checkout: co, catalog: cat}
}

type requestOpts struct {
	userID string
	role   string
	header map[string]string
}

func (s *testServer) do(t *testing.T, method, path, body string, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if opts.userID != "" {
		req.Header.Set(middleware.HeaderUserID, opts.userID)
	}
	if opts.role != "" {
		req.Header.Set(middleware.HeaderUserRole, opts.role)
	}
	for k, v := range opts.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var customer = requestOpts{userID: "user-1", role: "customer"}
var admin = requestOpts{userID: "admin-1", role: "admin"}

func TestCreateCheckoutSession(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"products":[{"id":1,"name":"A","price":100,"quantity":1},{"id":2,"name":"B","price":"50.50","quantity":2}]}`

	rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", body, customer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"totalAmount":201.00`)

	out := decodeBody(t, rec)
	assert.Equal(t, "cs_test_1", out["id"])
	assert.Equal(t, "https://checkout.example/cs_test_1", out["url"])
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	t.Run("no identity", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":[]}`, requestOpts{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":`, customer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid request body", decodeBody(t, rec)["error"])
	})

	t.Run("empty cart with details", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":[]}`, customer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		out := decodeBody(t, rec)
		assert.Equal(t, "Invalid or empty products array", out["error"])
		assert.Contains(t, out["details"], "checkout.CreateSession")
	})

	t.Run("empty cart in production hides details", func(t *testing.T) {
		srv := newTestServer(t, func(_ *Services, cfg *RouterConfig) { cfg.ShowErrorDetails = false })
		rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":[]}`, customer)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotContains(t, decodeBody(t, rec), "details")
	})

	t.Run("api key enforced when configured", func(t *testing.T) {
		srv := newTestServer(t, func(_ *Services, cfg *RouterConfig) {
			cfg.Auth = config.AuthConfig{APIKeys: []string{"k1"}}
		})
		rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":[]}`, customer)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		withKey := customer
		withKey.header = map[string]string{"api_key": "k1"}
		rec = srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", `{"products":[]}`, withKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckoutSuccess(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-success", `{"sessionId":"cs_paid"}`, customer)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(42), out["orderId"])

	rec = srv.do(t, http.MethodPost, "/api/payments/create-checkout-success", `{"sessionId":"cs_unpaid"}`, customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])

	rec = srv.do(t, http.MethodPost, "/api/payments/create-checkout-success", `{"sessionId":"cs_missing"}`, customer)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "No such checkout.session", decodeBody(t, rec)["error"])
}

func TestCheckoutSuccessForAnotherUsersSession(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-success", `{"sessionId":"cs_paid"}`,
		requestOpts{userID: "user-2", role: "customer"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Checkout session not found", decodeBody(t, rec)["error"])
	assert.Empty(t, srv.checkout.finalized)

	rec = srv.do(t, http.MethodPost, "/api/payments/create-checkout-success", `{"sessionId":"cs_paid"}`, requestOpts{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, srv.checkout.finalized)
}

func TestWebhook(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/payments/webhook", `{}`, requestOpts{header: map[string]string{"Stripe-Signature": "bad"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, srv.checkout.finalized)
	})

	t.Run("completed session is finalized", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/payments/webhook", `{}`, requestOpts{header: map[string]string{"Stripe-Signature": "good"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"cs_paid"}, srv.checkout.finalized)
	})

	t.Run("other events are acknowledged", func(t *testing.T) {
		srv := newTestServer(t, func(s *Services, _ *RouterConfig) {
			s.Webhooks = fakeVerifier{event: payment.WebhookEvent{ID: "evt_2", Type: "invoice.paid"}}
		})
		rec := srv.do(t, http.MethodPost, "/api/payments/webhook", `{}`, requestOpts{header: map[string]string{"Stripe-Signature": "good"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, srv.checkout.finalized)
	})

	t.Run("finalization fault asks for redelivery", func(t *testing.T) {
		srv := newTestServer(t, func(s *Services, _ *RouterConfig) {
			s.Webhooks = fakeVerifier{event: payment.WebhookEvent{ID: "evt_3", Type: payment.EventCheckoutCompleted, SessionID: "cs_missing"}}
		})
		rec := srv.do(t, http.MethodPost, "/api/payments/webhook", `{}`, requestOpts{header: map[string]string{"Stripe-Signature": "good"}})
		assert.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)
	})
}

func TestProductRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/products/featured", "", requestOpts{})
	require.Equal(t, http.StatusOK, rec.Code)
	var featured []models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &featured))
	require.Len(t, featured, 1)
	assert.Equal(t, "Mug", featured[0].Name)

	rec = srv.do(t, http.MethodGet, "/api/products/2", "", requestOpts{})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/products/404", "", requestOpts{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/products/abc", "", requestOpts{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/products/category/kitchen", "", requestOpts{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":[]}`, rec.Body.String())
}

func TestAdminProductRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		opts   requestOpts
		want   int
	}{
		{name: "list anonymous", method: http.MethodGet, path: "/api/products", opts: requestOpts{}, want: http.StatusUnauthorized},
		{name: "list customer", method: http.MethodGet, path: "/api/products", opts: customer, want: http.StatusForbidden},
		{name: "list admin", method: http.MethodGet, path: "/api/products", opts: admin, want: http.StatusOK},
		{name: "create admin", method: http.MethodPost, path: "/api/products", body: `{"name":"Cap","price":"9.99","category":"apparel"}`, opts: admin, want: http.StatusCreated},
		{name: "create invalid", method: http.MethodPost, path: "/api/products", body: `{"price":"9.99"}`, opts: admin, want: http.StatusBadRequest},
		{name: "toggle admin", method: http.MethodPatch, path: "/api/products/2", opts: admin, want: http.StatusOK},
		{name: "toggle missing", method: http.MethodPatch, path: "/api/products/77", opts: admin, want: http.StatusNotFound},
		{name: "toggle customer", method: http.MethodPatch, path: "/api/products/2", opts: customer, want: http.StatusForbidden},
		{name: "delete admin", method: http.MethodDelete, path: "/api/products/2", opts: admin, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec := srv.do(t, tt.method, tt.path, tt.body, tt.opts)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCouponRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/coupons", "", customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/coupons", "", requestOpts{userID: "with-coupon"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GIFTAAAAAA", decodeBody(t, rec)["code"])

	rec = srv.do(t, http.MethodPost, "/api/coupons/validate", `{"code":" GIFTAAAAAA "}`, customer)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "Coupon is valid", out["message"])
	assert.Equal(t, float64(10), out["discountPercentage"])

	rec = srv.do(t, http.MethodPost, "/api/coupons/validate", `{"code":"NOPE"}`, customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/api/orders", "", customer)
	require.Equal(t, http.StatusOK, rec.Code)
	var page store.CursorPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ORD-1", page.Items[0].OrderNumber)

	rec = srv.do(t, http.MethodGet, "/api/orders?cursor=garbage", "", customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/orders?limit=0", "", customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/orders/1", "", customer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/orders/2", "", customer)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another user's order is hidden")

	rec = srv.do(t, http.MethodGet, "/api/orders/3", "", customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := srv.do(t, http.MethodGet, "/health", "", requestOpts{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	srv = newTestServer(t, func(s *Services, _ *RouterConfig) { s.DB = fakePinger{err: errors.New("refused")} })
	rec = srv.do(t, http.MethodGet, "/health", "", requestOpts{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", decodeBody(t, rec)["database"])
}

func TestBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, nil)
	big := `{"products":[` + strings.Repeat(" ", maxBodyBytes+1) + `]}`
	rec := srv.do(t, http.MethodPost, "/api/payments/create-checkout-session", big, customer)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
