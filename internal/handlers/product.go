package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/catalog"
	"github.com/safar/storefront/internal/models"
)

type CatalogService interface {
	FeaturedProducts(ctx context.Context) ([]models.Product, error)
	ToggleFeatured(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, in catalog.CreateProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
	RecommendedProducts(ctx context.Context) ([]models.Product, error)
}

type ProductHandler struct {
	responder
	catalog CatalogService
}

func NewProductHandler(svc CatalogService, rs responder) *ProductHandler {
	return &ProductHandler{responder: rs, catalog: svc}
}

type productsResponse struct {
	Products []models.Product `json:"products"`
}

func (h *ProductHandler) respondProducts(w http.ResponseWriter, r *http.Request, products []models.Product, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	h.respondJSON(w, http.StatusOK, productsResponse{Products: products})
}

// ListProducts handles GET /api/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	h.respondProducts(w, r, products, err)
}

// Featured handles GET /api/products/featured
func (h *ProductHandler) Featured(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.FeaturedProducts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	h.respondJSON(w, http.StatusOK, products)
}

// Recommendations handles GET /api/products/recommendations
func (h *ProductHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.RecommendedProducts(r.Context())
	h.respondProducts(w, r, products, err)
}

// ByCategory handles GET /api/products/category/{category}
func (h *ProductHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ProductsByCategory(r.Context(), chi.URLParam(r, "category"))
	h.respondProducts(w, r, products, err)
}

// GetProduct handles GET /api/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

// CreateProduct handles POST /api/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateProductInput
	if !h.decode(w, r, &in) {
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, product)
}

// ToggleFeatured handles PATCH /api/products/{id}
func (h *ProductHandler) ToggleFeatured(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := h.catalog.ToggleFeatured(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

// DeleteProduct handles DELETE /api/products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}
