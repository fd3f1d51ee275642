package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/safar/storefront/internal/apperr"
	"github.com/safar/storefront/internal/cache"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// FeaturedKey is the cache key holding the JSON-encoded featured product list.
const FeaturedKey = "featured_products"

const recommendedCount = 3

// featuredLoadTimeout bounds a shared featured load. The load is detached from
// the caller that started it, so it needs its own deadline.
const featuredLoadTimeout = 5 * time.Second

type ProductStore interface {
	CreateProduct(ctx context.Context, req store.CreateProductRequest) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListFeaturedProducts(ctx context.Context) ([]models.Product, error)
	ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
	ListRandomProducts(ctx context.Context, limit int) ([]models.Product, error)
	ToggleFeatured(ctx context.Context, id int64) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) (*models.Product, error)
}

type Service struct {
	products ProductStore
	cache    cache.Cache
	log      *slog.Logger
	loads    singleflight.Group

	// writeMu orders writes of the featured key. gen counts refreshes so a
	// miss loader can tell its snapshot was superseded while it was reading.
	writeMu sync.Mutex
	gen     uint64
}

func NewService(products ProductStore, c cache.Cache, log *slog.Logger) *Service {
	return &Service{products: products, cache: c, log: log}
}

// FeaturedProducts serves the featured list from cache, falling through to the
// store on a miss. Concurrent misses share a single store query.
func (s *Service) FeaturedProducts(ctx context.Context) ([]models.Product, error) {
	if raw, ok := s.cache.Get(ctx, FeaturedKey); ok {
		var products []models.Product
		if err := json.Unmarshal([]byte(raw), &products); err == nil {
			return products, nil
		}
		s.log.WarnContext(ctx, "discarding undecodable featured cache entry")
	}

	ch := s.loads.DoChan(FeaturedKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), featuredLoadTimeout)
		defer cancel()
		return s.loadFeatured(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Internal("catalog.FeaturedProducts", "Failed to load featured products", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, apperr.Internal("catalog.FeaturedProducts", "Failed to load featured products", res.Err)
		}
		return res.Val.([]models.Product), nil
	}
}

// loadFeatured reads the featured list and caches it unless a refresh ran in
// the meantime, in which case the refresh's newer snapshot is kept.
func (s *Service) loadFeatured(ctx context.Context) ([]models.Product, error) {
	s.writeMu.Lock()
	start := s.gen
	s.writeMu.Unlock()

	products, err := s.products.ListFeaturedProducts(ctx)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.gen == start {
		s.storeFeatured(ctx, products)
	}
	return products, nil
}

// RefreshFeatured recomputes the featured snapshot and overwrites the cache
// entry. If the store cannot be read the entry is dropped so readers fall
// through instead of seeing a stale list.
func (s *Service) RefreshFeatured(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.gen++

	products, err := s.products.ListFeaturedProducts(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to refresh featured cache", "error", err)
		s.cache.Del(ctx, FeaturedKey)
		return
	}
	s.storeFeatured(ctx, products)
}

func (s *Service) storeFeatured(ctx context.Context, products []models.Product) {
	data, err := json.Marshal(products)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to encode featured products", "error", err)
		return
	}
	s.cache.Set(ctx, FeaturedKey, string(data))
}

func (s *Service) ToggleFeatured(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.products.ToggleFeatured(ctx, id)
	if err != nil {
		return nil, translate("catalog.ToggleFeatured", err)
	}

	s.RefreshFeatured(ctx)
	s.log.InfoContext(ctx, "product featured flag toggled", "product_id", id, "is_featured", product.IsFeatured)
	return product, nil
}

type CreateProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
}

func (in CreateProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperr.Validation("catalog.CreateProduct", "Product name is required")
	case strings.TrimSpace(in.Category) == "":
		return apperr.Validation("catalog.CreateProduct", "Product category is required")
	case !in.Price.IsPositive():
		return apperr.Validation("catalog.CreateProduct", "Product price must be positive")
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product, err := s.products.CreateProduct(ctx, store.CreateProductRequest{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price.Round(2),
		Image:       in.Image,
		Category:    strings.TrimSpace(in.Category),
	})
	if err != nil {
		return nil, translate("catalog.CreateProduct", err)
	}
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	product, err := s.products.DeleteProduct(ctx, id)
	if err != nil {
		return translate("catalog.DeleteProduct", err)
	}
	if product.IsFeatured {
		s.RefreshFeatured(ctx)
	}
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, translate("catalog.GetProduct", err)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, translate("catalog.ListProducts", err)
	}
	return products, nil
}

func (s *Service) ProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, apperr.Validation("catalog.ProductsByCategory", "Category is required")
	}

	products, err := s.products.ListProductsByCategory(ctx, category)
	if err != nil {
		return nil, translate("catalog.ProductsByCategory", err)
	}
	return products, nil
}

func (s *Service) RecommendedProducts(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.ListRandomProducts(ctx, recommendedCount)
	if err != nil {
		return nil, translate("catalog.RecommendedProducts", err)
	}
	return products, nil
}

func translate(op string, err error) error {
	if errors.Is(err, database.ErrProductNotFound) {
		return apperr.NotFound(op, "Product not found", err)
	}
	return apperr.Internal(op, "Internal server error", fmt.Errorf("%s: %w", op, err))
}
