package store

import (
	"context"
	"database/sql"

	"github.com/safar/storefront/internal/models"
)

// Postgres binds the store functions to a connection pool so services can
// depend on small interfaces instead of *sql.DB.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) CreateProduct(ctx context.Context, req CreateProductRequest) (*models.Product, error) {
	return CreateProduct(ctx, p.db, req)
}

func (p *Postgres) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, p.db, id)
}

func (p *Postgres) ListProducts(ctx context.Context) ([]models.Product, error) {
	return ListProducts(ctx, p.db)
}

func (p *Postgres) ListFeaturedProducts(ctx context.Context) ([]models.Product, error) {
	return ListFeaturedProducts(ctx, p.db)
}

func (p *Postgres) ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return ListProductsByCategory(ctx, p.db, category)
}

func (p *Postgres) ListRandomProducts(ctx context.Context, limit int) ([]models.Product, error) {
	return ListRandomProducts(ctx, p.db, limit)
}

func (p *Postgres) ToggleFeatured(ctx context.Context, id int64) (*models.Product, error) {
	return ToggleFeatured(ctx, p.db, id)
}

func (p *Postgres) DeleteProduct(ctx context.Context, id int64) (*models.Product, error) {
	return DeleteProduct(ctx, p.db, id)
}

func (p *Postgres) CreateCoupon(ctx context.Context, req CreateCouponRequest) (*models.Coupon, error) {
	return CreateCoupon(ctx, p.db, req)
}

func (p *Postgres) GetActiveCouponForUser(ctx context.Context, userID string) (*models.Coupon, error) {
	return GetActiveCouponForUser(ctx, p.db, userID)
}

func (p *Postgres) FindActiveCoupon(ctx context.Context, code, userID string) (*models.Coupon, error) {
	return FindActiveCoupon(ctx, p.db, code, userID)
}

func (p *Postgres) DeactivateCoupon(ctx context.Context, code, userID string) (bool, error) {
	return DeactivateCoupon(ctx, p.db, code, userID)
}

func (p *Postgres) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	return CreateOrder(ctx, p.db, req)
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, p.db, id)
}

func (p *Postgres) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	return GetOrderBySessionID(ctx, p.db, sessionID)
}

func (p *Postgres) ListOrdersCursor(ctx context.Context, userID, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersCursor(ctx, p.db, userID, cursor, limit)
}
