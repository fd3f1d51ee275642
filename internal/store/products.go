package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, price, image, category, is_featured, created_at, updated_at`

type CreateProductRequest struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Image       string
	Category    string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Image,
		&product.Category,
		&product.IsFeatured,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func queryProducts(ctx context.Context, db database.DBTX, query string, args ...any) ([]models.Product, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func CreateProduct(ctx context.Context, db database.DBTX, req CreateProductRequest) (*models.Product, error) {
	query := `
		INSERT INTO products (name, description, price, image, category, is_featured, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query,
		req.Name, req.Description, req.Price, req.Image, req.Category))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db database.DBTX, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func ListProducts(ctx context.Context, db database.DBTX) ([]models.Product, error) {
	products, err := queryProducts(ctx, db,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func ListFeaturedProducts(ctx context.Context, db database.DBTX) ([]models.Product, error) {
	products, err := queryProducts(ctx, db,
		`SELECT `+productColumns+` FROM products WHERE is_featured ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list featured products: %w", err)
	}
	return products, nil
}

// ListProductsByCategory matches category as a case-insensitive substring.
// LIKE metacharacters in the input are escaped so it is matched literally.
func ListProductsByCategory(ctx context.Context, db database.DBTX, category string) ([]models.Product, error) {
	pattern := "%" + escapeLike(category) + "%"

	products, err := queryProducts(ctx, db,
		`SELECT `+productColumns+` FROM products WHERE category ILIKE $1 ESCAPE '\' ORDER BY id`,
		pattern)
	if err != nil {
		return nil, fmt.Errorf("list products by category: %w", err)
	}
	return products, nil
}

func ListRandomProducts(ctx context.Context, db database.DBTX, limit int) ([]models.Product, error) {
	products, err := queryProducts(ctx, db,
		`SELECT `+productColumns+` FROM products ORDER BY random() LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list random products: %w", err)
	}
	return products, nil
}

// ToggleFeatured flips is_featured in a single statement so concurrent toggles
// never lose an update.
func ToggleFeatured(ctx context.Context, db database.DBTX, id int64) (*models.Product, error) {
	query := `
		UPDATE products
		SET is_featured = NOT is_featured,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("toggle featured: %w", err)
	}

	return product, nil
}

func DeleteProduct(ctx context.Context, db database.DBTX, id int64) (*models.Product, error) {
	query := `DELETE FROM products WHERE id = $1 RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("delete product: %w", err)
	}

	return product, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
