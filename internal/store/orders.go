package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

// sessionConstraint guarantees one order per payment session.
const sessionConstraint = "orders_stripe_session_id_key"

type CreateOrderRequest struct {
	UserID          string
	TotalAmount     decimal.Decimal
	StripeSessionID string
	Items           []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

// CreateOrder writes the order and its items in one transaction. A second
// order for the same payment session fails with database.ErrDuplicateSession.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order = &models.Order{
			OrderNumber:     generateOrderNumber(),
			UserID:          req.UserID,
			TotalAmount:     req.TotalAmount,
			StripeSessionID: req.StripeSessionID,
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, total_amount, stripe_session_id, created_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 RETURNING id, created_at`,
			order.OrderNumber, req.UserID, req.TotalAmount, req.StripeSessionID,
		).Scan(&order.ID, &order.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err, sessionConstraint) {
				return database.ErrDuplicateSession
			}
			return fmt.Errorf("create order: %w", err)
		}

		order.Items = make([]models.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			orderItem := models.OrderItem{
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			}
			err := tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id`,
				order.ID, item.ProductID, item.Quantity, item.UnitPrice,
			).Scan(&orderItem.ID)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
			order.Items = append(order.Items, orderItem)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db database.DBTX, id int64) (*models.Order, error) {
	return getOrderWhere(ctx, db, "id = $1", id)
}

func GetOrderBySessionID(ctx context.Context, db database.DBTX, sessionID string) (*models.Order, error) {
	return getOrderWhere(ctx, db, "stripe_session_id = $1", sessionID)
}

func getOrderWhere(ctx context.Context, db database.DBTX, where string, arg any) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, order_number, user_id, total_amount, stripe_session_id, created_at
		FROM orders
		WHERE ` + where

	err := db.QueryRowContext(ctx, query, arg).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.TotalAmount,
		&order.StripeSessionID,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := listOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func listOrderItems(ctx context.Context, db database.DBTX, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ListOrdersCursor(ctx context.Context, db database.DBTX, userID string, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	query := `
		SELECT id, order_number, user_id, total_amount, stripe_session_id, created_at
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]models.Order, 0, limit)
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.TotalAmount,
			&order.StripeSessionID,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
