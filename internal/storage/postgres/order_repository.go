package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, product_id, buyer_id, seller_id, quantity, total_minor, fee_minor,
	status, delivery_address, tracking_ref, dispute_reason, version,
	created_at, delivered_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			product_id, buyer_id, seller_id, quantity, total_minor, fee_minor,
			status, delivery_address, tracking_ref, dispute_reason, version,
			created_at, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`,
		order.ProductID, order.BuyerID, order.SellerID, order.Quantity,
		order.TotalMinor, order.FeeMinor, string(order.Status),
		order.DeliveryAddress, order.TrackingRef, order.DisputeReason,
		order.Version, order.CreatedAt, order.DeliveredAt,
	).Scan(&order.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrVersionConflict
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) Get(id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.listByParty("buyer_id", buyerID, limit)
}

func (r *orderRepository) ListBySeller(sellerID string, limit int) ([]domain.Order, error) {
	return r.listByParty("seller_id", sellerID, limit)
}

func (r *orderRepository) ListOpen() ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	openStatuses := []string{
		string(domain.OrderStatusPending),
		string(domain.OrderStatusConfirmed),
		string(domain.OrderStatusShipped),
		string(domain.OrderStatusDisputed),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ANY($1)
		ORDER BY id ASC
	`, "{"+strings.Join(openStatuses, ",")+"}")
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderRepository) listByParty(column, party string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ` + column + ` = $1
		ORDER BY id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", party, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, party)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    tracking_ref = $2,
		    dispute_reason = $3,
		    delivered_at = $4,
		    version = version + 1
		WHERE id = $5
		  AND version = $6
	`,
		string(order.Status),
		order.TrackingRef,
		order.DisputeReason,
		order.DeliveredAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID int64) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.ProductID, &order.BuyerID, &order.SellerID,
		&order.Quantity, &order.TotalMinor, &order.FeeMinor, &status,
		&order.DeliveryAddress, &order.TrackingRef, &order.DisputeReason,
		&order.Version, &order.CreatedAt, &order.DeliveredAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
