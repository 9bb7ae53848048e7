package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

const productColumns = `
	id, producer_id, name, description, image_ref, category, location,
	is_organic, price_minor, quantity, remaining_quantity, active, version,
	created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (
			producer_id, name, description, image_ref, category, location,
			is_organic, price_minor, quantity, remaining_quantity, active,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`,
		product.ProducerID, product.Name, product.Description, product.ImageRef,
		product.Category, product.Location, product.IsOrganic, product.PriceMinor,
		product.Quantity, product.RemainingQuantity, product.Active,
		product.Version, product.CreatedAt, product.UpdatedAt,
	).Scan(&product.ID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}

	return product, nil
}

func (r *productRepository) Get(id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) ListByProducer(producerID string) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE producer_id = $1
		ORDER BY id ASC
	`, producerID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

func (r *productRepository) Save(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1,
		    description = $2,
		    image_ref = $3,
		    category = $4,
		    location = $5,
		    is_organic = $6,
		    price_minor = $7,
		    quantity = $8,
		    remaining_quantity = $9,
		    active = $10,
		    version = version + 1,
		    updated_at = $11
		WHERE id = $12
		  AND version = $13
	`,
		product.Name, product.Description, product.ImageRef, product.Category,
		product.Location, product.IsOrganic, product.PriceMinor, product.Quantity,
		product.RemainingQuantity, product.Active, product.UpdatedAt,
		product.ID, product.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.productExists(ctx, product.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *productRepository) productExists(ctx context.Context, productID int64) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID, &product.ProducerID, &product.Name, &product.Description,
		&product.ImageRef, &product.Category, &product.Location, &product.IsOrganic,
		&product.PriceMinor, &product.Quantity, &product.RemainingQuantity,
		&product.Active, &product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
