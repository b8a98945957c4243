package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListCartRows(ctx context.Context, userID string) ([]domain.CartRow, error) {
	query := `SELECT id, user_id, product_id, quantity, created_at
	          FROM cart_items WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart rows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CartRow, 0)
	for rows.Next() {
		var row domain.CartRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.ProductID, &row.Quantity, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) InsertCartRow(ctx context.Context, userID, productID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}

	id := uuid.NewString()
	query := `INSERT INTO cart_items (id, user_id, product_id, quantity, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, id, userID, productID, quantity, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert cart row: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) UpdateCartRowQuantity(ctx context.Context, userID, rowID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	query := `UPDATE cart_items SET quantity = $1 WHERE id = $2 AND user_id = $3`
	result, err := r.db.ExecContext(ctx, query, quantity, rowID, userID)
	if err != nil {
		return fmt.Errorf("update cart row quantity: %w", err)
	}
	return expectAffected(result)
}

func (r *PostgresRepository) DeleteCartRow(ctx context.Context, userID, rowID string) error {
	query := `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, rowID, userID)
	if err != nil {
		return fmt.Errorf("delete cart row: %w", err)
	}
	return expectAffected(result)
}

func (r *PostgresRepository) DeleteAllCartRows(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart rows: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertPurchaseRecord(ctx context.Context, record domain.PurchaseRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `INSERT INTO purchase_history (id, checkout_id, user_id, product_id, quantity, total_price, purchase_date)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.CheckoutID,
		record.UserID,
		record.ProductID,
		record.Quantity,
		record.TotalPrice,
		record.PurchaseDate)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePurchase
		}
		return fmt.Errorf("insert purchase record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListPurchaseRecords(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	query := `SELECT id, checkout_id, user_id, product_id, quantity, total_price, purchase_date
	          FROM purchase_history WHERE user_id = $1 ORDER BY purchase_date DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query purchase records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.PurchaseRecord, 0)
	for rows.Next() {
		var rec domain.PurchaseRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.CheckoutID,
			&rec.UserID,
			&rec.ProductID,
			&rec.Quantity,
			&rec.TotalPrice,
			&rec.PurchaseDate,
		); err != nil {
			return nil, fmt.Errorf("scan purchase record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) Close(context.Context) error {
	return r.db.Close()
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRowNotFound
	}
	return nil
}
