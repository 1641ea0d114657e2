package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudscore/internal/pagination"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, user_id, merchant_id, amount, currency, latitude, longitude,
	COALESCE(device_fingerprint, ''), COALESCE(ip_address, ''),
	COALESCE(geo_country, ''), COALESCE(geo_city, ''),
	fraud_score, action, is_fraud, created_at`

func (p *PostgresStore) Record(ctx context.Context, tx *Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, merchant_id, amount, currency, latitude, longitude,
			device_fingerprint, ip_address, geo_country, geo_city,
			fraud_score, action, is_fraud, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''),
			NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
	`,
		tx.ID, tx.UserID, tx.MerchantID, tx.Amount.String(), tx.Currency,
		nullFloat(tx.Latitude), nullFloat(tx.Longitude),
		tx.DeviceFingerprint, tx.IPAddress, tx.Country, tx.City,
		tx.FraudScore, tx.Action, tx.IsFraud, tx.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrTransactionExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresStore) FindRecentByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("find recent transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Transaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+txColumns+` FROM transactions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, userID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+txColumns+` FROM transactions
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, userID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND created_at > $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent transactions: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) MarkFraud(ctx context.Context, id string, isFraud bool) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transactions SET is_fraud = $2 WHERE id = $1
		RETURNING `+txColumns, id, isFraud)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresStore) UserStats(ctx context.Context, userID string) (Stats, error) {
	var (
		st  Stats
		avg string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(ROUND(AVG(amount), 2), 0)::TEXT,
		       COUNT(*) FILTER (WHERE is_fraud),
		       COUNT(*) FILTER (WHERE action IN ('REVIEW', 'BLOCK'))
		FROM transactions WHERE user_id = $1
	`, userID).Scan(&st.Count, &avg, &st.FraudCount, &st.FlaggedCount)
	if err != nil {
		return Stats{}, fmt.Errorf("user stats: %w", err)
	}
	st.AvgAmount, err = decimal.NewFromString(avg)
	if err != nil {
		return Stats{}, fmt.Errorf("parse average %q: %w", avg, err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var (
		tx       Transaction
		amount   string
		lat, lng sql.NullFloat64
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.MerchantID, &amount, &tx.Currency, &lat, &lng,
		&tx.DeviceFingerprint, &tx.IPAddress, &tx.Country, &tx.City,
		&tx.FraudScore, &tx.Action, &tx.IsFraud, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if lat.Valid {
		tx.Latitude = &lat.Float64
	}
	if lng.Valid {
		tx.Longitude = &lng.Float64
	}
	return &tx, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
