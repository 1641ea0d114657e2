package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, COALESCE(email, ''), home_latitude, home_longitude,
	risk_score, transaction_count, avg_amount, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, home_latitude, home_longitude, risk_score,
			transaction_count, avg_amount, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
	`,
		u.ID, u.Email, nullFloat(u.HomeLatitude), nullFloat(u.HomeLongitude),
		u.RiskScore, u.TransactionCount, u.AvgAmount.StringFixed(2),
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now()
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			email = NULLIF($2, ''), home_latitude = $3, home_longitude = $4,
			risk_score = $5, transaction_count = $6, avg_amount = $7, updated_at = $8
		WHERE id = $1
	`,
		u.ID, u.Email, nullFloat(u.HomeLatitude), nullFloat(u.HomeLongitude),
		u.RiskScore, u.TransactionCount, u.AvgAmount.StringFixed(2), u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, afterID string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u        User
		lat, lng sql.NullFloat64
		avg      string
	)
	if err := row.Scan(&u.ID, &u.Email, &lat, &lng, &u.RiskScore, &u.TransactionCount, &avg, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if lat.Valid {
		u.HomeLatitude = &lat.Float64
	}
	if lng.Valid {
		u.HomeLongitude = &lng.Float64
	}
	amount, err := decimal.NewFromString(avg)
	if err != nil {
		return nil, fmt.Errorf("parse avg_amount %q: %w", avg, err)
	}
	u.AvgAmount = amount
	return &u, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
