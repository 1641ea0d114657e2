package merchants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists merchants in PostgreSQL. The schema lives in
// migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed merchant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, m *Merchant) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, category, risk_level, latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		m.ID, m.Name, string(m.Category), string(m.RiskLevel),
		nullFloat(m.Latitude), nullFloat(m.Longitude),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrMerchantExists
		}
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Merchant, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, category, risk_level, latitude, longitude, created_at, updated_at
		FROM merchants WHERE id = $1
	`, id)

	m, err := scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return m, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Merchant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, category, risk_level, latitude, longitude, created_at, updated_at
		FROM merchants ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMerchant(row scanner) (*Merchant, error) {
	var (
		m         Merchant
		category  string
		riskLevel string
		lat, lng  sql.NullFloat64
	)
	if err := row.Scan(&m.ID, &m.Name, &category, &riskLevel, &lat, &lng, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Category = Category(category)
	m.RiskLevel = RiskLevel(riskLevel)
	if lat.Valid {
		m.Latitude = &lat.Float64
	}
	if lng.Valid {
		m.Longitude = &lng.Float64
	}
	return &m, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
