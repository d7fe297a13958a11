package ledger

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists purchases in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore applies pending migrations, then connects a pool using the DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	if err := migrateUp(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func migrateUp(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("ledger migrations applied")
	return nil
}

// migrationURL rewrites a postgres:// DSN to the scheme registered by the pgx/v5 migrate driver.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, txHash string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT payload, created_at
FROM purchases
WHERE tx_hash = $1
`, normalize(txHash))

	var (
		payload []byte
		rec     Record
	)
	if err := row.Scan(&payload, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &rec.Purchase); err != nil {
		return nil, fmt.Errorf("decode purchase %s: %w", txHash, err)
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) (bool, error) {
	payload, err := json.Marshal(record.Purchase)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO purchases (tx_hash, campaign_id, chain_id, buyer_wallet, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tx_hash) DO NOTHING
`, record.Purchase.Key(), record.Purchase.CampaignID, int64(record.Purchase.ChainID),
		strings.ToLower(record.Purchase.BuyerWallet), payload, record.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) ListByCampaign(ctx context.Context, campaignID string) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT payload, created_at
FROM purchases
WHERE campaign_id = $1
ORDER BY created_at
`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			payload []byte
			rec     Record
		)
		if err := rows.Scan(&payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &rec.Purchase); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
