package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grass_farm/internal/shared/logger"
	"grass_farm/proxypool/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS spare_proxies (
	id    BIGSERIAL PRIMARY KEY,
	proxy TEXT NOT NULL UNIQUE
)`

// PostgresStore 让多个进程共享同一个备用代理仓库。
// TakeOne 使用 FOR UPDATE SKIP LOCKED，并发的取用者不会拿到同一行。
type PostgresStore struct {
	dsn  string
	pool *pgxpool.Pool
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return fmt.Errorf("failed to create spare proxy schema: %w", err)
	}
	s.pool = pool
	return nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func (s *PostgresStore) TakeOne(ctx context.Context) (*model.Proxy, error) {
	const q = `
DELETE FROM spare_proxies
WHERE id = (SELECT id FROM spare_proxies ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED)
RETURNING proxy`

	for {
		var raw string
		err := s.pool.QueryRow(ctx, q).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("take spare proxy: %w", err)
		}
		p, err := model.ParseProxy(raw)
		if err != nil {
			l := logger.WithComponent("ProxyPool/Storage")
			l.Warn().Err(err).Msg("Dropping malformed spare proxy row.")
			continue
		}
		return p, nil
	}
}

func (s *PostgresStore) Push(ctx context.Context, proxies []*model.Proxy) (int, error) {
	batch := &pgx.Batch{}
	for _, p := range proxies {
		batch.Queue(`INSERT INTO spare_proxies (proxy) VALUES ($1) ON CONFLICT (proxy) DO NOTHING`, p.String())
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	added := 0
	for range proxies {
		tag, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("insert spare proxy: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spare_proxies`).Scan(&n)
	return n, err
}
