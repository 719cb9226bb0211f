package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"grass_farm/internal/shared/logger"
	"grass_farm/proxypool/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS spare_proxies (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	proxy TEXT NOT NULL UNIQUE
);`

// SQLiteStore 是默认的备用代理仓库，数据保存在本地 sqlite 文件中。
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open spare proxy DB: %w", err)
	}
	// 单连接：TakeOne 的读-删在同一连接上串行执行
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		l := logger.WithComponent("ProxyPool/Storage")
		l.Warn().Err(err).Msg("Failed to set PRAGMA journal_mode = WAL.")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create spare proxy schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("spare proxy DB ping failed: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// TakeOne 在一个事务中取出并删除最早写入的代理。
func (s *SQLiteStore) TakeOne(ctx context.Context) (*model.Proxy, error) {
	for {
		raw, err := s.popRaw(ctx)
		if err != nil {
			return nil, err
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

func (s *SQLiteStore) popRaw(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var (
		id  int64
		raw string
	)
	err = tx.QueryRowContext(ctx, `SELECT id, proxy FROM spare_proxies ORDER BY id LIMIT 1`).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("select spare proxy: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spare_proxies WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("delete spare proxy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return raw, nil
}

// Push 写入代理，已存在的跳过，返回实际新增的数量。
func (s *SQLiteStore) Push(ctx context.Context, proxies []*model.Proxy) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO spare_proxies (proxy) VALUES (?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, p := range proxies {
		res, err := stmt.ExecContext(ctx, p.String())
		if err != nil {
			return 0, fmt.Errorf("insert spare proxy: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spare_proxies`).Scan(&n)
	return n, err
}
