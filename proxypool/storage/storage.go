package storage

import (
	"context"
	"errors"
	"fmt"

	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
)

// ErrEmpty 表示备用代理仓库中已没有可用代理。
var ErrEmpty = errors.New("spare proxy store is empty")

// SpareStore 是备用代理的持久化仓库。TakeOne 是破坏性读取：
// 返回的代理会从仓库中移除，不会再交给任何人。
type SpareStore interface {
	Connect(ctx context.Context) error
	Close() error
	TakeOne(ctx context.Context) (*model.Proxy, error)
	Push(ctx context.Context, proxies []*model.Proxy) (int, error)
	Count(ctx context.Context) (int, error)
}

// Open 根据配置选择仓库实现，返回的仓库尚未 Connect。
func Open(cfg types.SpareConf) (SpareStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "proxy_database.db"
		}
		return NewSQLiteStore(path), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("spare backend postgres requires a dsn")
		}
		return NewPostgresStore(cfg.DSN), nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("spare backend file requires a path")
		}
		return NewFileStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown spare backend %q", cfg.Backend)
	}
}
