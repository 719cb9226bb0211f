package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grass_farm/internal/remote"
	"grass_farm/internal/service/web"
	"grass_farm/internal/session"
	"grass_farm/internal/shared/config"
	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/types"
	manager "grass_farm/proxypool"
	"grass_farm/proxypool/scraper"
	"grass_farm/proxypool/storage"
	"grass_farm/proxypool/validator"
)

// App 把配置、备用仓库、探测器、远端客户端、状态服务和 Orchestrator 组装在一起。
type App struct {
	cfg *types.Config

	// 测试时可替换
	dialer remote.Dialer
	store  storage.SpareStore
}

func New(cfg *types.Config) *App {
	return &App{cfg: cfg}
}

// Run 运行一轮完整的任务，直到所有 worker 结束或 ctx 被取消。
func (a *App) Run(ctx context.Context) error {
	l := logger.WithComponent("App")
	cfg := a.cfg

	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return err
	}
	proxies, err := config.LoadProxies(cfg.ProxiesFile)
	if err != nil {
		return err
	}
	l.Info().Int("accounts", len(accounts)).Int("proxies", len(proxies)).Msg("Input files loaded.")

	store := a.store
	if store == nil {
		if store, err = storage.Open(cfg.SpareConf); err != nil {
			return err
		}
	}
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("failed to open spare store: %w", err)
	}
	defer store.Close()

	probe := validator.NewValidator(cfg.ProbeConf.URL, types.Seconds(cfg.ProbeConf.Timeout), cfg.ProbeConf.Concurrency)
	a.refillSpare(ctx, store, probe)

	dialer := a.dialer
	if dialer == nil {
		dialer = remote.NewDialer(cfg.RemoteConf, types.Seconds(cfg.ProbeConf.Timeout))
	}

	var wg sync.WaitGroup
	webCtx, stopWeb := context.WithCancel(ctx)
	defer func() {
		stopWeb()
		wg.Wait()
	}()

	hub := web.NewHub()
	board := web.NewBoard(hub)
	if err := web.NewServer(cfg.Listen, board, hub).Start(webCtx, &wg); err != nil {
		return fmt.Errorf("failed to start status server: %w", err)
	}

	orch := NewOrchestrator(Options{
		Prober:           probe,
		Spare:            store,
		Dialer:           dialer,
		Settings:         session.SettingsFromConfig(cfg),
		RegisterDelayMin: types.Seconds(cfg.RegisterDelayMin),
		RegisterDelayMax: types.Seconds(cfg.RegisterDelayMax),
		Observer:         board,
	})

	err = orch.Run(ctx, accounts, proxies, cfg.Threads)
	if errors.Is(err, context.Canceled) {
		l.Info().Msg("Shutdown requested, all workers stopped.")
		return nil
	}
	return err
}

// refillSpare 用 seed 文件和抓取源给备用仓库补货。失败只记录日志。
func (a *App) refillSpare(ctx context.Context, store storage.SpareStore, probe manager.Prober) {
	l := logger.WithComponent("App")
	mgr := manager.NewManager(store, probe)

	if a.cfg.SeedFile != "" {
		seed, err := config.LoadProxies(a.cfg.SeedFile)
		if err != nil {
			l.Warn().Err(err).Str("file", a.cfg.SeedFile).Msg("Failed to load spare seed file.")
		} else if _, err := mgr.Import(ctx, seed); err != nil {
			l.Warn().Err(err).Msg("Failed to import spare seed proxies.")
		}
	}

	for _, s := range scraper.FromSources(a.cfg.Sources) {
		mgr.AddScraper(s)
	}
	if _, err := mgr.Refill(ctx); err != nil {
		l.Warn().Err(err).Msg("Spare refill failed.")
	}

	if n, err := store.Count(ctx); err == nil {
		l.Info().Int("spare", n).Msg("Spare proxy store ready.")
	}
}
