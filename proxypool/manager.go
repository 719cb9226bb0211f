package manager

import (
	"context"
	"sync"

	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/metrics"
	"grass_farm/proxypool/model"
	"grass_farm/proxypool/scraper"
	"grass_farm/proxypool/storage"
)

// Prober 检测一批代理，按输入顺序返回可用的部分。
type Prober interface {
	Filter(ctx context.Context, proxies []*model.Proxy) []*model.Proxy
}

// Manager 负责给备用代理仓库补货：抓取 -> 检测 -> 写入仓库。
type Manager struct {
	storage  storage.SpareStore
	scrapers []scraper.Scraper
	prober   Prober
}

// NewManager 创建备用代理补货管理器。prober 为 nil 时不做检测直接入库。
func NewManager(store storage.SpareStore, prober Prober) *Manager {
	return &Manager{
		storage: store,
		prober:  prober,
	}
}

// AddScraper 添加一个抓取器到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

// Import 检测并写入给定代理，返回新增数量。
func (m *Manager) Import(ctx context.Context, proxies []*model.Proxy) (int, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	if len(proxies) == 0 {
		return 0, nil
	}

	if m.prober != nil {
		proxies = m.prober.Filter(ctx, proxies)
	}
	if len(proxies) == 0 {
		l.Info().Msg("No usable proxies to import.")
		return 0, nil
	}

	added, err := m.storage.Push(ctx, proxies)
	if err != nil {
		return added, err
	}
	metrics.SpareImportedTotal.Add(float64(added))
	l.Info().Int("offered", len(proxies)).Int("added", added).Msg("Spare proxies imported.")
	return added, nil
}

// Refill 并发运行所有抓取器，把结果去重、检测后写入仓库。
// 单个抓取器失败只记录日志。
func (m *Manager) Refill(ctx context.Context) (int, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	if len(m.scrapers) == 0 {
		return 0, nil
	}
	l.Info().Int("scrapers", len(m.scrapers)).Msg("Starting spare proxy refill...")

	var wg sync.WaitGroup
	scrapedChan := make(chan []*model.Proxy, len(m.scrapers))

	for _, s := range m.scrapers {
		wg.Add(1)
		go func(sc scraper.Scraper) {
			defer wg.Done()
			proxies, err := sc.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed.")
				return
			}
			if len(proxies) > 0 {
				scrapedChan <- proxies
			}
		}(s)
	}

	wg.Wait()
	close(scrapedChan)

	seen := make(map[string]struct{})
	var candidates []*model.Proxy
	for proxies := range scrapedChan {
		for _, p := range proxies {
			if _, ok := seen[p.String()]; ok {
				continue
			}
			seen[p.String()] = struct{}{}
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		l.Info().Msg("No proxies found in this refill.")
		return 0, nil
	}
	return m.Import(ctx, candidates)
}
