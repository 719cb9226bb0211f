package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"grass_farm/internal/remote"
	"grass_farm/internal/session"
	"grass_farm/internal/shared/logger"
	"grass_farm/internal/shared/metrics"
	"grass_farm/internal/shared/types"
	"grass_farm/proxypool/model"
	"grass_farm/proxypool/registry"
)

var (
	ErrNoAccounts     = errors.New("no accounts loaded")
	ErrNoProxies      = errors.New("no proxies loaded")
	ErrNoValidProxies = errors.New("no proxies passed the reachability probe")
)

// Prober 过滤不可达的代理，返回结果保持输入顺序。
type Prober interface {
	Filter(ctx context.Context, proxies []*model.Proxy) []*model.Proxy
}

// Options 是 Orchestrator 的依赖和参数。Spare 和 Observer 可以为 nil。
type Options struct {
	Prober           Prober
	Spare            session.SpareSource
	Dialer           remote.Dialer
	Settings         session.Settings
	RegisterDelayMin time.Duration
	RegisterDelayMax time.Duration
	Observer         session.Observer
}

// Orchestrator 为每个账号启动一个 worker，并用信号量限制同时运行的数量。
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	results []session.Result
}

func NewOrchestrator(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// Run 探测代理、建立分配表、启动所有 worker 并等待它们全部结束。
// concurrency <= 0 表示不限制。只有前置条件不满足时才返回错误；
// 被 ctx 中断时在所有 worker 清理完成后返回 ctx.Err()。
func (o *Orchestrator) Run(ctx context.Context, accounts []types.Account, candidates []*model.Proxy, concurrency int) error {
	l := logger.WithComponent("App/Orchestrator")

	accounts = dedupeAccounts(accounts)
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	if len(candidates) == 0 {
		return ErrNoProxies
	}

	valid := candidates
	if o.opts.Prober != nil {
		valid = o.opts.Prober.Filter(ctx, candidates)
	}
	if len(valid) == 0 {
		return fmt.Errorf("%w (%d candidates)", ErrNoValidProxies, len(candidates))
	}

	reg := registry.New(valid)
	observer := multiObserver{&gaugeObserver{registry: reg}}
	if o.opts.Observer != nil {
		observer = append(observer, o.opts.Observer)
	}

	if concurrency <= 0 || concurrency > len(accounts) {
		concurrency = len(accounts)
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	l.Info().
		Int("accounts", len(accounts)).
		Int("proxies", reg.Len()).
		Int("concurrency", concurrency).
		Msg("Starting workers...")

	results := make([]session.Result, len(accounts))
	var wg sync.WaitGroup
	for i, acct := range accounts {
		ordinal := i + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.runOne(ctx, ordinal, acct, reg, sem, observer)
		}()
	}
	wg.Wait()
	metrics.ProxiesInUse.Set(float64(reg.InUse()))

	o.mu.Lock()
	o.results = results
	o.mu.Unlock()

	summary := make(map[string]int)
	for _, r := range results {
		summary[r.Phase.String()]++
	}
	l.Info().Interface("outcomes", summary).Int("proxies_in_use", reg.InUse()).Msg("All workers finished.")

	return ctx.Err()
}

// runOne 先按序号错开启动时间，再占用一个并发名额运行 worker。
func (o *Orchestrator) runOne(ctx context.Context, ordinal int, acct types.Account, reg *registry.Registry, sem *semaphore.Weighted, observer session.Observer) session.Result {
	delay := time.Duration(ordinal) * randomBetween(o.opts.RegisterDelayMin, o.opts.RegisterDelayMax)
	if err := sleep(ctx, delay); err != nil {
		return session.Result{Phase: session.PhaseStopped, Err: err}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return session.Result{Phase: session.PhaseStopped, Err: err}
	}
	defer sem.Release(1)

	w := session.New(ordinal, acct, reg, o.opts.Spare, o.opts.Dialer, o.opts.Settings, observer)
	return w.Run(ctx)
}

// Results returns the terminal result of each account from the last Run,
// in account order after duplicates were dropped.
func (o *Orchestrator) Results() []session.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]session.Result(nil), o.results...)
}

// dedupeAccounts 按 ID 去重，保留第一次出现的账号。同一个 ID 只能对应一个 worker，
// 否则两个 worker 会共用同一个 registry 持有者。
func dedupeAccounts(accounts []types.Account) []types.Account {
	l := logger.WithComponent("App/Orchestrator")
	seen := make(map[string]struct{}, len(accounts))
	out := make([]types.Account, 0, len(accounts))
	for _, a := range accounts {
		if _, ok := seen[a.ID]; ok {
			l.Warn().Str("email", a.Email).Msg("Duplicate account skipped.")
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
